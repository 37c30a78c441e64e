package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Onboarding assembles the payloads a freshly identified session receives: the user, every guild the user belongs to
// as a full aggregate, and the user's read markers. It reads across tables directly instead of going through the
// per-entity repositories so each snapshot is a handful of queries rather than one per guild.
type Onboarding struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewOnboarding creates the onboarding read model.
func NewOnboarding(db *pgxpool.Pool, logger zerolog.Logger) *Onboarding {
	return &Onboarding{db: db, log: logger}
}

// FetchUser returns the wire representation of the given user.
func (o *Onboarding) FetchUser(ctx context.Context, userID snowflake.ID) (*event.User, error) {
	var u event.User
	err := o.db.QueryRow(ctx,
		`SELECT id, username, display_name, created_at FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query onboarding user: %w", err)
	}
	return &u, nil
}

// GuildsFull returns one full aggregate per guild the user belongs to: the guild row plus all of its members and
// channels.
func (o *Onboarding) GuildsFull(ctx context.Context, userID snowflake.ID) ([]event.GuildCreateData, error) {
	rows, err := o.db.Query(ctx,
		`SELECT g.id, g.name, g.owner_id, g.created_at
		 FROM guilds g
		 JOIN members m ON m.guild_id = g.id
		 WHERE m.user_id = $1
		 ORDER BY g.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query onboarding guilds: %w", err)
	}
	defer rows.Close()

	var guilds []event.GuildCreateData
	index := make(map[snowflake.ID]int)
	for rows.Next() {
		var g event.Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan onboarding guild: %w", err)
		}
		index[g.ID] = len(guilds)
		guilds = append(guilds, event.GuildCreateData{Guild: g})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate onboarding guilds: %w", err)
	}
	if len(guilds) == 0 {
		return nil, nil
	}

	if err := o.attachMembers(ctx, userID, guilds, index); err != nil {
		return nil, err
	}
	if err := o.attachChannels(ctx, userID, guilds, index); err != nil {
		return nil, err
	}
	return guilds, nil
}

// attachMembers loads the member lists for every guild the user belongs to in a single query.
func (o *Onboarding) attachMembers(ctx context.Context, userID snowflake.ID, guilds []event.GuildCreateData, index map[snowflake.ID]int) error {
	rows, err := o.db.Query(ctx,
		`SELECT m.user_id, m.guild_id, u.username, u.display_name, m.nickname, m.joined_at
		 FROM members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.guild_id IN (SELECT guild_id FROM members WHERE user_id = $1)
		 ORDER BY m.guild_id, m.joined_at`, userID,
	)
	if err != nil {
		return fmt.Errorf("query onboarding members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m event.Member
		if err := rows.Scan(&m.UserID, &m.GuildID, &m.Username, &m.DisplayName, &m.Nickname, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan onboarding member: %w", err)
		}
		if i, ok := index[m.GuildID]; ok {
			guilds[i].Members = append(guilds[i].Members, m)
		}
	}
	return rows.Err()
}

// attachChannels loads the channel lists for every guild the user belongs to in a single query.
func (o *Onboarding) attachChannels(ctx context.Context, userID snowflake.ID, guilds []event.GuildCreateData, index map[snowflake.ID]int) error {
	rows, err := o.db.Query(ctx,
		`SELECT c.id, c.guild_id, c.name, c.topic
		 FROM channels c
		 WHERE c.guild_id IN (SELECT guild_id FROM members WHERE user_id = $1)
		 ORDER BY c.guild_id, c.id`, userID,
	)
	if err != nil {
		return fmt.Errorf("query onboarding channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c event.Channel
		if err := rows.Scan(&c.ID, &c.GuildID, &c.Name, &c.Topic); err != nil {
			return fmt.Errorf("scan onboarding channel: %w", err)
		}
		if i, ok := index[c.GuildID]; ok {
			guilds[i].Channels = append(guilds[i].Channels, c)
		}
	}
	return rows.Err()
}

// ReadStates returns the user's read marker for every channel visible to them, alongside each channel's newest
// message so clients can derive unread counts.
func (o *Onboarding) ReadStates(ctx context.Context, userID snowflake.ID) ([]event.ReadState, error) {
	rows, err := o.db.Query(ctx,
		`SELECT c.id,
		        COALESCE(rs.last_read_message_id, 0),
		        COALESCE((SELECT MAX(id) FROM messages WHERE channel_id = c.id), 0)
		 FROM channels c
		 JOIN members m ON m.guild_id = c.guild_id AND m.user_id = $1
		 LEFT JOIN read_states rs ON rs.channel_id = c.id AND rs.user_id = $1
		 ORDER BY c.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query read states: %w", err)
	}
	defer rows.Close()

	var states []event.ReadState
	for rows.Next() {
		var s event.ReadState
		if err := rows.Scan(&s.ChannelID, &s.LastReadMessageID, &s.LastMessageID); err != nil {
			return nil, fmt.Errorf("scan read state: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read states: %w", err)
	}
	return states, nil
}

// MarkRead records that the user has read up to the given message in a channel. Older acknowledgements never move the
// marker backwards.
func (o *Onboarding) MarkRead(ctx context.Context, userID, channelID, messageID snowflake.ID) error {
	_, err := o.db.Exec(ctx,
		`INSERT INTO read_states (user_id, channel_id, last_read_message_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, channel_id)
		 DO UPDATE SET last_read_message_id = GREATEST(read_states.last_read_message_id, EXCLUDED.last_read_message_id)`,
		userID, channelID, messageID,
	)
	if err != nil {
		return fmt.Errorf("upsert read state: %w", err)
	}
	return nil
}
