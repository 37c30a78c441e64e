package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/postgres"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

const selectColumns = `id, guild_id, name, topic, created_at`

// scanChannel scans a single row into a *Channel. The row must contain the columns listed in selectColumns.
func scanChannel(row pgx.Row) (*Channel, error) {
	var c Channel
	err := row.Scan(&c.ID, &c.GuildID, &c.Name, &c.Topic, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed channel repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new channel after checking the guild's channel count inside a transaction so the cap cannot be
// raced past.
func (r *PGRepository) Create(ctx context.Context, params CreateParams, maxChannelsPerGuild int) (*Channel, error) {
	var c *Channel
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM channels WHERE guild_id = $1`, params.GuildID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count guild channels: %w", err)
		}
		if count >= maxChannelsPerGuild {
			return ErrMaxChannelsReached
		}

		c, err = scanChannel(tx.QueryRow(ctx,
			`INSERT INTO channels (id, guild_id, name, topic)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+selectColumns,
			params.ID, params.GuildID, params.Name, params.Topic,
		))
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert channel: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByID returns the channel matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id snowflake.ID) (*Channel, error) {
	c, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}
	return c, nil
}

// ListByGuild returns every channel in a guild ordered by ID (creation order).
func (r *PGRepository) ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Channel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM channels WHERE guild_id = $1 ORDER BY id`, guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query guild channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// Delete removes the channel. Messages and read states go with it via ON DELETE CASCADE.
func (r *PGRepository) Delete(ctx context.Context, id snowflake.ID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GuildOf returns the ID of the guild that owns the channel.
func (r *PGRepository) GuildOf(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error) {
	var guildID snowflake.ID
	err := r.db.QueryRow(ctx,
		`SELECT guild_id FROM channels WHERE id = $1`, channelID,
	).Scan(&guildID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snowflake.Nil, ErrNotFound
		}
		return snowflake.Nil, fmt.Errorf("query channel guild: %w", err)
	}
	return guildID, nil
}

// IsMember reports whether the user belongs to the guild that owns the channel.
func (r *PGRepository) IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error) {
	var member bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM members m
		     JOIN channels c ON c.guild_id = m.guild_id
		     WHERE c.id = $1 AND m.user_id = $2
		 )`, channelID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("query channel membership: %w", err)
	}
	return member, nil
}
