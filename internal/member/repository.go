package member

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

const selectColumns = `m.user_id, m.guild_id, u.username, u.display_name, m.nickname, m.joined_at`

const baseJoin = `FROM members m JOIN users u ON u.id = m.user_id`

// scanMember scans a single row into a *Member. The row must contain the columns listed in selectColumns.
func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.UserID, &m.GuildID, &m.Username, &m.DisplayName, &m.Nickname, &m.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed member repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Add inserts a membership row and returns it with the joined profile.
func (r *PGRepository) Add(ctx context.Context, guildID, userID snowflake.ID) (*Member, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO members (user_id, guild_id) VALUES ($1, $2)`,
		userID, guildID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		if postgres.IsForeignKeyViolation(err) {
			return nil, ErrGuildNotFound
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}
	return r.Get(ctx, guildID, userID)
}

// Remove deletes a membership row. Returns ErrNotFound if the user was not a member.
func (r *PGRepository) Remove(ctx context.Context, guildID, userID snowflake.ID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM members WHERE user_id = $1 AND guild_id = $2`,
		userID, guildID,
	)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a single membership with the joined profile.
func (r *PGRepository) Get(ctx context.Context, guildID, userID snowflake.ID) (*Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` `+baseJoin+` WHERE m.guild_id = $1 AND m.user_id = $2`,
		guildID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query member: %w", err)
	}
	return m, nil
}

// ListByGuild returns every member of a guild with joined profiles, ordered by join time.
func (r *PGRepository) ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Member, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` `+baseJoin+` WHERE m.guild_id = $1 ORDER BY m.joined_at, m.user_id`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query guild members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// IsMember reports whether the user belongs to the guild.
func (r *PGRepository) IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	var member bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM members WHERE guild_id = $1 AND user_id = $2)`,
		guildID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return member, nil
}

// GuildIDs returns the IDs of every guild the user belongs to.
func (r *PGRepository) GuildIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT guild_id FROM members WHERE user_id = $1 ORDER BY guild_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user guild ids: %w", err)
	}
	defer rows.Close()

	var ids []snowflake.ID
	for rows.Next() {
		var id snowflake.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guild id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guild ids: %w", err)
	}
	return ids, nil
}
