package guild

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

const selectColumns = `id, name, owner_id, created_at`

// scanGuild scans a single row into a *Guild. The row must contain the columns listed in selectColumns.
func scanGuild(row pgx.Row) (*Guild, error) {
	var g Guild
	err := row.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan guild: %w", err)
	}
	return &g, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed guild repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts the guild, the owner's membership, and a default "general" channel in a single transaction. The
// owner's guild count is checked inside the transaction so the cap cannot be raced past.
func (r *PGRepository) Create(ctx context.Context, params CreateParams, maxGuildsPerUser int) (*Guild, error) {
	var g *Guild
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM members WHERE user_id = $1`, params.OwnerID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count owner guilds: %w", err)
		}
		if count >= maxGuildsPerUser {
			return ErrMaxGuildsReached
		}

		g, err = scanGuild(tx.QueryRow(ctx,
			`INSERT INTO guilds (id, name, owner_id)
			 VALUES ($1, $2, $3)
			 RETURNING `+selectColumns,
			params.ID, params.Name, params.OwnerID,
		))
		if err != nil {
			return fmt.Errorf("insert guild: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO members (user_id, guild_id) VALUES ($1, $2)`,
			params.OwnerID, params.ID,
		)
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO channels (id, guild_id, name) VALUES ($1, $2, 'general')`,
			params.DefaultChannelID, params.ID,
		)
		if err != nil {
			return fmt.Errorf("insert default channel: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetByID returns the guild matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id snowflake.ID) (*Guild, error) {
	g, err := scanGuild(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM guilds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query guild by id: %w", err)
	}
	return g, nil
}

// ListForUser returns every guild the user is a member of, ordered by guild ID.
func (r *PGRepository) ListForUser(ctx context.Context, userID snowflake.ID) ([]Guild, error) {
	rows, err := r.db.Query(ctx,
		`SELECT g.id, g.name, g.owner_id, g.created_at
		 FROM guilds g
		 JOIN members m ON m.guild_id = g.id
		 WHERE m.user_id = $1
		 ORDER BY g.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query guilds for user: %w", err)
	}
	defer rows.Close()

	var guilds []Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, err
		}
		guilds = append(guilds, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guilds: %w", err)
	}
	return guilds, nil
}

// UpdateName renames the guild and returns the updated row. Returns ErrNotFound if no row matches the given ID.
func (r *PGRepository) UpdateName(ctx context.Context, id snowflake.ID, name string) (*Guild, error) {
	g, err := scanGuild(r.db.QueryRow(ctx,
		`UPDATE guilds SET name = $1 WHERE id = $2 RETURNING `+selectColumns,
		name, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update guild: %w", err)
	}
	return g, nil
}

// Delete removes the guild. Channels, memberships, messages, and read states go with it via ON DELETE CASCADE.
func (r *PGRepository) Delete(ctx context.Context, id snowflake.ID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM guilds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete guild: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
