package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/snowflake"
)

const selectColumns = `id, channel_id, guild_id, author_id, content, created_at, edited_at`

// scanMessage scans a single row into a *Message. The row must contain the columns listed in selectColumns.
func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.GuildID, &m.AuthorID, &m.Content, &m.CreatedAt, &m.EditedAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new message and returns the stored row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`INSERT INTO messages (id, channel_id, guild_id, author_id, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		params.ID, params.ChannelID, params.GuildID, params.AuthorID, params.Content,
	))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetByID returns a single message by ID.
func (r *PGRepository) GetByID(ctx context.Context, id snowflake.ID) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM messages WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return m, nil
}

// List returns messages in a channel ordered newest first. When before is non-nil, only messages with a smaller ID are
// returned (cursor-based pagination — snowflake IDs order by creation time).
func (r *PGRepository) List(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	if !before.IsNil() {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages
			 WHERE channel_id = $1 AND id < $2
			 ORDER BY id DESC
			 LIMIT $3`,
			channelID, before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+selectColumns+` FROM messages
			 WHERE channel_id = $1
			 ORDER BY id DESC
			 LIMIT $2`,
			channelID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Update sets new content on a message and marks it as edited. Returns the updated row.
func (r *PGRepository) Update(ctx context.Context, id snowflake.ID, content string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages SET content = $1, edited_at = NOW()
		 WHERE id = $2
		 RETURNING `+selectColumns,
		content, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

// Delete removes a message. Returns ErrNotFound if the message does not exist.
func (r *PGRepository) Delete(ctx context.Context, id snowflake.ID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
