package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrNotAuthor      = errors.New("you can only modify your own messages")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// sanitizer strips all HTML from message content. Clients render content as plain text with their own markup, so any
// markup in the stored value is an injection attempt.
var sanitizer = bluemonday.StrictPolicy()

// Message holds the fields read from the messages table.
type Message struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	AuthorID  snowflake.ID
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
}

// ToEvent converts the message to its wire representation.
func (m *Message) ToEvent() event.Message {
	return event.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}

// CreateParams groups the inputs for creating a new message. The ID is generated by the caller.
type CreateParams struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	GuildID   snowflake.ID
	AuthorID  snowflake.ID
	Content   string
}

// ValidateContent sanitizes and trims content, then checks that it is non-empty and does not exceed the given maximum
// rune count. It returns the cleaned result on success.
func ValidateContent(content string, maxLength int) (string, error) {
	cleaned := strings.TrimSpace(sanitizer.Sanitize(content))
	if cleaned == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(cleaned) > maxLength {
		return "", ErrContentTooLong
	}
	return cleaned, nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when the input is zero or
// negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Message, error)
	List(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) ([]Message, error)
	Update(ctx context.Context, id snowflake.ID, content string) (*Message, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
