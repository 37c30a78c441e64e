package guild

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Sentinel errors for the guild package.
var (
	ErrNotFound         = errors.New("guild not found")
	ErrNameLength       = errors.New("guild name must be between 1 and 100 characters")
	ErrMaxGuildsReached = errors.New("maximum number of guilds reached")
	ErrNotOwner         = errors.New("only the guild owner can do this")
)

// Guild holds the fields read from the guilds table.
type Guild struct {
	ID        snowflake.ID
	Name      string
	OwnerID   snowflake.ID
	CreatedAt time.Time
}

// ToEvent converts the guild to its wire representation.
func (g *Guild) ToEvent() event.Guild {
	return event.Guild{
		ID:        g.ID,
		Name:      g.Name,
		OwnerID:   g.OwnerID,
		CreatedAt: g.CreatedAt,
	}
}

// CreateParams groups the inputs for creating a new guild. IDs are generated by the caller; the default channel is
// created in the same transaction so a guild is never visible without one.
type CreateParams struct {
	ID               snowflake.ID
	Name             string
	OwnerID          snowflake.ID
	DefaultChannelID snowflake.ID
}

// ValidateName trims the guild name and checks that it is between 1 and 100 runes. It returns the trimmed result on
// success.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 1 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for guild operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams, maxGuildsPerUser int) (*Guild, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Guild, error)
	ListForUser(ctx context.Context, userID snowflake.ID) ([]Guild, error)
	UpdateName(ctx context.Context, id snowflake.ID, name string) (*Guild, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
