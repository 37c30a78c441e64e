package channel

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Sentinel errors for the channel package.
var (
	ErrNotFound           = errors.New("channel not found")
	ErrNameLength         = errors.New("channel name must be between 1 and 100 characters")
	ErrTopicLength        = errors.New("channel topic must be 1024 characters or fewer")
	ErrMaxChannelsReached = errors.New("maximum number of channels reached")
)

// Channel holds the fields read from the channels table.
type Channel struct {
	ID        snowflake.ID
	GuildID   snowflake.ID
	Name      string
	Topic     *string
	CreatedAt time.Time
}

// ToEvent converts the channel to its wire representation.
func (c *Channel) ToEvent() event.Channel {
	return event.Channel{
		ID:      c.ID,
		GuildID: c.GuildID,
		Name:    c.Name,
		Topic:   c.Topic,
	}
}

// CreateParams groups the inputs for creating a new channel. The ID is generated by the caller.
type CreateParams struct {
	ID      snowflake.ID
	GuildID snowflake.ID
	Name    string
	Topic   *string
}

// ValidateName trims the channel name and checks that it is between 1 and 100 runes. It returns the trimmed result on
// success.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 1 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateTopic checks that a non-nil topic is 1024 runes or fewer. A nil pointer means "no topic."
func ValidateTopic(topic *string) error {
	if topic == nil {
		return nil
	}
	if utf8.RuneCountInString(*topic) > 1024 {
		return ErrTopicLength
	}
	return nil
}

// Repository defines the data-access contract for channel operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams, maxChannelsPerGuild int) (*Channel, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Channel, error)
	ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Channel, error)
	Delete(ctx context.Context, id snowflake.ID) error
	GuildOf(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error)
	IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error)
}
