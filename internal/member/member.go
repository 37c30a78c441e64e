package member

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Sentinel errors for the member package.
var (
	ErrNotFound       = errors.New("member not found")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrNicknameLength = errors.New("nickname must be between 1 and 32 characters")
	ErrGuildNotFound  = errors.New("guild not found")
)

// Member combines membership fields with the user's public profile, joined from the users table.
type Member struct {
	UserID      snowflake.ID
	GuildID     snowflake.ID
	Username    string
	DisplayName *string
	Nickname    *string
	JoinedAt    time.Time
}

// ToEvent converts the member to its wire representation.
func (m *Member) ToEvent() event.Member {
	return event.Member{
		UserID:      m.UserID,
		GuildID:     m.GuildID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Nickname:    m.Nickname,
		JoinedAt:    m.JoinedAt,
	}
}

// ValidateNickname checks that a non-nil nickname is between 1 and 32 runes after trimming whitespace. A nil pointer
// means "no nickname." On success the pointed-to value is replaced with the trimmed result.
func ValidateNickname(nickname *string) error {
	if nickname == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*nickname)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 32 {
		return ErrNicknameLength
	}
	*nickname = trimmed
	return nil
}

// Repository defines the data-access contract for member operations.
type Repository interface {
	Add(ctx context.Context, guildID, userID snowflake.ID) (*Member, error)
	Remove(ctx context.Context, guildID, userID snowflake.ID) error
	Get(ctx context.Context, guildID, userID snowflake.ID) (*Member, error)
	ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Member, error)
	IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	GuildIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
}
