package user

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Sentinel errors for the user package.
var (
	ErrNotFound       = errors.New("user not found")
	ErrAlreadyExists  = errors.New("a user with this email or username already exists")
	ErrUsernameLength = errors.New("username must be between 2 and 32 characters")
	ErrUsernameFormat = errors.New("username may only contain lowercase letters, digits, underscores, and periods")
	ErrDisplayNameLen = errors.New("display name must be 32 characters or fewer")
)

// usernamePattern matches the allowed username alphabet. Usernames are stored lowercase.
var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]+$`)

// User holds the fields read from the users table that are safe to expose.
type User struct {
	ID          snowflake.ID
	Username    string
	DisplayName *string
	Email       string
	CreatedAt   time.Time
}

// ToEvent converts the user to its wire representation. Email is deliberately absent from the wire type.
func (u *User) ToEvent() event.User {
	return event.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

// Credentials carries the password hash alongside the user fields. Only the authentication path reads this type.
type Credentials struct {
	ID           snowflake.ID
	Username     string
	DisplayName  *string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateParams groups the inputs for creating a new user. The ID is generated by the caller.
type CreateParams struct {
	ID           snowflake.ID
	Email        string
	Username     string
	PasswordHash string
}

// UpdateParams groups the optional fields for updating a user. Nil means "no change."
type UpdateParams struct {
	DisplayName *string
}

// ValidateUsername lowercases and trims the username, then checks length and alphabet. It returns the normalized
// result on success.
func ValidateUsername(username string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	n := utf8.RuneCountInString(normalized)
	if n < 2 || n > 32 {
		return "", ErrUsernameLength
	}
	if !usernamePattern.MatchString(normalized) {
		return "", ErrUsernameFormat
	}
	return normalized, nil
}

// ValidateDisplayName checks that a non-nil display name is 32 runes or fewer after trimming. An empty trimmed value
// clears the display name, signalled by replacing the pointed-to value with the trimmed result.
func ValidateDisplayName(displayName *string) error {
	if displayName == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*displayName)
	if utf8.RuneCountInString(trimmed) > 32 {
		return ErrDisplayNameLen
	}
	*displayName = trimmed
	return nil
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*Credentials, error)
	Update(ctx context.Context, id snowflake.ID, params UpdateParams) (*User, error)
}
