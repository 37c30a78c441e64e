package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/config"
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
	"github.com/parley-chat/parley-server/internal/user"
)

// Service implements authentication business logic, keeping HTTP handlers thin and focused on request parsing /
// response formatting.
type Service struct {
	users  user.Repository
	redis  *redis.Client
	ids    *snowflake.Generator
	config *config.Config
	log    zerolog.Logger
	// dummyHash is a precomputed Argon2id hash used to keep login timing constant when a user is not found,
	// preventing email enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service.
func NewService(users user.Repository, rdb *redis.Client, ids *snowflake.Generator, cfg *config.Config, logger zerolog.Logger) *Service {
	// Generate a dummy hash at startup so VerifyPassword always runs against a real Argon2id hash even when the user
	// does not exist.
	dummy, err := HashPassword("parley-dummy-password", cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism, cfg.Argon2SaltLength, cfg.Argon2KeyLength)
	if err != nil {
		// This should never fail with valid config; fall back to a static hash so the service can still start.
		dummy = "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0$placeholder"
	}
	return &Service{
		users:     users,
		redis:     rdb,
		ids:       ids,
		config:    cfg,
		log:       logger,
		dummyHash: dummy,
	}
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// LoginRequest is the input for Service.Login.
type LoginRequest struct {
	Email    string
	Password string
}

// AuthResult is the output for Register and Login.
type AuthResult struct {
	User         event.User
	AccessToken  string
	RefreshToken string
}

// TokenPair is the output for Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Register validates inputs, creates the user, and returns auth tokens.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	username, err := user.ValidateUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(
		req.Password,
		s.config.Argon2Memory,
		s.config.Argon2Iterations,
		s.config.Argon2Parallelism,
		s.config.Argon2SaltLength,
		s.config.Argon2KeyLength,
	)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateParams{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Debug().Stringer("user_id", u.ID).Msg("User registered")

	tokens, err := s.issueTokens(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User:         u.ToEvent(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

// Login verifies credentials and returns auth tokens. Unknown emails burn a password verification against the dummy
// hash so the response time does not reveal whether the account exists.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	creds, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_, _ = VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	match, err := VerifyPassword(req.Password, creds.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(ctx, creds.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		User: event.User{
			ID:          creds.ID,
			Username:    creds.Username,
			DisplayName: creds.DisplayName,
			CreatedAt:   creds.CreatedAt,
		},
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	newRefresh, userID, err := RotateRefreshToken(ctx, s.redis, refreshToken, s.config.JWTRefreshTTL)
	if err != nil {
		return nil, err
	}

	access, err := NewAccessToken(userID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

// Logout revokes every refresh token belonging to the user.
func (s *Service) Logout(ctx context.Context, userID snowflake.ID) error {
	return RevokeAllRefreshTokens(ctx, s.redis, userID)
}

// ValidateToken resolves a bearer credential to a user ID. This is the validation path the WebSocket identify
// handshake uses.
func (s *Service) ValidateToken(ctx context.Context, token string) (snowflake.ID, error) {
	claims, err := ValidateAccessToken(token, s.config.JWTSecret, s.config.ServerURL)
	if err != nil {
		return snowflake.Nil, ErrInvalidToken
	}
	userID, err := snowflake.Parse(claims.Subject)
	if err != nil {
		return snowflake.Nil, ErrInvalidToken
	}
	return userID, nil
}

// issueTokens creates an access/refresh token pair for the user.
func (s *Service) issueTokens(ctx context.Context, userID snowflake.ID) (*TokenPair, error) {
	access, err := NewAccessToken(userID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := CreateRefreshToken(ctx, s.redis, userID, s.config.JWTRefreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateEmail normalizes and validates an email address, returning the lowercased form.
func ValidateEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}
