package auth

import "errors"

// Sentinel errors for the auth package.
var (
	// ErrRefreshTokenReused is returned when a consumed refresh token is presented again, indicating potential token
	// theft.
	ErrRefreshTokenReused   = errors.New("refresh token reused")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong      = errors.New("password must be at most 128 characters")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEmailAlreadyTaken    = errors.New("email or username already taken")
	ErrInvalidToken         = errors.New("invalid or expired token")
)
