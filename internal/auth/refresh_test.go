package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley-server/internal/snowflake"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRefreshTokenCreateValidate(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	userID := snowflake.ID(42)

	token, err := CreateRefreshToken(ctx, rdb, userID, time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	got, err := ValidateRefreshToken(ctx, rdb, token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken() error = %v", err)
	}
	if got != userID {
		t.Errorf("ValidateRefreshToken() = %v, want %v", got, userID)
	}
}

func TestRefreshTokenExpiry(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	token, err := CreateRefreshToken(ctx, rdb, snowflake.ID(42), time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := ValidateRefreshToken(ctx, rdb, token); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("ValidateRefreshToken() after expiry error = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRefreshTokenRotate(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	userID := snowflake.ID(42)

	oldToken, err := CreateRefreshToken(ctx, rdb, userID, time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	newToken, gotUser, err := RotateRefreshToken(ctx, rdb, oldToken, time.Hour)
	if err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}
	if gotUser != userID {
		t.Errorf("RotateRefreshToken() user = %v, want %v", gotUser, userID)
	}
	if newToken == oldToken {
		t.Error("RotateRefreshToken() returned the old token")
	}

	// The new token validates; the old one is consumed.
	if _, err := ValidateRefreshToken(ctx, rdb, newToken); err != nil {
		t.Errorf("ValidateRefreshToken(new) error = %v", err)
	}
	if _, err := ValidateRefreshToken(ctx, rdb, oldToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("ValidateRefreshToken(old) error = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRefreshTokenReuseDetected(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	token, err := CreateRefreshToken(ctx, rdb, snowflake.ID(42), time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}
	if _, _, err := RotateRefreshToken(ctx, rdb, token, time.Hour); err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}

	// Rotating the consumed token again signals reuse.
	if _, _, err := RotateRefreshToken(ctx, rdb, token, time.Hour); !errors.Is(err, ErrRefreshTokenReused) {
		t.Errorf("RotateRefreshToken() of consumed token error = %v, want ErrRefreshTokenReused", err)
	}
}

func TestRevokeAllRefreshTokens(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	userID := snowflake.ID(42)

	t1, err := CreateRefreshToken(ctx, rdb, userID, time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}
	t2, err := CreateRefreshToken(ctx, rdb, userID, time.Hour)
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	if err := RevokeAllRefreshTokens(ctx, rdb, userID); err != nil {
		t.Fatalf("RevokeAllRefreshTokens() error = %v", err)
	}

	for _, token := range []string{t1, t2} {
		if _, err := ValidateRefreshToken(ctx, rdb, token); !errors.Is(err, ErrRefreshTokenNotFound) {
			t.Errorf("ValidateRefreshToken() after revoke error = %v, want ErrRefreshTokenNotFound", err)
		}
	}
}

func TestRevokeAllRefreshTokensNoTokens(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)

	if err := RevokeAllRefreshTokens(context.Background(), rdb, snowflake.ID(99)); err != nil {
		t.Errorf("RevokeAllRefreshTokens() with no tokens error = %v", err)
	}
}
