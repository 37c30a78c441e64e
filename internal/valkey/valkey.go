// Package valkey builds the client for the Valkey instance that backs presence, typing dedup, and refresh-token
// storage.
package valkey

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a client for addr and verifies it with a ping before handing it back. Both valkey:// and redis://
// schemes are accepted.
func Connect(ctx context.Context, addr string, dialTimeout time.Duration) (*redis.Client, error) {
	normalized, err := normalizeScheme(addr)
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}

	opt, err := redis.ParseURL(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	opt.DialTimeout = dialTimeout

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}

// normalizeScheme rewrites valkey:// to redis://, the only scheme redis.ParseURL understands.
func normalizeScheme(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(u.Scheme, "valkey") {
		u.Scheme = "redis"
	}
	return u.String(), nil
}
