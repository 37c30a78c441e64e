// Package presence provides the stored-presence and typing state backed by Valkey. The stored ("last") presence is
// what the user advertised most recently; whether peers actually see it depends on the gateway's connection registry.
// Typing indicators use a short TTL with SET NX to deduplicate rapid keystrokes.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley-server/internal/snowflake"
)

// typingTTL is the lifetime of a typing indicator key. Clients may re-trigger the typing endpoint, but SET NX
// suppresses duplicate dispatches until the key expires.
const typingTTL = 10 * time.Second

// Store reads and writes stored presence and typing state in Valkey.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Valkey client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Set records the user's advertised presence. The key has no TTL; the stored value survives disconnects so that a
// user who chose Offline stays hidden across reconnects.
func (s *Store) Set(ctx context.Context, userID snowflake.ID, status Status) error {
	if err := s.rdb.Set(ctx, presenceKey(userID), int(status), 0).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's stored presence. A missing key reads as Online (the default for users who never set a
// status); malformed or out-of-range values read as Offline.
func (s *Store) Get(ctx context.Context, userID snowflake.ID) (Status, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOnline, nil
	}
	if err != nil {
		return StatusOffline, fmt.Errorf("get presence for %s: %w", userID, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return StatusOffline, nil
	}
	return FromInt(n), nil
}

// SetTyping records that the user started typing in the given channel. The key uses SET NX so repeated calls within
// the TTL window are no-ops. Returns true when the key was newly created, meaning a TYPING_START dispatch should be
// sent.
func (s *Store) SetTyping(ctx context.Context, channelID, userID snowflake.ID) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, typingKey(channelID, userID), 1, typingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("set typing for %s in %s: %w", userID, channelID, err)
	}
	return ok, nil
}

func presenceKey(userID snowflake.ID) string {
	return "presence:" + userID.String()
}

func typingKey(channelID, userID snowflake.ID) string {
	return "typing:" + channelID.String() + ":" + userID.String()
}
