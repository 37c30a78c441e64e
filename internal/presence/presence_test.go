package presence

import (
	"context"
	"encoding/json"
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

func TestStoreSetGet(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := snowflake.ID(42)

	if err := store.Set(ctx, userID, StatusBusy); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusBusy {
		t.Errorf("Get() = %v, want %v", got, StatusBusy)
	}
}

func TestStoreGetDefaultsToOnline(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)

	got, err := store.Get(context.Background(), snowflake.ID(999))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOnline {
		t.Errorf("Get() for unset user = %v, want %v", got, StatusOnline)
	}
}

func TestStoreGetMalformedValue(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb)
	userID := snowflake.ID(7)

	mr.Set("presence:"+userID.String(), "garbage")

	got, err := store.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOffline {
		t.Errorf("Get() for malformed value = %v, want %v", got, StatusOffline)
	}
}

func TestStoreSurvivesReconnect(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := snowflake.ID(11)

	if err := store.Set(ctx, userID, StatusOffline); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// The key carries no TTL, so it outlives any session.
	mr.FastForward(24 * time.Hour)

	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != StatusOffline {
		t.Errorf("Get() after 24h = %v, want %v", got, StatusOffline)
	}
}

func TestSetTypingDedup(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	channelID := snowflake.ID(100)
	userID := snowflake.ID(42)

	created, err := store.SetTyping(ctx, channelID, userID)
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if !created {
		t.Error("first SetTyping() = false, want true")
	}

	created, err = store.SetTyping(ctx, channelID, userID)
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if created {
		t.Error("second SetTyping() within window = true, want false")
	}

	mr.FastForward(11 * time.Second)

	created, err = store.SetTyping(ctx, channelID, userID)
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if !created {
		t.Error("SetTyping() after expiry = false, want true")
	}
}

func TestSetTypingPerChannel(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := snowflake.ID(42)

	if _, err := store.SetTyping(ctx, snowflake.ID(1), userID); err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	created, err := store.SetTyping(ctx, snowflake.ID(2), userID)
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if !created {
		t.Error("SetTyping() in a different channel = false, want true")
	}
}

func TestFromInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input int
		want  Status
	}{
		{0, StatusOnline},
		{1, StatusAway},
		{2, StatusBusy},
		{3, StatusOffline},
		{4, StatusOffline},
		{-1, StatusOffline},
		{99, StatusOffline},
	}
	for _, tt := range tests {
		if got := FromInt(tt.input); got != tt.want {
			t.Errorf("FromInt(%d) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(StatusAway)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "1" {
		t.Errorf("Marshal(StatusAway) = %s, want 1", data)
	}

	var s Status
	if err := json.Unmarshal([]byte("2"), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != StatusBusy {
		t.Errorf("Unmarshal(2) = %v, want %v", s, StatusBusy)
	}

	if err := json.Unmarshal([]byte("42"), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != StatusOffline {
		t.Errorf("Unmarshal(42) = %v, want %v", s, StatusOffline)
	}
}
