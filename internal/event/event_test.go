package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

func TestEventMarshal(t *testing.T) {
	t.Parallel()

	t.Run("with payload", func(t *testing.T) {
		t.Parallel()
		ev := New(TypeHello, &HelloData{HeartbeatInterval: 45000})
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		want := `{"event":"HELLO","data":{"heartbeat_interval":45000}}`
		if string(data) != want {
			t.Errorf("Marshal() = %s, want %s", data, want)
		}
	})

	t.Run("payload free", func(t *testing.T) {
		t.Parallel()
		ev := New(TypeHeartbeatAck, nil)
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		want := `{"event":"HEARTBEAT_ACK"}`
		if string(data) != want {
			t.Errorf("Marshal() = %s, want %s", data, want)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("presence update", func(t *testing.T) {
		t.Parallel()
		raw := []byte(`{"event":"PRESENCE_UPDATE","data":{"user_id":"42","presence":1}}`)
		ev, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if ev.Type != TypePresenceUpdate {
			t.Fatalf("Decode() type = %s, want PRESENCE_UPDATE", ev.Type)
		}
		data, ok := ev.Data.(*PresenceUpdateData)
		if !ok {
			t.Fatalf("Decode() payload type = %T, want *PresenceUpdateData", ev.Data)
		}
		if data.UserID != snowflake.ID(42) || data.Presence != presence.StatusAway {
			t.Errorf("Decode() payload = %+v, want user 42 away", data)
		}
	})

	t.Run("heartbeat ack has no payload", func(t *testing.T) {
		t.Parallel()
		ev, err := Decode([]byte(`{"event":"HEARTBEAT_ACK"}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if ev.Data != nil {
			t.Errorf("Decode() payload = %v, want nil", ev.Data)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		if _, err := Decode([]byte(`{"event":"NO_SUCH_EVENT"}`)); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Decode() error = %v, want ErrUnknownType", err)
		}
	})

	t.Run("malformed envelope", func(t *testing.T) {
		t.Parallel()
		if _, err := Decode([]byte(`{`)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Decode() error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		raw := []byte(`{"event":"MESSAGE_CREATE","data":{"id":17}}`)
		if _, err := Decode(raw); !errors.Is(err, snowflake.ErrInvalidID) && !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Decode() error = %v, want payload error", err)
		}
	})
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	ev := New(TypeTypingStart, &TypingStartData{
		UserID:    snowflake.ID(7),
		ChannelID: snowflake.ID(9),
	})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := back.Data.(*TypingStartData)
	if !ok {
		t.Fatalf("Decode() payload type = %T, want *TypingStartData", back.Data)
	}
	if got.UserID != snowflake.ID(7) || got.ChannelID != snowflake.ID(9) {
		t.Errorf("round trip payload = %+v", got)
	}
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	t.Run("identify", func(t *testing.T) {
		t.Parallel()
		msg, err := DecodeMessage([]byte(`{"event":"IDENTIFY","data":{"token":"abc"}}`))
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		data, ok := msg.Data.(*IdentifyData)
		if !ok {
			t.Fatalf("DecodeMessage() payload type = %T, want *IdentifyData", msg.Data)
		}
		if data.Token != "abc" {
			t.Errorf("DecodeMessage() token = %q, want %q", data.Token, "abc")
		}
	})

	t.Run("heartbeat", func(t *testing.T) {
		t.Parallel()
		msg, err := DecodeMessage([]byte(`{"event":"HEARTBEAT"}`))
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if msg.Type != TypeHeartbeat || msg.Data != nil {
			t.Errorf("DecodeMessage() = %+v, want payload-free HEARTBEAT", msg)
		}
	})

	t.Run("start typing", func(t *testing.T) {
		t.Parallel()
		msg, err := DecodeMessage([]byte(`{"event":"START_TYPING","data":{"channel_id":"55"}}`))
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		data, ok := msg.Data.(*StartTypingData)
		if !ok {
			t.Fatalf("DecodeMessage() payload type = %T, want *StartTypingData", msg.Data)
		}
		if data.ChannelID != snowflake.ID(55) {
			t.Errorf("DecodeMessage() channel = %v, want 55", data.ChannelID)
		}
	})

	t.Run("outbound type rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := DecodeMessage([]byte(`{"event":"READY"}`)); !errors.Is(err, ErrUnknownType) {
			t.Errorf("DecodeMessage() error = %v, want ErrUnknownType", err)
		}
	})
}
