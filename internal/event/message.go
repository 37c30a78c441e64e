package event

import (
	"encoding/json"
	"fmt"

	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Message payloads sent by clients.

// IdentifyData authenticates a connection with a bearer token.
type IdentifyData struct {
	Token string `json:"token"`
}

// StartTypingData signals that the client started typing in a channel.
type StartTypingData struct {
	ChannelID snowflake.ID `json:"channel_id"`
}

// ClientMessage is one inbound gateway message. Data points at the payload struct for the variant, or is nil for
// HEARTBEAT.
type ClientMessage struct {
	Type Type
	Data any
}

// MarshalJSON encodes the message into the wire envelope. Primarily used by tests and client tooling.
func (m *ClientMessage) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if m.Data != nil {
		var err error
		raw, err = json.Marshal(m.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", m.Type, err)
		}
	}
	return json.Marshal(envelope{Event: m.Type, Data: raw})
}

// DecodeMessage parses an inbound client message from its wire form.
func DecodeMessage(raw []byte) (*ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Event {
	case TypeIdentify:
		var data IdentifyData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: IDENTIFY: %v", ErrInvalidPayload, err)
		}
		return &ClientMessage{Type: TypeIdentify, Data: &data}, nil
	case TypeHeartbeat:
		return &ClientMessage{Type: TypeHeartbeat}, nil
	case TypeStartTyping:
		var data StartTypingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: START_TYPING: %v", ErrInvalidPayload, err)
		}
		return &ClientMessage{Type: TypeStartTyping, Data: &data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Event)
	}
}
