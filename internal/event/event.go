// Package event defines the gateway wire protocol: the envelope shared by both directions, the outbound event union,
// and the inbound message union. Payloads are UTF-8 JSON; identifiers are decimal strings.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names a gateway event or message variant. Wire form is SCREAMING_SNAKE_CASE.
type Type string

// Outbound event types.
const (
	TypeHello          Type = "HELLO"
	TypeHeartbeatAck   Type = "HEARTBEAT_ACK"
	TypeReady          Type = "READY"
	TypeGuildCreate    Type = "GUILD_CREATE"
	TypeGuildUpdate    Type = "GUILD_UPDATE"
	TypeGuildRemove    Type = "GUILD_REMOVE"
	TypeChannelCreate  Type = "CHANNEL_CREATE"
	TypeChannelRemove  Type = "CHANNEL_REMOVE"
	TypeMemberCreate   Type = "MEMBER_CREATE"
	TypeMemberRemove   Type = "MEMBER_REMOVE"
	TypeMessageCreate  Type = "MESSAGE_CREATE"
	TypeMessageUpdate  Type = "MESSAGE_UPDATE"
	TypeMessageDelete  Type = "MESSAGE_DELETE"
	TypePresenceUpdate Type = "PRESENCE_UPDATE"
	TypeTypingStart    Type = "TYPING_START"
	TypeInvalidSession Type = "INVALID_SESSION"
)

// Inbound message types.
const (
	TypeIdentify    Type = "IDENTIFY"
	TypeHeartbeat   Type = "HEARTBEAT"
	TypeStartTyping Type = "START_TYPING"
)

// Sentinel errors for the event package.
var (
	ErrUnknownType    = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// envelope is the JSON shape shared by outbound events and inbound messages.
type envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one outbound gateway event. Data points at the payload struct for the variant, or is nil for payload-free
// variants such as HEARTBEAT_ACK. Events are shared by reference between sessions; serialization happens per session
// in the send loop.
type Event struct {
	Type Type
	Data any
}

// MarshalJSON encodes the event into the wire envelope.
func (e *Event) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Data != nil {
		var err error
		raw, err = json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
	}
	return json.Marshal(envelope{Event: e.Type, Data: raw})
}

// Decode parses an outbound event from its wire form. Unknown event names and malformed payloads are rejected.
func Decode(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	payload, err := newPayload(env.Event)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return &Event{Type: env.Event}, nil
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
	}
	return &Event{Type: env.Event, Data: payload}, nil
}

// newPayload returns a zero payload pointer for the given outbound type, nil for payload-free variants, or
// ErrUnknownType.
func newPayload(t Type) (any, error) {
	switch t {
	case TypeHello:
		return &HelloData{}, nil
	case TypeHeartbeatAck:
		return nil, nil
	case TypeReady:
		return &ReadyData{}, nil
	case TypeGuildCreate:
		return &GuildCreateData{}, nil
	case TypeGuildUpdate:
		return &Guild{}, nil
	case TypeGuildRemove:
		return &GuildRemoveData{}, nil
	case TypeChannelCreate:
		return &Channel{}, nil
	case TypeChannelRemove:
		return &ChannelRemoveData{}, nil
	case TypeMemberCreate:
		return &Member{}, nil
	case TypeMemberRemove:
		return &MemberRemoveData{}, nil
	case TypeMessageCreate, TypeMessageUpdate:
		return &Message{}, nil
	case TypeMessageDelete:
		return &MessageDeleteData{}, nil
	case TypePresenceUpdate:
		return &PresenceUpdateData{}, nil
	case TypeTypingStart:
		return &TypingStartData{}, nil
	case TypeInvalidSession:
		return &InvalidSessionData{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// New constructs an outbound event.
func New(t Type, data any) *Event {
	return &Event{Type: t, Data: data}
}
