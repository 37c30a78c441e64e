package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// Buffer sizes for the per-session and per-user channels. The outbound sink is unbounded; these bound only the
// broadcast subscriptions, which tolerate lag by dropping the oldest element.
const (
	inboundBufferSize = 8
	faninBufferSize   = 100
)

// ConnectionID uniquely names one live connection as the pair (user, session).
type ConnectionID struct {
	UserID    snowflake.ID
	SessionID uuid.UUID
}

func (c ConnectionID) String() string {
	return c.UserID.String() + "/" + c.SessionID.String()
}

// outbound is one element of a session's outbound sink: either an event to serialize or a close sentinel.
type outbound struct {
	Event *event.Event
	Close *CloseNotice
}

// InboundMessage is a client message tagged with the connection it arrived on, as republished on the owning user's
// fan-in broadcast.
type InboundMessage struct {
	Conn ConnectionID
	Msg  *event.ClientMessage
}

// Session is the per-connection endpoint held in the registry. It owns the outbound event sink consumed by the
// connection's send loop and the session-local inbound broadcast fed by the receive loop. After bind the session is
// immutable; any holder of the handle may enqueue concurrently.
type Session struct {
	id      uuid.UUID
	out     *queue[outbound]
	inbound *broadcast[*event.ClientMessage]
	log     zerolog.Logger

	bindOnce    sync.Once
	releaseOnce sync.Once
	stopForward context.CancelFunc
}

// NewSession creates an unbound session handle with a fresh random session ID.
func NewSession(logger zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:      id,
		out:     newQueue[outbound](),
		inbound: newBroadcast[*event.ClientMessage](inboundBufferSize),
		log:     logger.With().Stringer("session_id", id).Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Send enqueues an event on the outbound sink without blocking. It fails only when the send loop is gone.
func (s *Session) Send(ev *event.Event) error {
	return s.out.Push(outbound{Event: ev})
}

// Close enqueues a close sentinel. The send loop flushes everything ahead of it, writes the close frame, and
// terminates with the carried code.
func (s *Session) Close(code CloseCode, reason string) error {
	return s.out.Push(outbound{Close: &CloseNotice{Code: code, Reason: reason}})
}

// SubscribeInbound returns a fresh subscription to the session-local inbound broadcast.
func (s *Session) SubscribeInbound() *subscription[*event.ClientMessage] {
	return s.inbound.Subscribe()
}

// PublishInbound publishes a parsed client message on the session-local broadcast. Called by the receive loop.
func (s *Session) PublishInbound(msg *event.ClientMessage) {
	s.inbound.Publish(msg)
}

// bindTo wires the session into its owning user: it starts the forwarder task that tags each inbound message with the
// connection ID and republishes it on the user's fan-in. Only the first call has any effect.
func (s *Session) bindTo(conn ConnectionID, fanin *broadcast[InboundMessage]) {
	s.bindOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopForward = cancel
		go s.forward(ctx, conn, fanin)
	})
}

// forward drains the session inbound broadcast into the user fan-in. Lag is logged and skipped; the task exits when
// the session broadcast closes or the session is released.
func (s *Session) forward(ctx context.Context, conn ConnectionID, fanin *broadcast[InboundMessage]) {
	sub := s.inbound.Subscribe()
	defer sub.Unsubscribe()

	for {
		msg, lagged, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if lagged > 0 {
			s.log.Warn().Int("dropped", lagged).Msg("Session forwarder lagged")
		}
		fanin.Publish(InboundMessage{Conn: conn, Msg: msg})
	}
}

// release tears down the session handle: the forwarder is aborted and the outbound sink is closed. Elements already
// enqueued (including a close sentinel) remain poppable so the send loop can flush them. Idempotent.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.stopForward != nil {
			s.stopForward()
		}
		s.out.Close()
	})
}

// shutdownInbound closes the session-local broadcast, ending the forwarder and any heartbeat subscription. Called by
// the connection pipeline during teardown.
func (s *Session) shutdownInbound() {
	s.inbound.Close()
}
