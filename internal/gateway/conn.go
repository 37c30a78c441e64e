package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// identifyWait is how long a client has to send IDENTIFY after the server's HELLO.
	identifyWait = 5 * time.Second

	// heartbeatGrace extends each heartbeat deadline so one late heartbeat does not sever the connection.
	heartbeatGrace = 5 * time.Second
)

// TokenValidator resolves a bearer credential to a user identity. Implemented by the auth service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (snowflake.ID, error)
}

// OnboardingSource supplies the payloads a freshly identified session receives. Implemented by the user repository
// aggregate.
type OnboardingSource interface {
	FetchUser(ctx context.Context, userID snowflake.ID) (*event.User, error)
	GuildsFull(ctx context.Context, userID snowflake.ID) ([]event.GuildCreateData, error)
	ReadStates(ctx context.Context, userID snowflake.ID) ([]event.ReadState, error)
}

// PresenceSource reads a user's stored presence. Implemented by the presence store.
type PresenceSource interface {
	Get(ctx context.Context, userID snowflake.ID) (presence.Status, error)
}

// Gateway runs the per-connection pipeline: handshake, registration, onboarding, and the three long-running loops
// (send, receive, heartbeat). The dispatcher owns the registry; the pipeline only submits instructions.
type Gateway struct {
	dispatcher        *Dispatcher
	auth              TokenValidator
	onboarding        OnboardingSource
	presence          PresenceSource
	heartbeatInterval time.Duration
	heartbeatGrace    time.Duration
	log               zerolog.Logger
}

// NewGateway creates the connection pipeline front end.
func NewGateway(
	d *Dispatcher,
	auth TokenValidator,
	onboarding OnboardingSource,
	presenceStore PresenceSource,
	heartbeatInterval time.Duration,
	logger zerolog.Logger,
) *Gateway {
	return &Gateway{
		dispatcher:        d,
		auth:              auth,
		onboarding:        onboarding,
		presence:          presenceStore,
		heartbeatInterval: heartbeatInterval,
		heartbeatGrace:    heartbeatGrace,
		log:               logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket drives one upgraded connection from HELLO to teardown. It blocks until the connection is finished.
func (g *Gateway) ServeWebSocket(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	if err := g.writeEvent(conn, event.New(event.TypeHello, &event.HelloData{
		HeartbeatInterval: int(g.heartbeatInterval / time.Millisecond),
	})); err != nil {
		g.log.Debug().Err(err).Msg("Failed to send HELLO")
		return
	}

	userID, ok := g.handshake(conn)
	if !ok {
		return
	}

	sess := NewSession(g.log)
	connID := ConnectionID{UserID: userID, SessionID: sess.ID()}

	regCtx, regCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := g.dispatcher.NewSession(regCtx, connID, sess)
	regCancel()
	if err != nil {
		g.log.Warn().Err(err).Stringer("user_id", userID).Msg("Session registration failed")
		g.closeWith(conn, CloseServiceRestart, ReasonGatewayRestarting)
		return
	}

	g.runLoops(conn, connID, sess)
}

// handshake enforces the identify step: the first frame must be a text IDENTIFY whose token resolves to a known user.
// Each failure mode closes the socket with its own code and reason.
func (g *Gateway) handshake(conn *websocket.Conn) (snowflake.ID, bool) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(identifyWait))

	mt, data, err := conn.ReadMessage()
	if err != nil {
		g.closeWith(conn, ClosePolicyViolation, ReasonIdentifyExpected)
		return snowflake.Nil, false
	}
	if mt != websocket.TextMessage {
		g.closeWith(conn, CloseUnsupported, ReasonUnsupportedFrame)
		return snowflake.Nil, false
	}

	msg, err := event.DecodeMessage(data)
	if err != nil || msg.Type != event.TypeIdentify {
		g.closeWith(conn, CloseInvalidPayload, ReasonInvalidIdentify)
		return snowflake.Nil, false
	}
	identify := msg.Data.(*event.IdentifyData)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID, err := g.auth.ValidateToken(ctx, identify.Token)
	if err != nil {
		g.log.Debug().Err(err).Msg("Identify token rejected")
		g.closeWith(conn, ClosePolicyViolation, ReasonInvalidToken)
		return snowflake.Nil, false
	}

	if _, err := g.onboarding.FetchUser(ctx, userID); err != nil {
		g.log.Warn().Err(err).Stringer("user_id", userID).Msg("No user for validated token")
		g.closeWith(conn, CloseServerError, ReasonUnknownUser)
		return snowflake.Nil, false
	}

	// Liveness is the heartbeat monitor's job from here on.
	_ = conn.SetReadDeadline(time.Time{})
	return userID, true
}

// runLoops runs the send, receive, heartbeat, and onboarding tasks for a registered session and performs teardown
// when the first of them exits.
func (g *Gateway) runLoops(conn *websocket.Conn, connID ConnectionID, sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The close code written by the send loop; zero means the connection died without a close frame.
	var closeCode atomic.Int64

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		code := g.sendLoop(ctx, conn, sess)
		closeCode.Store(int64(code))
		// Unblock the receive loop and end the peers.
		cancel()
		_ = conn.Close()
	}()

	go func() {
		defer wg.Done()
		g.heartbeatLoop(ctx, connID, sess)
	}()

	go func() {
		defer wg.Done()
		g.onboard(ctx, connID, sess)
	}()

	g.receiveLoop(conn, sess)
	cancel()
	sess.shutdownInbound()
	wg.Wait()

	g.teardown(connID, CloseCode(closeCode.Load()))
}

// teardown removes the session from the registry. Unless the close was the server shutting down, the user's stored
// presence is re-read so an invisible user's status never leaks via the offline broadcast.
func (g *Gateway) teardown(connID ConnectionID, cause CloseCode) {
	notifyOffline := cause != CloseGoingAway
	if notifyOffline {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stored, err := g.presence.Get(ctx, connID.UserID)
		cancel()
		if err == nil && stored == presence.StatusOffline {
			notifyOffline = false
		}
	}
	g.dispatcher.RemoveSession(connID, notifyOffline)
	g.log.Debug().Stringer("conn", connID).Int("code", int(cause)).Msg("Connection torn down")
}

// sendLoop consumes the session's outbound sink in arrival order, serializing each event to a text frame. A close
// sentinel flushes as a close frame and ends the loop with the carried code.
func (g *Gateway) sendLoop(ctx context.Context, conn *websocket.Conn, sess *Session) CloseCode {
	for {
		ob, ok := sess.out.Pop(ctx)
		if !ok {
			return 0
		}

		if ob.Close != nil {
			msg := websocket.FormatCloseMessage(int(ob.Close.Code), ob.Close.Reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return ob.Close.Code
		}

		payload, err := json.Marshal(ob.Event)
		if err != nil {
			g.log.Error().Err(err).Str("event", string(ob.Event.Type)).Msg("Failed to serialize event")
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			g.log.Debug().Err(err).Msg("WebSocket write failed")
			return 0
		}
	}
}

// receiveLoop reads frames and publishes parsed client messages on the session-local inbound broadcast. Protocol
// violations enqueue a close sentinel and end the loop; the send loop flushes the close frame.
func (g *Gateway) receiveLoop(conn *websocket.Conn, sess *Session) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			_ = sess.Close(CloseUnsupported, ReasonUnsupportedFrame)
			return
		}

		msg, err := event.DecodeMessage(data)
		if err != nil {
			_ = sess.Close(CloseInvalidPayload, "Invalid payload")
			return
		}
		sess.PublishInbound(msg)
	}
}

// onboard sends the Ready snapshot followed by one GuildCreate per guild, then announces the user's stored presence
// to mutual guilds. Runs concurrently with the loops and aborts with the pipeline context.
func (g *Gateway) onboard(ctx context.Context, connID ConnectionID, sess *Session) {
	userID := connID.UserID

	u, err := g.onboarding.FetchUser(ctx, userID)
	if err == nil {
		var guilds []event.GuildCreateData
		guilds, err = g.onboarding.GuildsFull(ctx, userID)
		if err == nil {
			var readStates []event.ReadState
			readStates, err = g.onboarding.ReadStates(ctx, userID)
			if err == nil {
				g.sendOnboarding(ctx, sess, u, guilds, readStates)
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	g.log.Error().Err(err).Stringer("user_id", userID).Msg("Onboarding failed")
	g.dispatcher.CloseSession(connID, CloseServerError, ReasonOnboardingFailed)
}

func (g *Gateway) sendOnboarding(
	ctx context.Context,
	sess *Session,
	u *event.User,
	guilds []event.GuildCreateData,
	readStates []event.ReadState,
) {
	summaries := make([]event.Guild, len(guilds))
	for i := range guilds {
		summaries[i] = guilds[i].Guild
	}

	ready := event.New(event.TypeReady, &event.ReadyData{
		User:       *u,
		SessionID:  sess.ID().String(),
		Guilds:     summaries,
		ReadStates: readStates,
	})
	if err := sess.Send(ready); err != nil {
		return
	}

	for i := range guilds {
		if ctx.Err() != nil {
			return
		}
		if err := sess.Send(event.New(event.TypeGuildCreate, &guilds[i])); err != nil {
			return
		}
	}

	stored, err := g.presence.Get(ctx, u.ID)
	if err != nil {
		g.log.Warn().Err(err).Stringer("user_id", u.ID).Msg("Failed to read stored presence")
		return
	}
	if stored != presence.StatusOffline {
		g.dispatcher.Dispatch(event.New(event.TypePresenceUpdate, &event.PresenceUpdateData{
			UserID:   u.ID,
			Presence: stored,
		}), ToMutualGuilds(u.ID))
	}
}

// writeEvent serializes and writes a single event directly, bypassing the sink. Used only for HELLO, before the send
// loop exists.
func (g *Gateway) writeEvent(conn *websocket.Conn, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// closeWith writes a close frame directly and closes the socket. Used on handshake paths, before the send loop owns
// the connection.
func (g *Gateway) closeWith(conn *websocket.Conn, code CloseCode, reason string) {
	msg := websocket.FormatCloseMessage(int(code), reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
