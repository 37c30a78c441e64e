package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/parley-chat/parley-server/internal/event"
)

// heartbeatLoop subscribes to the session's inbound broadcast and runs the liveness monitor over it.
func (g *Gateway) heartbeatLoop(ctx context.Context, connID ConnectionID, sess *Session) {
	sub := sess.SubscribeInbound()
	defer sub.Unsubscribe()
	g.monitorHeartbeats(ctx, connID, sub)
}

// monitorHeartbeats is the liveness state machine for one session: Waiting(deadline) → Heartbeat → Waiting(deadline'),
// or Waiting(deadline) → expiry → RequestedClose. It never aborts its peer tasks — on expiry it submits a
// CloseSession instruction and waits for the send loop to flush the close sentinel.
func (g *Gateway) monitorHeartbeats(ctx context.Context, connID ConnectionID, sub *subscription[*event.ClientMessage]) {
	deadline := time.Now().Add(g.heartbeatInterval + g.heartbeatGrace)
	for {
		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, lagged, err := sub.Recv(waitCtx)
		cancel()

		if lagged > 0 {
			g.log.Warn().Stringer("conn", connID).Int("dropped", lagged).Msg("Heartbeat monitor lagged")
		}

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSubClosed) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				g.log.Debug().Stringer("conn", connID).Msg("Heartbeat deadline expired")
				g.dispatcher.CloseSession(connID, ClosePolicyViolation, ReasonHeartbeatExpired)
				<-ctx.Done()
				return
			}
			return
		}

		// Other message types are routed elsewhere; only heartbeats reset the deadline.
		if msg.Type == event.TypeHeartbeat {
			g.dispatcher.SendToSession(connID, event.New(event.TypeHeartbeatAck, nil))
			deadline = time.Now().Add(g.heartbeatInterval + g.heartbeatGrace)
		}
	}
}
