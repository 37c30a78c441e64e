package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// MembershipSource resolves the guild IDs a user belongs to. Implemented by the member repository.
type MembershipSource interface {
	GuildIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
}

// InboundHandler consumes client messages drained from a user's fan-in broadcast.
type InboundHandler interface {
	HandleInbound(ctx context.Context, conn ConnectionID, msg *event.ClientMessage)
}

// Collaborators are the external dependencies the dispatcher needs at runtime. They are supplied via Bind after
// construction so the dispatcher can exist before the rest of the application is wired.
type Collaborators struct {
	Memberships MembershipSource
	Inbound     InboundHandler
}

// Dispatcher is the single owner of the connection registry. Every mutation and query is an instruction on its queue,
// processed strictly in enqueue order by the one task running Run. Producers (REST handlers, connection pipelines,
// shutdown) submit concurrently and never block.
type Dispatcher struct {
	queue *queue[instruction]
	log   zerolog.Logger

	deps atomic.Pointer[Collaborators]
	done chan struct{}

	// Loop-owned state. Touched only inside Run.
	users  map[snowflake.ID]*userHandle
	runCtx context.Context
}

// NewDispatcher creates an unbound dispatcher. Until Bind is called, every instruction except CloseAll is dropped
// with a warning.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue: newQueue[instruction](),
		log:   logger.With().Str("component", "dispatcher").Logger(),
		done:  make(chan struct{}),
		users: make(map[snowflake.ID]*userHandle),
	}
}

// Bind supplies the dispatcher's collaborators, opening the readiness gate.
func (d *Dispatcher) Bind(c Collaborators) {
	d.deps.Store(&c)
}

// Run consumes the instruction queue until a CloseAll instruction is processed or ctx is cancelled. It must be called
// exactly once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runCtx = ctx
	defer func() {
		d.queue.Close()
		close(d.done)
	}()

	d.log.Info().Msg("Dispatcher running")
	for {
		ins, ok := d.queue.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		if terminate := d.handle(ins); terminate {
			d.log.Info().Msg("Dispatcher terminated")
			return nil
		}
	}
}

// handle processes one instruction. Returns true when the loop must terminate (CloseAll).
func (d *Dispatcher) handle(ins instruction) bool {
	deps := d.deps.Load()
	if deps == nil {
		if ca, ok := ins.(insCloseAll); ok {
			d.closeAllSessions()
			close(ca.ack)
			return true
		}
		d.discardUnbound(ins)
		return false
	}

	switch v := ins.(type) {
	case insNewSession:
		v.reply <- d.insertSession(deps, v.conn, v.sess)
	case insRemoveSession:
		d.removeSession(v.conn, v.notifyOffline)
	case insCloseSession:
		if uh, ok := d.users[v.conn.UserID]; ok {
			uh.notifyClose(v.conn.SessionID, v.code, v.reason)
		}
	case insCloseUser:
		if uh, ok := d.users[v.user]; ok {
			uh.notifyCloseAll(v.code, v.reason)
		}
	case insCloseAll:
		d.closeAllSessions()
		close(v.ack)
		return true
	case insDispatch:
		d.dispatch(v.ev, v.mode)
	case insSendToSession:
		if uh, ok := d.users[v.conn.UserID]; ok {
			if sess, ok := uh.sessions[v.conn.SessionID]; ok {
				if err := sess.Send(v.ev); err != nil {
					d.removeSession(v.conn, false)
				}
			}
		}
	case insAddMember:
		if uh, ok := d.users[v.user]; ok {
			uh.guilds[v.guild] = struct{}{}
		}
	case insRemoveMember:
		if uh, ok := d.users[v.user]; ok {
			delete(uh.guilds, v.guild)
		}
	case insSubscribeSession:
		var sub *subscription[*event.ClientMessage]
		if uh, ok := d.users[v.conn.UserID]; ok {
			if sess, ok := uh.sessions[v.conn.SessionID]; ok {
				sub = sess.SubscribeInbound()
			}
		}
		v.reply <- sub
	case insSubscribeUser:
		var sub *subscription[InboundMessage]
		if uh, ok := d.users[v.user]; ok {
			sub = uh.fanin.Subscribe()
		}
		v.reply <- sub
	case insQueryConnected:
		uh, ok := d.users[v.user]
		v.reply <- ok && !uh.empty()
	case insQueryConnectedMulti:
		connected := make(map[snowflake.ID]struct{})
		for _, id := range v.users {
			if uh, ok := d.users[id]; ok && !uh.empty() {
				connected[id] = struct{}{}
			}
		}
		v.reply <- connected
	}
	return false
}

// discardUnbound drops an instruction received before Bind, unblocking any waiting producer.
func (d *Dispatcher) discardUnbound(ins instruction) {
	d.log.Warn().Type("instruction", ins).Msg("Dispatcher not bound, instruction dropped")
	switch v := ins.(type) {
	case insNewSession:
		v.reply <- ErrNotReady
	case insSubscribeSession:
		v.reply <- nil
	case insSubscribeUser:
		v.reply <- nil
	case insQueryConnected:
		v.reply <- false
	case insQueryConnectedMulti:
		v.reply <- map[snowflake.ID]struct{}{}
	}
}

// insertSession handles NewSession. For a user's first connection the guild set is resolved from the persistence
// collaborator — the dispatcher's only suspension point besides the queue read — and the per-user inbound consumer is
// spawned.
func (d *Dispatcher) insertSession(deps *Collaborators, conn ConnectionID, sess *Session) error {
	uh, ok := d.users[conn.UserID]
	if !ok {
		guildIDs, err := deps.Memberships.GuildIDs(d.runCtx, conn.UserID)
		if err != nil {
			return fmt.Errorf("resolve guilds for %s: %w", conn.UserID, err)
		}
		uh = newUserHandle(conn.UserID, guildIDs, d.log)
		d.users[conn.UserID] = uh
		go d.consumeInbound(uh.fanin.Subscribe(), deps.Inbound, uh.log)
	}
	uh.addSession(sess)
	d.log.Debug().Stringer("conn", conn).Int("sessions", len(uh.sessions)).Msg("Session registered")
	return nil
}

// consumeInbound drains a user's fan-in and hands each message to the inbound handler. Lag is logged and skipped; the
// task exits when the fan-in closes (user pruned) or the dispatcher stops.
func (d *Dispatcher) consumeInbound(sub *subscription[InboundMessage], handler InboundHandler, logger zerolog.Logger) {
	defer sub.Unsubscribe()
	for {
		msg, lagged, err := sub.Recv(d.runCtx)
		if err != nil {
			return
		}
		if lagged > 0 {
			logger.Warn().Int("dropped", lagged).Msg("Inbound consumer lagged")
		}
		handler.HandleInbound(d.runCtx, msg.Conn, msg.Msg)
	}
}

// removeSession removes one session without sending a close frame, pruning the user when it empties.
func (d *Dispatcher) removeSession(conn ConnectionID, notifyOffline bool) {
	uh, ok := d.users[conn.UserID]
	if !ok {
		return
	}
	if !uh.dropSession(conn.SessionID) {
		return
	}
	d.log.Debug().Stringer("conn", conn).Msg("Session removed")
	d.pruneIfEmpty(uh, notifyOffline)
}

// pruneIfEmpty drops an empty user handle from the registry, first broadcasting the offline presence to the user's
// mutual guilds when requested. The mutual-guild targets are computed from the cached guild set while the handle is
// still registered, which is the only point where they remain resolvable for a fully disconnected user.
func (d *Dispatcher) pruneIfEmpty(uh *userHandle, notifyOffline bool) {
	if !uh.empty() {
		return
	}
	if notifyOffline {
		ev := event.New(event.TypePresenceUpdate, &event.PresenceUpdateData{
			UserID:   uh.id,
			Presence: presence.StatusOffline,
		})
		d.deliver(ev, d.mutualGuildTargets(uh.guilds))
	}
	delete(d.users, uh.id)
	uh.teardown()
	d.log.Debug().Stringer("user_id", uh.id).Msg("User pruned from registry")
}

// closeAllSessions closes every session with GoingAway and clears the registry. Shutdown never broadcasts offline
// presence.
func (d *Dispatcher) closeAllSessions() {
	for _, uh := range d.users {
		uh.closeAll(CloseGoingAway, ReasonShuttingDown)
		uh.teardown()
	}
	d.users = make(map[snowflake.ID]*userHandle)
	d.log.Info().Msg("All sessions closed")
}

// submit enqueues an instruction, reporting failure once the dispatcher has terminated.
func (d *Dispatcher) submit(ins instruction) error {
	if err := d.queue.Push(ins); err != nil {
		return ErrNotRunning
	}
	return nil
}

// NewSession registers a session under the given connection ID and waits for the dispatcher to acknowledge the
// insertion, guaranteeing that onboarding starts only after the session is routable.
func (d *Dispatcher) NewSession(ctx context.Context, conn ConnectionID, sess *Session) error {
	reply := make(chan error, 1)
	if err := d.submit(insNewSession{conn: conn, sess: sess, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-d.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveSession removes a session without sending a close frame. notifyOffline requests the offline presence
// broadcast described on insRemoveSession.
func (d *Dispatcher) RemoveSession(conn ConnectionID, notifyOffline bool) {
	_ = d.submit(insRemoveSession{conn: conn, notifyOffline: notifyOffline})
}

// CloseSession enqueues a close notification on one session. The session stays registered: its pipeline drains the
// close frame, tears down, and submits RemoveSession, which is where removal and the offline presence broadcast
// happen. Closing here as well would prune the user before that removal arrives and lose the broadcast.
func (d *Dispatcher) CloseSession(conn ConnectionID, code CloseCode, reason string) {
	_ = d.submit(insCloseSession{conn: conn, code: code, reason: reason})
}

// CloseUser enqueues a close notification on every session of one user. Removal follows per session via each
// pipeline's RemoveSession, exactly as for CloseSession.
func (d *Dispatcher) CloseUser(userID snowflake.ID, code CloseCode, reason string) {
	_ = d.submit(insCloseUser{user: userID, code: code, reason: reason})
}

// CloseAll closes every session with GoingAway, clears the registry, and terminates the dispatcher loop. It returns
// once the registry is flushed.
func (d *Dispatcher) CloseAll(ctx context.Context) error {
	ack := make(chan struct{})
	if err := d.submit(insCloseAll{ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch routes an event to the sessions selected by the send mode.
func (d *Dispatcher) Dispatch(ev *event.Event, mode SendMode) {
	if err := d.submit(insDispatch{ev: ev, mode: mode}); err != nil {
		d.log.Debug().Str("event", string(ev.Type)).Msg("Dispatch after dispatcher stopped")
	}
}

// SendTo dispatches an event to every session of one user.
func (d *Dispatcher) SendTo(userID snowflake.ID, ev *event.Event) {
	d.Dispatch(ev, ToUser(userID))
}

// SendToSession targets a single session.
func (d *Dispatcher) SendToSession(conn ConnectionID, ev *event.Event) {
	_ = d.submit(insSendToSession{conn: conn, ev: ev})
}

// AddMember records that a currently-connected user joined a guild. No-op when the user is offline.
func (d *Dispatcher) AddMember(userID, guildID snowflake.ID) {
	_ = d.submit(insAddMember{user: userID, guild: guildID})
}

// RemoveMember records that a currently-connected user left a guild. No-op when the user is offline.
func (d *Dispatcher) RemoveMember(userID, guildID snowflake.ID) {
	_ = d.submit(insRemoveMember{user: userID, guild: guildID})
}

// SubscribeToSession returns a fresh subscription to the session's inbound broadcast, or nil if the session is not
// registered.
func (d *Dispatcher) SubscribeToSession(ctx context.Context, conn ConnectionID) *subscription[*event.ClientMessage] {
	reply := make(chan *subscription[*event.ClientMessage], 1)
	if err := d.submit(insSubscribeSession{conn: conn, reply: reply}); err != nil {
		return nil
	}
	select {
	case sub := <-reply:
		return sub
	case <-d.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// SubscribeToUser returns a fresh subscription to the user's fan-in broadcast, or nil if the user is not connected.
func (d *Dispatcher) SubscribeToUser(ctx context.Context, userID snowflake.ID) *subscription[InboundMessage] {
	reply := make(chan *subscription[InboundMessage], 1)
	if err := d.submit(insSubscribeUser{user: userID, reply: reply}); err != nil {
		return nil
	}
	select {
	case sub := <-reply:
		return sub
	case <-d.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// QueryConnected reports whether the user has at least one live session.
func (d *Dispatcher) QueryConnected(ctx context.Context, userID snowflake.ID) bool {
	reply := make(chan bool, 1)
	if err := d.submit(insQueryConnected{user: userID, reply: reply}); err != nil {
		return false
	}
	select {
	case v := <-reply:
		return v
	case <-d.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// QueryConnectedMulti filters the given user IDs to those currently connected.
func (d *Dispatcher) QueryConnectedMulti(ctx context.Context, userIDs []snowflake.ID) map[snowflake.ID]struct{} {
	reply := make(chan map[snowflake.ID]struct{}, 1)
	if err := d.submit(insQueryConnectedMulti{users: userIDs, reply: reply}); err != nil {
		return map[snowflake.ID]struct{}{}
	}
	select {
	case v := <-reply:
		return v
	case <-d.done:
		return map[snowflake.ID]struct{}{}
	case <-ctx.Done():
		return map[snowflake.ID]struct{}{}
	}
}
