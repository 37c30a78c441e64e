package gateway

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/snowflake"
)

// userHandle aggregates everything the registry holds for one connected user: the live sessions, the cached guild
// membership used for routing, and the fan-in broadcast carrying tagged inbound messages from every session. Handles
// are owned by the dispatcher task; nothing else mutates them.
type userHandle struct {
	id       snowflake.ID
	sessions map[uuid.UUID]*Session
	guilds   map[snowflake.ID]struct{}
	fanin    *broadcast[InboundMessage]
	log      zerolog.Logger
}

func newUserHandle(id snowflake.ID, guildIDs []snowflake.ID, logger zerolog.Logger) *userHandle {
	guilds := make(map[snowflake.ID]struct{}, len(guildIDs))
	for _, g := range guildIDs {
		guilds[g] = struct{}{}
	}
	return &userHandle{
		id:       id,
		sessions: make(map[uuid.UUID]*Session),
		guilds:   guilds,
		fanin:    newBroadcast[InboundMessage](faninBufferSize),
		log:      logger.With().Stringer("user_id", id).Logger(),
	}
}

// addSession binds the session's forwarder to this user's fan-in and stores it.
func (u *userHandle) addSession(sess *Session) {
	conn := ConnectionID{UserID: u.id, SessionID: sess.ID()}
	sess.bindTo(conn, u.fanin)
	u.sessions[sess.ID()] = sess
}

// notifyClose enqueues a close notification on the session's outbound sink without removing it. The session stays
// registered until its connection pipeline observes the close and submits a removal, which is where the offline
// presence decision is made. Reports whether the session existed.
func (u *userHandle) notifyClose(sessionID uuid.UUID, code CloseCode, reason string) bool {
	sess, ok := u.sessions[sessionID]
	if !ok {
		return false
	}
	if err := sess.Close(code, reason); err != nil {
		u.log.Debug().Err(err).Stringer("session_id", sessionID).Msg("Close notification on dead sink")
	}
	return true
}

// notifyCloseAll enqueues a close notification on every session.
func (u *userHandle) notifyCloseAll(code CloseCode, reason string) {
	for id := range u.sessions {
		u.notifyClose(id, code, reason)
	}
}

// dropSession removes a session without sending a close notification. Used when the connection's send loop has
// already terminated.
func (u *userHandle) dropSession(sessionID uuid.UUID) bool {
	sess, ok := u.sessions[sessionID]
	if !ok {
		return false
	}
	delete(u.sessions, sessionID)
	sess.release()
	return true
}

// closeAll sends a close notification to every session and releases their sinks. Shutdown path; the handle is
// discarded immediately afterwards, so no pipeline removal follows.
func (u *userHandle) closeAll(code CloseCode, reason string) {
	for id, sess := range u.sessions {
		if err := sess.Close(code, reason); err != nil {
			u.log.Debug().Err(err).Stringer("session_id", id).Msg("Close notification on dead sink")
		}
		sess.release()
	}
	u.sessions = make(map[uuid.UUID]*Session)
}

// empty reports whether the user has no live sessions and must be pruned from the registry.
func (u *userHandle) empty() bool {
	return len(u.sessions) == 0
}

// memberOf reports whether the cached guild set contains g.
func (u *userHandle) memberOf(g snowflake.ID) bool {
	_, ok := u.guilds[g]
	return ok
}

// sharesGuildWith reports whether the user's guild set intersects the given set.
func (u *userHandle) sharesGuildWith(guilds map[snowflake.ID]struct{}) bool {
	// Iterate the smaller set.
	a, b := u.guilds, guilds
	if len(b) < len(a) {
		a, b = b, a
	}
	for g := range a {
		if _, ok := b[g]; ok {
			return true
		}
	}
	return false
}

// teardown closes the fan-in broadcast, ending the per-user inbound consumer. Called when the handle is pruned.
func (u *userHandle) teardown() {
	u.fanin.Close()
}
