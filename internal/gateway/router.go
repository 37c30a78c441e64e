package gateway

import (
	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

// target is one selected recipient session.
type target struct {
	conn ConnectionID
	sess *Session
}

// dispatch applies the event router to the registry snapshot and enqueues the event on each selected session's
// outbound sink. The event is shared by reference; serialization happens per session in the send loop.
func (d *Dispatcher) dispatch(ev *event.Event, mode SendMode) {
	d.deliver(ev, d.route(mode))
}

// route selects the target sessions for a send mode. Iteration order is unspecified.
func (d *Dispatcher) route(mode SendMode) []target {
	switch mode.kind {
	case sendToUser:
		uh, ok := d.users[mode.id]
		if !ok {
			return nil
		}
		return sessionsOf(uh)

	case sendToGuild:
		var targets []target
		for _, uh := range d.users {
			if uh.memberOf(mode.id) {
				targets = append(targets, sessionsOf(uh)...)
			}
		}
		return targets

	case sendToMutualGuilds:
		// Without the originator in the registry the mutual guilds are not resolvable and the event is dropped.
		origin, ok := d.users[mode.id]
		if !ok {
			return nil
		}
		return d.mutualGuildTargets(origin.guilds)

	default:
		return nil
	}
}

// mutualGuildTargets selects every session of every user whose cached guild set intersects guilds. A connected user
// owning the set selects itself: originators receive their own mutual-guild events.
func (d *Dispatcher) mutualGuildTargets(guilds map[snowflake.ID]struct{}) []target {
	var targets []target
	for _, uh := range d.users {
		if uh.sharesGuildWith(guilds) {
			targets = append(targets, sessionsOf(uh)...)
		}
	}
	return targets
}

// deliver enqueues the event on each target sink. Failed sends are collected and the dead sessions removed after the
// iteration; removal never re-enters the router.
func (d *Dispatcher) deliver(ev *event.Event, targets []target) {
	var dead []target
	for _, t := range targets {
		if err := t.sess.Send(ev); err != nil {
			dead = append(dead, t)
		}
	}
	for _, t := range dead {
		d.log.Debug().Stringer("conn", t.conn).Msg("Pruning session with dead sink")
		d.removeDeadSession(t.conn)
	}
}

// removeDeadSession removes a session whose sink rejected a send. The prune path must not dispatch further events, so
// the offline notification is never requested here.
func (d *Dispatcher) removeDeadSession(conn ConnectionID) {
	uh, ok := d.users[conn.UserID]
	if !ok {
		return
	}
	if !uh.dropSession(conn.SessionID) {
		return
	}
	if uh.empty() {
		delete(d.users, uh.id)
		uh.teardown()
	}
}

func sessionsOf(uh *userHandle) []target {
	targets := make([]target, 0, len(uh.sessions))
	for id, sess := range uh.sessions {
		targets = append(targets, target{
			conn: ConnectionID{UserID: uh.id, SessionID: id},
			sess: sess,
		})
	}
	return targets
}
