package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/event"
	"github.com/parley-chat/parley-server/internal/presence"
	"github.com/parley-chat/parley-server/internal/snowflake"
)

type fakeMemberships struct {
	mu     sync.Mutex
	guilds map[snowflake.ID][]snowflake.ID
	err    error
}

func (f *fakeMemberships) GuildIDs(_ context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.guilds[userID], nil
}

type fakeInbound struct {
	msgs chan InboundMessage
}

func newFakeInbound() *fakeInbound {
	return &fakeInbound{msgs: make(chan InboundMessage, 16)}
}

func (f *fakeInbound) HandleInbound(_ context.Context, conn ConnectionID, msg *event.ClientMessage) {
	f.msgs <- InboundMessage{Conn: conn, Msg: msg}
}

// newTestDispatcher starts a bound dispatcher whose loop is stopped on test cleanup.
func newTestDispatcher(t *testing.T, memberships MembershipSource) *Dispatcher {
	t.Helper()
	d := NewDispatcher(zerolog.Nop())
	d.Bind(Collaborators{Memberships: memberships, Inbound: newFakeInbound()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return d
}

// connect registers a fresh session for the user and returns its handle.
func connect(t *testing.T, d *Dispatcher, userID snowflake.ID) (ConnectionID, *Session) {
	t.Helper()
	sess := NewSession(zerolog.Nop())
	conn := ConnectionID{UserID: userID, SessionID: sess.ID()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.NewSession(ctx, conn, sess); err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return conn, sess
}

// recvEvent pops the next outbound element, failing the test unless it is an event.
func recvEvent(t *testing.T, sess *Session) *event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ob, ok := sess.out.Pop(ctx)
	if !ok {
		t.Fatal("no outbound element within deadline")
	}
	if ob.Event == nil {
		t.Fatalf("outbound element is a close notice: %+v", ob.Close)
	}
	return ob.Event
}

// recvClose pops the next outbound element, failing the test unless it is a close notice.
func recvClose(t *testing.T, sess *Session) *CloseNotice {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ob, ok := sess.out.Pop(ctx)
	if !ok {
		t.Fatal("no outbound element within deadline")
	}
	if ob.Close == nil {
		t.Fatalf("outbound element is an event: %s", ob.Event.Type)
	}
	return ob.Close
}

// expectSilence asserts that nothing arrives on the session's outbound sink for a short window.
func expectSilence(t *testing.T, sess *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ob, ok := sess.out.Pop(ctx); ok {
		if ob.Event != nil {
			t.Fatalf("unexpected outbound event %s", ob.Event.Type)
		}
		t.Fatalf("unexpected close notice %+v", ob.Close)
	}
}

func typingEvent(channelID snowflake.ID) *event.Event {
	return event.New(event.TypeTypingStart, &event.TypingStartData{ChannelID: channelID})
}

func TestDispatchToUser(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	_, sessA := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	d.Dispatch(typingEvent(77), ToUser(1))

	ev := recvEvent(t, sessA)
	if ev.Type != event.TypeTypingStart {
		t.Errorf("event type = %s, want TYPING_START", ev.Type)
	}
	expectSilence(t, sessB)
}

func TestDispatchToUserAllSessions(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{1: {10}}}
	d := newTestDispatcher(t, memberships)

	_, sess1 := connect(t, d, 1)
	_, sess2 := connect(t, d, 1)

	d.SendTo(1, typingEvent(77))

	recvEvent(t, sess1)
	recvEvent(t, sess2)
}

func TestDispatchToGuild(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10, 20},
		3: {20},
	}}
	d := newTestDispatcher(t, memberships)

	_, sessA := connect(t, d, 1)
	_, sessB := connect(t, d, 2)
	_, sessC := connect(t, d, 3)

	d.Dispatch(typingEvent(77), ToGuild(10))

	recvEvent(t, sessA)
	recvEvent(t, sessB)
	expectSilence(t, sessC)
}

func TestDispatchToMutualGuilds(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10, 20},
		3: {30},
	}}
	d := newTestDispatcher(t, memberships)

	_, sessA := connect(t, d, 1)
	_, sessB := connect(t, d, 2)
	_, sessC := connect(t, d, 3)

	d.Dispatch(typingEvent(77), ToMutualGuilds(1))

	// The named user's own sessions are included.
	recvEvent(t, sessA)
	recvEvent(t, sessB)
	expectSilence(t, sessC)
}

func TestDispatchToMutualGuildsOfflineTarget(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	_, sessB := connect(t, d, 2)

	// User 1 has no live session, so the dispatch resolves to nobody.
	d.Dispatch(typingEvent(77), ToMutualGuilds(1))
	expectSilence(t, sessB)
}

func TestMembershipCacheUpdates(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {},
	}}
	d := newTestDispatcher(t, memberships)

	_, sess := connect(t, d, 1)

	d.Dispatch(typingEvent(1), ToGuild(5))

	d.AddMember(1, 5)
	d.Dispatch(typingEvent(2), ToGuild(5))

	d.RemoveMember(1, 5)
	d.Dispatch(typingEvent(3), ToGuild(5))

	// Only the dispatch between AddMember and RemoveMember lands; the queue preserves that order.
	ev := recvEvent(t, sess)
	data, ok := ev.Data.(*event.TypingStartData)
	if !ok {
		t.Fatalf("payload type = %T, want *TypingStartData", ev.Data)
	}
	if data.ChannelID != snowflake.ID(2) {
		t.Errorf("received dispatch %v, want the one after AddMember", data.ChannelID)
	}
	expectSilence(t, sess)
}

func TestQueryConnected(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{1: {10}}}
	d := newTestDispatcher(t, memberships)
	ctx := context.Background()

	if d.QueryConnected(ctx, 1) {
		t.Error("QueryConnected() = true before any session")
	}

	conn, _ := connect(t, d, 1)
	if !d.QueryConnected(ctx, 1) {
		t.Error("QueryConnected() = false with a live session")
	}

	got := d.QueryConnectedMulti(ctx, []snowflake.ID{1, 2, 3})
	if _, ok := got[1]; !ok || len(got) != 1 {
		t.Errorf("QueryConnectedMulti() = %v, want only user 1", got)
	}

	d.RemoveSession(conn, false)
	// RemoveSession is async; the following query is ordered behind it on the instruction queue.
	if d.QueryConnected(ctx, 1) {
		t.Error("QueryConnected() = true after last session removed")
	}
}

func TestRemoveSessionNotifyOffline(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	connA, _ := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	d.RemoveSession(connA, true)

	ev := recvEvent(t, sessB)
	if ev.Type != event.TypePresenceUpdate {
		t.Fatalf("event type = %s, want PRESENCE_UPDATE", ev.Type)
	}
	data, ok := ev.Data.(*event.PresenceUpdateData)
	if !ok {
		t.Fatalf("payload type = %T, want *PresenceUpdateData", ev.Data)
	}
	if data.UserID != snowflake.ID(1) || data.Presence != presence.StatusOffline {
		t.Errorf("payload = %+v, want user 1 offline", data)
	}
}

func TestRemoveSessionSilent(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	connA, _ := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	d.RemoveSession(connA, false)
	expectSilence(t, sessB)
}

func TestRemoveSessionKeepsOtherSessions(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	conn1, _ := connect(t, d, 1)
	_, sess2 := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	// Removing one of two sessions neither disconnects the user nor announces offline.
	d.RemoveSession(conn1, true)

	if !d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = false, want true while a session remains")
	}
	expectSilence(t, sessB)

	d.SendTo(1, typingEvent(77))
	recvEvent(t, sess2)
}

func TestCloseSession(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{1: {10}}}
	d := newTestDispatcher(t, memberships)

	conn, sess := connect(t, d, 1)
	d.CloseSession(conn, ClosePolicyViolation, ReasonHeartbeatExpired)

	notice := recvClose(t, sess)
	if notice.Code != ClosePolicyViolation || notice.Reason != ReasonHeartbeatExpired {
		t.Errorf("close notice = %+v, want policy violation / heartbeat expired", notice)
	}

	// The session stays registered until its pipeline reports it gone.
	if !d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = false before the pipeline's RemoveSession")
	}
	d.RemoveSession(conn, false)
	if d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = true after RemoveSession")
	}
}

// A server-initiated close must not swallow the offline announcement: the pipeline's subsequent removal still finds
// the user registered and broadcasts PRESENCE_UPDATE to mutual guilds.
func TestCloseSessionThenRemoveAnnouncesOffline(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {10},
	}}
	d := newTestDispatcher(t, memberships)

	connA, sessA := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	d.CloseSession(connA, ClosePolicyViolation, ReasonHeartbeatExpired)
	notice := recvClose(t, sessA)
	if notice.Code != ClosePolicyViolation || notice.Reason != ReasonHeartbeatExpired {
		t.Fatalf("close notice = %+v, want policy violation / heartbeat expired", notice)
	}

	d.RemoveSession(connA, true)

	ev := recvEvent(t, sessB)
	if ev.Type != event.TypePresenceUpdate {
		t.Fatalf("event type = %s, want PRESENCE_UPDATE", ev.Type)
	}
	data, ok := ev.Data.(*event.PresenceUpdateData)
	if !ok {
		t.Fatalf("payload type = %T, want *PresenceUpdateData", ev.Data)
	}
	if data.UserID != snowflake.ID(1) || data.Presence != presence.StatusOffline {
		t.Errorf("payload = %+v, want user 1 offline", data)
	}
	if d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = true after removal")
	}
}

func TestCloseUser(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{1: {10}}}
	d := newTestDispatcher(t, memberships)

	conn1, sess1 := connect(t, d, 1)
	conn2, sess2 := connect(t, d, 1)

	d.CloseUser(1, CloseAuthFailure, ReasonInvalidToken)

	for _, sess := range []*Session{sess1, sess2} {
		notice := recvClose(t, sess)
		if notice.Code != CloseAuthFailure {
			t.Errorf("close code = %d, want %d", notice.Code, CloseAuthFailure)
		}
	}

	// Each pipeline removes its own session; the user disconnects with the last one.
	d.RemoveSession(conn1, false)
	if !d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = false with one session still pending removal")
	}
	d.RemoveSession(conn2, false)
	if d.QueryConnected(context.Background(), 1) {
		t.Error("QueryConnected() = true after both sessions removed")
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{
		1: {10},
		2: {20},
	}}
	d := newTestDispatcher(t, memberships)

	_, sessA := connect(t, d, 1)
	_, sessB := connect(t, d, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}

	for _, sess := range []*Session{sessA, sessB} {
		notice := recvClose(t, sess)
		if notice.Code != CloseGoingAway || notice.Reason != ReasonShuttingDown {
			t.Errorf("close notice = %+v, want going away / shutting down", notice)
		}
	}

	// The loop has terminated; new registrations are rejected.
	sess := NewSession(zerolog.Nop())
	err := d.NewSession(ctx, ConnectionID{UserID: 3, SessionID: sess.ID()}, sess)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("NewSession() after CloseAll error = %v, want ErrNotRunning", err)
	}
}

func TestNewSessionMembershipFailure(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{err: errors.New("db down")}
	d := newTestDispatcher(t, memberships)

	sess := NewSession(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.NewSession(ctx, ConnectionID{UserID: 1, SessionID: sess.ID()}, sess); err == nil {
		t.Error("NewSession() error = nil, want membership resolution failure")
	}
	if d.QueryConnected(ctx, 1) {
		t.Error("QueryConnected() = true after failed registration")
	}
}

func TestUnboundDispatcher(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	sess := NewSession(zerolog.Nop())
	regCtx, regCancel := context.WithTimeout(context.Background(), time.Second)
	defer regCancel()
	err := d.NewSession(regCtx, ConnectionID{UserID: 1, SessionID: sess.ID()}, sess)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("NewSession() on unbound dispatcher error = %v, want ErrNotReady", err)
	}
	if d.QueryConnected(regCtx, 1) {
		t.Error("QueryConnected() = true on unbound dispatcher")
	}
}

func TestInboundForwarding(t *testing.T) {
	t.Parallel()
	memberships := &fakeMemberships{guilds: map[snowflake.ID][]snowflake.ID{1: {10}}}
	inbound := newFakeInbound()

	d := NewDispatcher(zerolog.Nop())
	d.Bind(Collaborators{Memberships: memberships, Inbound: inbound})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, sess := connect(t, d, 1)

	msg := &event.ClientMessage{Type: event.TypeStartTyping, Data: &event.StartTypingData{ChannelID: 9}}
	sess.PublishInbound(msg)

	select {
	case got := <-inbound.msgs:
		if got.Conn != conn {
			t.Errorf("inbound conn = %v, want %v", got.Conn, conn)
		}
		if got.Msg.Type != event.TypeStartTyping {
			t.Errorf("inbound type = %s, want START_TYPING", got.Msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound message never reached the handler")
	}
}
