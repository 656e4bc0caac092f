package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id domain.ConnectionID

	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: domain.ConnectionID(id)}
}

func (c *fakeConn) ID() domain.ConnectionID { return c.id }

func (c *fakeConn) Send(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) all() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) ofType(t string) []domain.Event {
	var out []domain.Event
	for _, ev := range c.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func startHub(t *testing.T, opts ...service.HubOption) (*service.Hub, *memory.ChatRepository) {
	t.Helper()
	repo := memory.NewChatRepository(10)
	h := service.NewHub(repo, opts...)
	go h.Run()
	t.Cleanup(h.Stop)
	return h, repo
}

func TestJoin_OrderAndNotifications(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	alice, bob := newConn("a"), newConn("b")

	require.NoError(t, h.Join(ctx, "r1", "alice", alice))
	require.NoError(t, h.Join(ctx, "r1", "bob", bob))

	snap, ok, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []domain.Member{
		{Name: "alice", ConnectionID: "a"},
		{Name: "bob", ConnectionID: "b"},
	}, snap.Members)

	joins := alice.ofType(domain.EventUserJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "bob", joins[0].Data)
	assert.Empty(t, bob.ofType(domain.EventUserJoin), "joiner must not see its own userJoin")

	assert.Len(t, bob.ofType(domain.EventLoggedIn), 1)
	others := bob.ofType(domain.EventOtherUsers)
	require.Len(t, others, 1)
	assert.Equal(t, []string{"alice", "bob"}, others[0].Data)
}

func TestJoin_BlankIsNoop(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	c := newConn("a")

	require.NoError(t, h.Join(ctx, "", "alice", c))
	require.NoError(t, h.Join(ctx, "r1", "  ", c))

	rooms, err := h.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.Empty(t, c.all())
}

func TestJoin_TellsLateJoinerAboutBroadcaster(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	b, v := newConn("b1"), newConn("v1")

	require.NoError(t, h.Join(ctx, "r1", "caster", b))
	require.NoError(t, h.ClaimBroadcaster(ctx, b))
	require.NoError(t, h.Join(ctx, "r1", "viewer", v))

	started := v.ofType(domain.EventBroadcastStarted)
	require.Len(t, started, 1)
	assert.Equal(t, domain.ConnectionID("b1"), started[0].Data)
}

func TestJoin_SwitchingRoomsLeavesPrevious(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a, b := newConn("a"), newConn("b")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "bob", b))
	require.NoError(t, h.Join(ctx, "r2", "bob", b))

	r1, ok, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, memberNames(r1))

	left := a.ofType(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Data)
}

func TestJoin_SameRoomTwiceKeepsOneMember(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a := newConn("a")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "alice", a))

	r1, _, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, r1.Members, 1)
	assert.Len(t, a.ofType(domain.EventLoggedIn), 2)
}

func TestLeave_NotifiesAndPurgesEmptyRoom(t *testing.T) {
	h, repo := startHub(t)
	ctx := context.Background()
	a, b := newConn("a"), newConn("b")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "bob", b))
	require.NoError(t, h.RelayChat(ctx, "hi", a))

	require.NoError(t, h.Leave(ctx, "r1", b))
	left := a.ofType(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Data)
	assert.Empty(t, b.ofType(domain.EventUserLeft))

	require.NoError(t, h.Leave(ctx, "r1", a))
	_, ok, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "empty room should be purged")

	history, err := repo.History(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLeave_UnknownRoomOrNonMember(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a, b := newConn("a"), newConn("b")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Leave(ctx, "nope", a))
	require.NoError(t, h.Leave(ctx, "r1", b))

	r1, ok, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, r1.Members, 1)
	assert.Empty(t, a.ofType(domain.EventUserLeft))
}

func TestRelayChat(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	h, repo := startHub(t, service.WithClock(func() time.Time { return at }))
	ctx := context.Background()
	a, b, outsider := newConn("a"), newConn("b"), newConn("x")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "bob", b))

	require.NoError(t, h.RelayChat(ctx, "hello", a))
	for _, c := range []*fakeConn{a, b} {
		msgs := c.ofType(domain.EventMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.ChatPayload{From: "alice", Text: "hello", CreatedAt: at.UnixMilli()}, msgs[0].Data)
	}

	history, err := repo.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)

	err = h.RelayChat(ctx, "hi", outsider)
	require.ErrorIs(t, err, domain.ErrNotInRoom)
	assert.Equal(t, domain.CodeNotInRoom, domain.CodeOf(err))
}

func TestClaimBroadcaster(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a, b := newConn("a"), newConn("b")

	require.ErrorIs(t, h.ClaimBroadcaster(ctx, a), domain.ErrNotInRoom)

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "bob", b))
	require.NoError(t, h.ClaimBroadcaster(ctx, a))
	assert.Len(t, a.ofType(domain.EventBroadcasterConfirm), 1)
	assert.Empty(t, a.ofType(domain.EventBroadcastStarted))
	started := b.ofType(domain.EventBroadcastStarted)
	require.Len(t, started, 1)
	assert.Equal(t, domain.ConnectionID("a"), started[0].Data)

	// idempotent for the holder
	require.NoError(t, h.ClaimBroadcaster(ctx, a))

	err := h.ClaimBroadcaster(ctx, b)
	require.ErrorIs(t, err, domain.ErrBroadcasterConflict)
	assert.Equal(t, domain.CodeBroadcasterConflict, domain.CodeOf(err))

	r1, _, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("a"), r1.Broadcaster)
}

func TestClaimBroadcaster_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()

	const n = 32
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = newConn(string(rune('A' + i)))
		require.NoError(t, h.Join(ctx, "r1", conns[i].id.String(), conns[i]))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []domain.ConnectionID
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			err := h.ClaimBroadcaster(ctx, c)
			if err == nil {
				mu.Lock()
				wins = append(wins, c.id)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrBroadcasterConflict)
		}(c)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	r1, _, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, wins[0], r1.Broadcaster)
}

func TestDisconnect_BroadcasterFreesSlot(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	a, b := newConn("a"), newConn("b")

	require.NoError(t, h.Join(ctx, "r1", "alice", a))
	require.NoError(t, h.Join(ctx, "r1", "bob", b))
	require.NoError(t, h.ClaimBroadcaster(ctx, a))

	require.NoError(t, h.Disconnect(ctx, a))
	assert.Len(t, b.ofType(domain.EventBroadcasterLeft), 1)

	r1, _, err := h.Room(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r1.Broadcaster.IsZero())

	require.NoError(t, h.ClaimBroadcaster(ctx, b))
}

func TestRouteNegotiation(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	b, v, other := newConn("b1"), newConn("v1"), newConn("o1")

	require.NoError(t, h.Join(ctx, "r1", "caster", b))
	require.NoError(t, h.Join(ctx, "r1", "viewer", v))
	require.NoError(t, h.Join(ctx, "r1", "other", other))
	b.reset()
	v.reset()
	other.reset()

	req := domain.NewRequest("v1", "b1")
	require.NoError(t, h.RouteNegotiation(ctx, req, v))

	got := b.ofType(domain.EventWebRTCMessage)
	require.Len(t, got, 1)
	assert.Equal(t, req, got[0].Data)
	assert.Empty(t, v.all())
	assert.Empty(t, other.all())
}

func TestRouteNegotiation_StampsSender(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	b, v := newConn("b1"), newConn("v1")

	require.NoError(t, h.Join(ctx, "r1", "caster", b))
	require.NoError(t, h.Join(ctx, "r1", "viewer", v))
	b.reset()

	require.NoError(t, h.RouteNegotiation(ctx, domain.NewRequest("someone-else", "b1"), v))

	got := b.ofType(domain.EventWebRTCMessage)
	require.Len(t, got, 1)
	msg, ok := got[0].Data.(domain.NegotiationMessage)
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("v1"), msg.Sender)
}

func TestRouteNegotiation_UnknownTargetDropped(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	v, other := newConn("v1"), newConn("o1")

	require.NoError(t, h.Join(ctx, "r1", "viewer", v))
	require.NoError(t, h.Join(ctx, "r1", "other", other))
	v.reset()
	other.reset()

	msg := domain.NewCandidate("v1", "ghost", domain.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	require.NoError(t, h.RouteNegotiation(ctx, msg, v))
	assert.Empty(t, v.all())
	assert.Empty(t, other.all())
}

func TestRouteNegotiation_RequiresRoom(t *testing.T) {
	h, _ := startHub(t)
	ctx := context.Background()
	v := newConn("v1")
	require.NoError(t, h.Connect(ctx, v))

	err := h.RouteNegotiation(ctx, domain.NewRequest("v1", "b1"), v)
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestConnect_SendsHello(t *testing.T) {
	h, _ := startHub(t)
	c := newConn("abc")
	require.NoError(t, h.Connect(context.Background(), c))

	hello := c.ofType(domain.EventConnected)
	require.Len(t, hello, 1)
	assert.Equal(t, domain.Hello{ID: "abc"}, hello[0].Data)
}

func TestStop_ClosesClientsAndRejectsCommands(t *testing.T) {
	h := service.NewHub(nil)
	go h.Run()
	c := newConn("a")
	require.NoError(t, h.Connect(context.Background(), c))

	h.Stop()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.Join(context.Background(), "r", "n", c), domain.ErrHubStopped)
}

func memberNames(s domain.RoomSnapshot) []string {
	names := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		names = append(names, m.Name)
	}
	return names
}
