package peer_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/driven/persistence/memory"
	httpadapter "github.com/Wyydra/castroom/internal/adapter/driving/http"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/negotiation"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/Wyydra/castroom/internal/core/service"
	"github.com/Wyydra/castroom/internal/peer"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type fakeSource struct{}

func (fakeSource) StreamID() string { return "cam" }
func (fakeSource) TrackCount() int  { return 1 }

// loopTransport reports connectivity as soon as offer and answer have both
// been applied, which is all the signaling path needs.
type loopTransport struct {
	ev port.TransportEvents

	mu        sync.Mutex
	n         int
	remoteSet bool
	stable    bool
}

func (t *loopTransport) AttachSource(port.MediaSource) error { return nil }

func (t *loopTransport) CreateOffer() (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	t.stable = false
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.n)}, nil
}

func (t *loopTransport) CreateAnswer() (domain.SessionDescription, error) {
	t.mu.Lock()
	t.n++
	t.stable = true
	n := t.n
	t.mu.Unlock()
	go t.connected()
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", n)}, nil
}

func (t *loopTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	t.mu.Lock()
	t.remoteSet = true
	t.stable = desc.Type == domain.SDPTypeAnswer
	t.mu.Unlock()
	if desc.Type == domain.SDPTypeAnswer {
		go t.connected()
	}
	return nil
}

func (t *loopTransport) connected() {
	if t.ev.OnCandidate != nil {
		t.ev.OnCandidate(domain.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	}
	if t.ev.OnConnectivity != nil {
		t.ev.OnConnectivity(domain.ConnectivityConnected)
	}
}

func (t *loopTransport) AddCandidate(domain.Candidate) error { return nil }

func (t *loopTransport) Stable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable || t.n == 0
}

func (t *loopTransport) Close() error { return nil }

type loopFactory struct{}

func (loopFactory) NewTransport(ev port.TransportEvents) (port.PeerTransport, error) {
	return &loopTransport{ev: ev}, nil
}

type harness struct {
	hub *service.Hub
	url string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.NewChatRepository(10)
	hub := service.NewHub(repo)
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := httpadapter.NewHandler(hub, repo, httpadapter.Options{})
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)

	return &harness{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (h *harness) dial(t *testing.T) *peer.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := peer.Dial(ctx, h.url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.WaitReady(ctx))
	return c
}

func (h *harness) waitMembers(t *testing.T, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok, err := h.hub.Room(context.Background(), room)
		return err == nil && ok && len(snap.Members) == n
	}, waitFor, 5*time.Millisecond)
}

type observed struct {
	role  peer.Role
	event string
	peer  domain.ConnectionID
}

// startApp runs an App whose callbacks feed channels.
func startApp(t *testing.T, c *peer.Client) (*peer.App, chan observed, chan domain.ChatPayload, chan domain.ErrorPayload) {
	t.Helper()
	events := make(chan observed, 64)
	chats := make(chan domain.ChatPayload, 16)
	errs := make(chan domain.ErrorPayload, 16)

	app := peer.NewApp(peer.AppConfig{
		Client:     c,
		Transports: loopFactory{},
		OnEvent: func(r peer.Role, ev negotiation.Event) {
			events <- observed{role: r, event: ev.Kind.String(), peer: ev.Peer}
		},
		OnChat:  func(p domain.ChatPayload) { chats <- p },
		OnError: func(_ string, p domain.ErrorPayload) { errs <- p },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		app.Close()
	})
	go app.Run(ctx)
	return app, events, chats, errs
}

func expect(t *testing.T, ch <-chan observed, event string) observed {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case o := <-ch:
			if o.event == event {
				return o
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
			return observed{}
		}
	}
}
