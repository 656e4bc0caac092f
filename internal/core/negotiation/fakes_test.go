package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeSource struct {
	id     string
	tracks int
}

func (s fakeSource) StreamID() string { return s.id }
func (s fakeSource) TrackCount() int  { return s.tracks }

type fakeStream struct{ id, kind string }

func (s fakeStream) StreamID() string { return s.id }
func (s fakeStream) Kind() string     { return s.kind }

type fakeTransport struct {
	events port.TransportEvents

	mu         sync.Mutex
	attached   port.MediaSource
	remotes    []domain.SessionDescription
	candidates []domain.Candidate
	offers     int
	answers    int
	stable     bool
	remoteSet  bool
	closed     bool
}

func (t *fakeTransport) AttachSource(src port.MediaSource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = src
	return nil
}

func (t *fakeTransport) CreateOffer() (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	t.stable = false
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.offers)}, nil
}

func (t *fakeTransport) CreateAnswer() (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	t.answers++
	t.stable = true
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", t.answers)}, nil
}

func (t *fakeTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remotes = append(t.remotes, desc)
	t.remoteSet = true
	t.stable = desc.Type == domain.SDPTypeAnswer
	return nil
}

func (t *fakeTransport) AddCandidate(c domain.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errors.New("remote description not set")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) Stable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable || (t.offers == 0 && !t.remoteSet)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) remoteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.remotes)
}

func (t *fakeTransport) appliedCandidates() []domain.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Candidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) NewTransport(ev port.TransportEvents) (port.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{events: ev}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) get(t *testing.T, i int) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() > i }, waitFor, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

type recorder struct {
	msgs   chan domain.NegotiationMessage
	events chan Event
	fail   error
}

func newRecorder() *recorder {
	return &recorder{
		msgs:   make(chan domain.NegotiationMessage, 64),
		events: make(chan Event, 64),
	}
}

func (r *recorder) SendNegotiation(msg domain.NegotiationMessage) error {
	if r.fail != nil {
		return r.fail
	}
	r.msgs <- msg
	return nil
}

func (r *recorder) onEvent(ev Event) {
	r.events <- ev
}

func (r *recorder) nextMsg(t *testing.T) domain.NegotiationMessage {
	t.Helper()
	select {
	case m := <-r.msgs:
		return m
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for negotiation message")
		return domain.NegotiationMessage{}
	}
}

func (r *recorder) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) noMsg(t *testing.T) {
	t.Helper()
	select {
	case m := <-r.msgs:
		t.Fatalf("unexpected negotiation message: %+v", m)
	case <-time.After(30 * time.Millisecond):
	}
}

func (r *recorder) noEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event: %v", ev.Kind)
	case <-time.After(30 * time.Millisecond):
	}
}

func testConfig(id domain.ConnectionID, f *fakeFactory, r *recorder) Config {
	return Config{
		ID:         id,
		Transports: f,
		Signaler:   r,
		OnEvent:    r.onEvent,
	}
}
