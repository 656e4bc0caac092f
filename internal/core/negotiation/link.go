package negotiation

import (
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second

	maxPendingCandidates = 64
	taskQueueSize        = 32
)

// link is the negotiation state shared by both roles for one remote peer.
// Every task for the peer runs on the link's own goroutine, in order, so at
// most one description operation is ever in flight per peer.
type link struct {
	remote    domain.ConnectionID
	transport port.PeerTransport
	log       zerolog.Logger

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once

	timerMu sync.Mutex
	timer   *time.Timer

	// owned by the worker goroutine
	remoteSet bool
	pending   []domain.Candidate
}

func newLink(remote domain.ConnectionID, l zerolog.Logger) *link {
	return &link{
		remote: remote,
		log:    l,
		tasks:  make(chan func(), taskQueueSize),
		done:   make(chan struct{}),
	}
}

func (l *link) start() {
	go l.loop()
}

func (l *link) loop() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			if l.closed() {
				return
			}
			fn()
		}
	}
}

// enqueue schedules fn on the worker. It reports false once the link is
// closed. Never call it from the worker itself.
func (l *link) enqueue(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.disarm()
		if l.transport == nil {
			return
		}
		if err := l.transport.Close(); err != nil {
			l.log.Debug().Err(err).Msg("Error closing transport")
		}
	})
}

// arm runs fn on the worker if the link is still alive after d.
func (l *link) arm(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, func() { l.enqueue(fn) })
}

func (l *link) disarm() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// setRemote applies desc and flushes candidates that arrived before it.
// Worker only.
func (l *link) setRemote(desc domain.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		l.applyCandidate(c)
	}
	return nil
}

// addCandidate applies c, or holds it until the remote description is set.
// Worker only.
func (l *link) addCandidate(c domain.Candidate) {
	if !l.remoteSet {
		if len(l.pending) >= maxPendingCandidates {
			l.log.Warn().Int("pending", len(l.pending)).Msg("Candidate queue full, dropping oldest")
			l.pending = l.pending[1:]
		}
		l.pending = append(l.pending, c)
		return
	}
	l.applyCandidate(c)
}

func (l *link) applyCandidate(c domain.Candidate) {
	if err := l.transport.AddCandidate(c); err != nil {
		l.log.Warn().Err(err).Msg("Failed to add ICE candidate")
	}
}
