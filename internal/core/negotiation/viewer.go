package negotiation

import (
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
)

type ViewerState int

const (
	ViewerIdle ViewerState = iota
	ViewerRequesting
	ViewerNegotiating
	ViewerConnected
	ViewerDisconnected
)

func (s ViewerState) String() string {
	switch s {
	case ViewerIdle:
		return "idle"
	case ViewerRequesting:
		return "requesting"
	case ViewerNegotiating:
		return "negotiating"
	case ViewerConnected:
		return "connected"
	case ViewerDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type broadcasterLink struct {
	*link
	streams map[string]bool // worker only
}

// Viewer receives one broadcast at a time.
type Viewer struct {
	cfg Config
	log zerolog.Logger

	mu           sync.Mutex
	state        ViewerState
	target       domain.ConnectionID
	session      *broadcasterLink
	requestTimer *time.Timer
}

func NewViewer(cfg Config) *Viewer {
	return &Viewer{
		cfg: cfg,
		log: cfg.logger("viewer"),
	}
}

func (v *Viewer) ID() domain.ConnectionID {
	return v.cfg.ID
}

func (v *Viewer) State() ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Target is the broadcaster being watched, if any.
func (v *Viewer) Target() domain.ConnectionID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.target
}

// Watch asks broadcasterID for its stream.
func (v *Viewer) Watch(broadcasterID domain.ConnectionID) error {
	if broadcasterID.IsZero() {
		return fmt.Errorf("watch: %w", domain.ErrNoBroadcaster)
	}

	v.mu.Lock()
	if v.state != ViewerIdle && v.state != ViewerDisconnected {
		v.mu.Unlock()
		return domain.ErrAlreadyWatching
	}
	v.state = ViewerRequesting
	v.target = broadcasterID
	if d := v.cfg.timeout(); d > 0 {
		v.requestTimer = time.AfterFunc(d, func() { v.requestExpired(broadcasterID) })
	}
	v.mu.Unlock()

	v.log.Info().Str("broadcaster_id", broadcasterID.String()).Msg("Requesting broadcast")
	if err := v.cfg.Signaler.SendNegotiation(domain.NewRequest(v.cfg.ID, broadcasterID)); err != nil {
		v.mu.Lock()
		if v.state == ViewerRequesting && v.target == broadcasterID {
			v.state = ViewerIdle
			v.target = ""
			v.stopRequestTimer()
		}
		v.mu.Unlock()
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// Reset abandons the current broadcast, if any, and returns to idle.
func (v *Viewer) Reset() {
	v.mu.Lock()
	s := v.session
	v.session = nil
	v.state = ViewerIdle
	v.target = ""
	v.stopRequestTimer()
	v.mu.Unlock()

	if s == nil {
		return
	}
	s.close()
	v.log.Info().Str("broadcaster_id", s.remote.String()).Msg("Left broadcast")
	v.cfg.emit(Event{Kind: EventDisconnected, Peer: s.remote})
}

// HandleMessage consumes a negotiation message addressed to this viewer.
func (v *Viewer) HandleMessage(msg domain.NegotiationMessage) {
	if msg.Target != v.cfg.ID {
		v.log.Debug().Str("target", msg.Target.String()).Str("action", string(msg.Action)).Msg("Ignoring message for another peer")
		return
	}
	switch msg.Action {
	case domain.ActionOffer:
		if msg.SDP == nil || msg.Sender.IsZero() {
			return
		}
		v.handleOffer(msg.Sender, *msg.SDP)
	case domain.ActionCandidate:
		if msg.Candidate == nil {
			return
		}
		c := *msg.Candidate
		v.mu.Lock()
		s := v.session
		v.mu.Unlock()
		if s == nil || s.remote != msg.Sender {
			return
		}
		s.enqueue(func() { s.addCandidate(c) })
	default:
		v.log.Debug().Str("action", string(msg.Action)).Msg("Ignoring unexpected action")
	}
}

func (v *Viewer) handleOffer(from domain.ConnectionID, desc domain.SessionDescription) {
	l := v.log.With().Str("broadcaster_id", from.String()).Logger()

	v.mu.Lock()
	if !v.target.IsZero() && v.target != from {
		v.mu.Unlock()
		l.Debug().Msg("Ignoring offer from a broadcaster we are not watching")
		return
	}
	if s := v.session; s != nil && s.remote == from {
		v.mu.Unlock()
		s.enqueue(func() { v.answer(s, desc) })
		return
	}

	s := &broadcasterLink{link: newLink(from, l), streams: make(map[string]bool)}
	transport, err := v.cfg.Transports.NewTransport(v.events(s))
	if err != nil {
		v.mu.Unlock()
		l.Error().Err(err).Msg("Failed to create transport")
		return
	}
	s.transport = transport
	v.session = s
	v.target = from
	v.state = ViewerNegotiating
	v.stopRequestTimer()
	v.mu.Unlock()

	s.start()
	s.enqueue(func() { v.answer(s, desc) })
	s.arm(v.cfg.timeout(), func() { v.expire(s) })
}

func (v *Viewer) events(s *broadcasterLink) port.TransportEvents {
	return port.TransportEvents{
		OnCandidate: func(c domain.Candidate) {
			s.enqueue(func() { v.send(s, domain.NewCandidate(v.cfg.ID, s.remote, c)) })
		},
		OnConnectivity: func(st domain.ConnectivityState) {
			s.enqueue(func() { v.connectivity(s, st) })
		},
		OnTrack: func(stream port.RemoteStream) {
			s.enqueue(func() { v.track(s, stream) })
		},
	}
}

// answer applies an offer and replies to it. Worker only.
func (v *Viewer) answer(s *broadcasterLink, offer domain.SessionDescription) {
	if err := s.setRemote(offer); err != nil {
		s.log.Warn().Err(err).Msg("Failed to set remote description")
		return
	}
	desc, err := s.transport.CreateAnswer()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create answer")
		return
	}

	v.mu.Lock()
	if v.session == s && v.state != ViewerConnected {
		v.state = ViewerNegotiating
	}
	v.mu.Unlock()

	v.send(s, domain.NewAnswer(v.cfg.ID, s.remote, desc))
}

// connectivity is a worker task.
func (v *Viewer) connectivity(s *broadcasterLink, st domain.ConnectivityState) {
	switch st {
	case domain.ConnectivityConnected:
		v.mu.Lock()
		if v.session != s || v.state == ViewerConnected {
			v.mu.Unlock()
			return
		}
		v.state = ViewerConnected
		v.mu.Unlock()

		s.disarm()
		s.log.Info().Msg("Connected to broadcaster")
		v.cfg.emit(Event{Kind: EventConnected, Peer: s.remote})
	case domain.ConnectivityDisconnected:
		v.drop(s, "Disconnected from broadcaster")
	}
}

// track is a worker task.
func (v *Viewer) track(s *broadcasterLink, stream port.RemoteStream) {
	if stream == nil || s.streams[stream.StreamID()] {
		return
	}
	s.streams[stream.StreamID()] = true
	s.log.Info().Str("stream_id", stream.StreamID()).Str("kind", stream.Kind()).Msg("Receiving media")
	v.cfg.emit(Event{Kind: EventReceivingMedia, Peer: s.remote, Stream: stream})
}

// expire is a worker task.
func (v *Viewer) expire(s *broadcasterLink) {
	if v.State() == ViewerConnected {
		return
	}
	v.drop(s, "Negotiation timed out")
}

func (v *Viewer) drop(s *broadcasterLink, reason string) {
	v.mu.Lock()
	current := v.session == s
	if current {
		v.session = nil
		v.state = ViewerDisconnected
		v.target = ""
	}
	v.mu.Unlock()

	s.close()
	if !current {
		return
	}
	s.log.Info().Msg(reason)
	v.cfg.emit(Event{Kind: EventDisconnected, Peer: s.remote})
}

func (v *Viewer) requestExpired(target domain.ConnectionID) {
	v.mu.Lock()
	expired := v.state == ViewerRequesting && v.target == target && v.session == nil
	if expired {
		v.state = ViewerIdle
		v.target = ""
		v.requestTimer = nil
	}
	v.mu.Unlock()
	if expired {
		v.log.Warn().Str("broadcaster_id", target.String()).Msg("Broadcaster never answered the request")
	}
}

// stopRequestTimer needs v.mu held.
func (v *Viewer) stopRequestTimer() {
	if v.requestTimer != nil {
		v.requestTimer.Stop()
		v.requestTimer = nil
	}
}

func (v *Viewer) send(s *broadcasterLink, msg domain.NegotiationMessage) {
	if err := v.cfg.Signaler.SendNegotiation(msg); err != nil {
		s.log.Error().Err(err).Str("action", string(msg.Action)).Msg("Failed to send negotiation message")
	}
}
