package negotiation

import (
	"sort"
	"sync"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
)

type BroadcasterState int

const (
	BroadcasterIdle BroadcasterState = iota
	BroadcasterBroadcasting
	BroadcasterHalted
)

func (s BroadcasterState) String() string {
	switch s {
	case BroadcasterIdle:
		return "idle"
	case BroadcasterBroadcasting:
		return "broadcasting"
	case BroadcasterHalted:
		return "halted"
	}
	return "unknown"
}

// SubState is the state of one viewer as seen by the broadcaster.
type SubState int

const (
	SubRequested SubState = iota
	SubOfferSent
	SubConnected
	SubDisconnected
)

func (s SubState) String() string {
	switch s {
	case SubRequested:
		return "requested"
	case SubOfferSent:
		return "offerSent"
	case SubConnected:
		return "connected"
	case SubDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type viewerLink struct {
	*link

	mu             sync.Mutex
	state          SubState
	offered        bool
	awaitingAnswer bool
}

func (v *viewerLink) State() SubState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *viewerLink) setState(s SubState) SubState {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.state
	v.state = s
	return prev
}

// Broadcaster publishes one media source to every viewer that asks for it,
// holding one transport per viewer.
type Broadcaster struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	state   BroadcasterState
	source  port.MediaSource
	viewers map[domain.ConnectionID]*viewerLink
}

func NewBroadcaster(cfg Config) *Broadcaster {
	return &Broadcaster{
		cfg:     cfg,
		log:     cfg.logger("broadcaster"),
		viewers: make(map[domain.ConnectionID]*viewerLink),
	}
}

func (b *Broadcaster) ID() domain.ConnectionID {
	return b.cfg.ID
}

func (b *Broadcaster) State() BroadcasterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broadcaster) Broadcasting() bool {
	return b.State() == BroadcasterBroadcasting
}

// Viewers returns the ids of viewers with a live sub-session, sorted.
func (b *Broadcaster) Viewers() []domain.ConnectionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]domain.ConnectionID, 0, len(b.viewers))
	for id := range b.viewers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Broadcaster) ViewerState(id domain.ConnectionID) (SubState, bool) {
	b.mu.Lock()
	v, ok := b.viewers[id]
	b.mu.Unlock()
	if !ok {
		return SubDisconnected, false
	}
	return v.State(), true
}

// Start begins broadcasting src. It is a no-op while already broadcasting.
func (b *Broadcaster) Start(src port.MediaSource) error {
	b.mu.Lock()
	if b.state == BroadcasterBroadcasting {
		b.mu.Unlock()
		return nil
	}
	if src == nil || src.TrackCount() == 0 {
		b.mu.Unlock()
		return domain.ErrInvalidSource
	}
	b.source = src
	b.state = BroadcasterBroadcasting
	b.mu.Unlock()

	b.log.Info().Str("stream_id", src.StreamID()).Int("tracks", src.TrackCount()).Msg("Broadcasting")
	b.cfg.emit(Event{Kind: EventBroadcasting})
	return nil
}

// Stop halts the broadcast and disconnects every viewer.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.state != BroadcasterBroadcasting {
		b.mu.Unlock()
		return
	}
	b.state = BroadcasterHalted
	b.source = nil
	viewers := b.viewers
	b.viewers = make(map[domain.ConnectionID]*viewerLink)
	b.mu.Unlock()

	for id, v := range viewers {
		v.close()
		v.setState(SubDisconnected)
		b.cfg.emit(Event{Kind: EventViewerDisconnected, Peer: id})
	}
	b.log.Info().Int("viewers", len(viewers)).Msg("Broadcast halted")
	b.cfg.emit(Event{Kind: EventHalted})
}

// HandleMessage consumes a negotiation message addressed to this
// broadcaster. Anything that does not match a live sub-session is dropped.
func (b *Broadcaster) HandleMessage(msg domain.NegotiationMessage) {
	if !msg.Target.IsZero() && msg.Target != b.cfg.ID {
		b.log.Debug().Str("target", msg.Target.String()).Str("action", string(msg.Action)).Msg("Ignoring message for another peer")
		return
	}
	switch msg.Action {
	case domain.ActionRequest:
		b.handleRequest(msg.Sender)
	case domain.ActionAnswer:
		if msg.SDP == nil {
			return
		}
		desc := *msg.SDP
		if v := b.viewer(msg.Sender); v != nil {
			v.enqueue(func() { b.applyAnswer(v, desc) })
		}
	case domain.ActionCandidate:
		if msg.Candidate == nil {
			return
		}
		c := *msg.Candidate
		if v := b.viewer(msg.Sender); v != nil {
			v.enqueue(func() { v.addCandidate(c) })
		}
	default:
		b.log.Debug().Str("action", string(msg.Action)).Msg("Ignoring unexpected action")
	}
}

func (b *Broadcaster) viewer(id domain.ConnectionID) *viewerLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewers[id]
}

func (b *Broadcaster) handleRequest(viewerID domain.ConnectionID) {
	if viewerID.IsZero() {
		return
	}
	l := b.log.With().Str("viewer_id", viewerID.String()).Logger()

	b.mu.Lock()
	if b.state != BroadcasterBroadcasting {
		b.mu.Unlock()
		l.Debug().Msg("Ignoring request while not broadcasting")
		return
	}
	src := b.source
	v := &viewerLink{link: newLink(viewerID, l)}
	transport, err := b.cfg.Transports.NewTransport(b.events(v))
	if err != nil {
		b.mu.Unlock()
		l.Error().Err(err).Msg("Failed to create transport")
		return
	}
	v.transport = transport
	old := b.viewers[viewerID]
	b.viewers[viewerID] = v
	b.mu.Unlock()

	if old != nil {
		l.Debug().Msg("Replacing previous sub-session")
		old.close()
	}

	if err := transport.AttachSource(src); err != nil {
		l.Error().Err(err).Msg("Failed to attach media source")
		b.detach(v)
		v.close()
		return
	}

	v.start()
	v.enqueue(func() { b.offer(v) })
	v.arm(b.cfg.timeout(), func() { b.expire(v) })
	l.Info().Msg("Viewer requested broadcast")
}

func (b *Broadcaster) events(v *viewerLink) port.TransportEvents {
	return port.TransportEvents{
		OnCandidate: func(c domain.Candidate) {
			v.enqueue(func() { b.send(v, domain.NewCandidate(b.cfg.ID, v.remote, c)) })
		},
		OnConnectivity: func(s domain.ConnectivityState) {
			v.enqueue(func() { b.connectivity(v, s) })
		},
		OnNegotiationNeeded: func() {
			v.enqueue(func() { b.renegotiate(v) })
		},
	}
}

// offer creates and sends an offer. Worker only.
func (b *Broadcaster) offer(v *viewerLink) {
	if !v.transport.Stable() {
		v.log.Debug().Msg("Signaling state not stable, skipping offer")
		return
	}
	desc, err := v.transport.CreateOffer()
	if err != nil {
		v.log.Error().Err(err).Msg("Failed to create offer")
		return
	}

	v.mu.Lock()
	v.offered = true
	v.awaitingAnswer = true
	if v.state == SubRequested {
		v.state = SubOfferSent
	}
	v.mu.Unlock()

	b.send(v, domain.NewOffer(b.cfg.ID, v.remote, desc))
}

// renegotiate reacts to the transport asking for a new offer. Triggers that
// arrive before the first offer or while an offer is unanswered are dropped:
// the pending offer already covers them and the transport asks again once
// signaling is stable with work left over. Worker only.
func (b *Broadcaster) renegotiate(v *viewerLink) {
	v.mu.Lock()
	ready := v.offered && !v.awaitingAnswer
	v.mu.Unlock()

	if !ready {
		v.log.Debug().Msg("Offer in flight, dropping negotiation request")
		return
	}
	b.offer(v)
}

// applyAnswer is a worker task.
func (b *Broadcaster) applyAnswer(v *viewerLink, desc domain.SessionDescription) {
	v.mu.Lock()
	waiting := v.awaitingAnswer
	v.mu.Unlock()
	if !waiting {
		v.log.Debug().Msg("Ignoring answer without a pending offer")
		return
	}

	if err := v.setRemote(desc); err != nil {
		v.log.Warn().Err(err).Msg("Failed to set remote description")
		return
	}

	v.mu.Lock()
	v.awaitingAnswer = false
	v.mu.Unlock()
}

// connectivity is a worker task.
func (b *Broadcaster) connectivity(v *viewerLink, s domain.ConnectivityState) {
	switch s {
	case domain.ConnectivityConnected:
		if prev := v.setState(SubConnected); prev == SubConnected {
			return
		}
		v.disarm()
		v.log.Info().Msg("Viewer connected")
		b.cfg.emit(Event{Kind: EventViewerConnected, Peer: v.remote})
	case domain.ConnectivityDisconnected:
		b.drop(v, "Viewer disconnected")
	}
}

// expire is a worker task.
func (b *Broadcaster) expire(v *viewerLink) {
	if v.State() == SubConnected {
		return
	}
	b.drop(v, "Negotiation timed out")
}

func (b *Broadcaster) drop(v *viewerLink, reason string) {
	current := b.detach(v)
	v.close()
	v.setState(SubDisconnected)
	if !current {
		return
	}
	v.log.Info().Msg(reason)
	b.cfg.emit(Event{Kind: EventViewerDisconnected, Peer: v.remote})
}

// detach removes v if it is still the live sub-session for its viewer.
func (b *Broadcaster) detach(v *viewerLink) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.viewers[v.remote] != v {
		return false
	}
	delete(b.viewers, v.remote)
	return true
}

func (b *Broadcaster) send(v *viewerLink, msg domain.NegotiationMessage) {
	if err := b.cfg.Signaler.SendNegotiation(msg); err != nil {
		v.log.Error().Err(err).Str("action", string(msg.Action)).Msg("Failed to send negotiation message")
	}
}
