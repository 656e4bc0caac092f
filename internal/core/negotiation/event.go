package negotiation

import (
	"time"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventKind int

const (
	EventBroadcasting EventKind = iota + 1
	EventHalted
	EventViewerConnected
	EventViewerDisconnected
	EventConnected
	EventDisconnected
	EventReceivingMedia
)

func (k EventKind) String() string {
	switch k {
	case EventBroadcasting:
		return "broadcasting"
	case EventHalted:
		return "halted"
	case EventViewerConnected:
		return "viewerConnected"
	case EventViewerDisconnected:
		return "viewerDisconnected"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReceivingMedia:
		return "receivingMediaStream"
	}
	return "unknown"
}

// Event is a notification from a state machine to its owner. Peer is set for
// per-peer events and Stream only for EventReceivingMedia.
type Event struct {
	Kind   EventKind
	Peer   domain.ConnectionID
	Stream port.RemoteStream
}

// Config is shared by Broadcaster and Viewer.
type Config struct {
	ID         domain.ConnectionID
	Transports port.TransportFactory
	Signaler   port.Signaler

	// OnEvent runs on whichever goroutine caused the event, never with an
	// internal lock held.
	OnEvent func(Event)

	// NegotiationTimeout bounds how long a peer may stay unconnected.
	// Zero means DefaultNegotiationTimeout, negative disables it.
	NegotiationTimeout time.Duration

	Logger *zerolog.Logger
}

func (c Config) timeout() time.Duration {
	if c.NegotiationTimeout == 0 {
		return DefaultNegotiationTimeout
	}
	return c.NegotiationTimeout
}

func (c Config) logger(role string) zerolog.Logger {
	l := log.Logger
	if c.Logger != nil {
		l = *c.Logger
	}
	return l.With().Str("role", role).Str("self", c.ID.String()).Logger()
}

func (c Config) emit(ev Event) {
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}
