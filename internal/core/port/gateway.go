package port

import (
	"github.com/Wyydra/castroom/internal/core/domain"
)

// Connection is the hub's handle to one client session. Send must not block:
// implementations buffer and drop when the client cannot keep up.
type Connection interface {
	ID() domain.ConnectionID
	Send(ev domain.Event) error
	Close() error
}

// Signaler carries negotiation messages from a local state machine to the
// remote peer, usually through the hub.
type Signaler interface {
	SendNegotiation(msg domain.NegotiationMessage) error
}
