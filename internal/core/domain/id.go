package domain

import (
	"github.com/google/uuid"
)

// ConnectionID identifies one client session on the hub. Peers use it as
// their negotiation address, so it travels on the wire as a plain string.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id ConnectionID) String() string {
	return string(id)
}

func (id ConnectionID) IsZero() bool {
	return id == ""
}

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}
