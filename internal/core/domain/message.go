package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyMessage = errors.New("message content cannot be empty")

// ChatMessage is a room chat line after the hub stamped it.
type ChatMessage struct {
	ID        MessageID
	Room      string
	From      string
	Text      string
	CreatedAt time.Time
}

func NewChatMessage(room, from, text string, now time.Time) (*ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	return &ChatMessage{
		ID:        NewMessageID(),
		Room:      room,
		From:      from,
		Text:      text,
		CreatedAt: now,
	}, nil
}
