package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/castroom/internal/core/domain"
)

const DefaultHistoryLimit = 100

// ChatRepository keeps the last few chat lines of every live room. Nothing
// survives a restart.
type ChatRepository struct {
	mu    sync.Mutex
	limit int
	rooms map[string][]domain.ChatMessage
}

func NewChatRepository(limit int) *ChatRepository {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ChatRepository{
		limit: limit,
		rooms: make(map[string][]domain.ChatMessage),
	}
}

func (r *ChatRepository) Save(ctx context.Context, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append(r.rooms[msg.Room], msg)
	if len(msgs) > r.limit {
		msgs = msgs[len(msgs)-r.limit:]
	}
	r.rooms[msg.Room] = msgs
	return nil
}

func (r *ChatRepository) History(ctx context.Context, room string) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.rooms[room]
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *ChatRepository) Forget(ctx context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, room)
	return nil
}
