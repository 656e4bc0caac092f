package port

import (
	"context"

	"github.com/Wyydra/castroom/internal/core/domain"
)

type ChatRepository interface {
	Save(ctx context.Context, msg domain.ChatMessage) error
	History(ctx context.Context, room string) ([]domain.ChatMessage, error)
	Forget(ctx context.Context, room string) error
}
