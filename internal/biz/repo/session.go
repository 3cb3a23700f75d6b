package repo

import (
	"context"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// AiSessionRepo persists AI sessions (SQLite)
type AiSessionRepo interface {
	// Get gets a session by id, nil when missing
	Get(ctx context.Context, id string) (*domain.AiSession, error)

	// GetByThread gets the session bound to a thread, nil when missing
	GetByThread(ctx context.Context, tenantID, threadID string) (*domain.AiSession, error)

	// Save creates or updates a session
	Save(ctx context.Context, session *domain.AiSession) error

	// ListActive lists the tenant's sessions that are not closed
	ListActive(ctx context.Context, tenantID string) ([]*domain.AiSession, error)
}
