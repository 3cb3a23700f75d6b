package repo

import (
	"context"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// BotRepo persists tenant records. Get returns nil, nil when the bot does not exist.
type BotRepo interface {
	Get(ctx context.Context, id string) (*domain.Bot, error)
	List(ctx context.Context) ([]*domain.Bot, error)
	Save(ctx context.Context, bot *domain.Bot) error

	// UpdateStatus persists the connection status
	UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error

	// UpdateIdentity persists the display name and avatar reported by the gateway
	UpdateIdentity(ctx context.Context, id, displayName, avatarURL string) error

	// UpdateLiveProfiles persists live profile transitions
	UpdateLiveProfiles(ctx context.Context, id string, profiles []domain.LiveProfile) error
}

// FlowRepo reads flow graphs; flows are read fresh on every dispatch
type FlowRepo interface {
	ListPublished(ctx context.Context, tenantID string) ([]*domain.FlowGraph, error)
	Save(ctx context.Context, flow *domain.FlowGraph) error
}

// StateRepo is the per-tenant key/value store written by set_state actions
type StateRepo interface {
	GetState(ctx context.Context, tenantID, key string) (string, bool, error)
	SetState(ctx context.Context, tenantID, key, value string) error
}
