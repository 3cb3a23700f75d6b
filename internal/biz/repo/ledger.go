package repo

import (
	"context"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// TokenLimitRepo persists quota records. GetLimit returns nil, nil when missing.
type TokenLimitRepo interface {
	GetLimit(ctx context.Context, tenantID, providerID string) (*domain.TokenLimit, error)
	SaveLimit(ctx context.Context, limit *domain.TokenLimit) error
	ListLimits(ctx context.Context, tenantID string) ([]*domain.TokenLimit, error)
	ListAllLimits(ctx context.Context) ([]*domain.TokenLimit, error)
}

// UsageRepo is the append-only usage log
type UsageRepo interface {
	AppendUsage(ctx context.Context, entry *domain.UsageLogEntry) error

	// SummarizeUsage aggregates entries created at or after since, per provider
	SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]domain.ProviderUsage, error)
}
