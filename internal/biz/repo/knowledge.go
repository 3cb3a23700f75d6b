package repo

import (
	"context"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// KnowledgeRepo stores training examples and extracted knowledge
type KnowledgeRepo interface {
	// Training examples (append only)
	AddExample(ctx context.Context, ex *domain.TrainingExample) error
	RecentExamples(ctx context.Context, tenantID string, limit int) ([]*domain.TrainingExample, error)
	CountExamples(ctx context.Context, tenantID string) (int, error)

	// Knowledge entries, upserted by (tenant, category, key)
	UpsertKnowledge(ctx context.Context, entry *domain.KnowledgeEntry) error
	ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*domain.KnowledgeEntry, error)
}
