package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// knowledgeRepo implements the knowledge and training store
type knowledgeRepo struct {
	db *sql.DB
}

// NewKnowledgeRepo creates a new knowledge repository
func NewKnowledgeRepo(db *sql.DB) repo.KnowledgeRepo {
	return &knowledgeRepo{db: db}
}

// AddExample appends a training example
func (r *knowledgeRepo) AddExample(ctx context.Context, ex *domain.TrainingExample) error {
	meta := ex.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO training_examples (id, tenant_id, user_message, ai_response, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ex.ID, ex.TenantID, ex.UserMessage, ex.AIResponse, string(data), ex.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to add example: %w", err)
	}
	return nil
}

// RecentExamples lists the newest examples first
func (r *knowledgeRepo) RecentExamples(ctx context.Context, tenantID string, limit int) ([]*domain.TrainingExample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_message, ai_response, meta, created_at
		FROM training_examples
		WHERE tenant_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var examples []*domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		var meta string
		var createdAt int64
		if err := rows.Scan(&ex.ID, &ex.TenantID, &ex.UserMessage, &ex.AIResponse, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		ex.CreatedAt = fromUnix(createdAt)
		_ = json.Unmarshal([]byte(meta), &ex.Meta)
		examples = append(examples, &ex)
	}
	return examples, rows.Err()
}

// CountExamples counts a tenant's examples
func (r *knowledgeRepo) CountExamples(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_examples WHERE tenant_id = ?`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count examples: %w", err)
	}
	return n, nil
}

// UpsertKnowledge inserts an entry or replaces the value of the existing (tenant, category, key)
func (r *knowledgeRepo) UpsertKnowledge(ctx context.Context, e *domain.KnowledgeEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO knowledge (id, tenant_id, category, entry_key, value, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, category, entry_key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, e.ID, e.TenantID, e.Category, e.Key, e.Value, e.Confidence, e.Source, e.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge: %w", err)
	}
	return nil
}

// ListKnowledge lists entries, highest confidence and most recent first
func (r *knowledgeRepo) ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*domain.KnowledgeEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, category, entry_key, value, confidence, source, updated_at
		FROM knowledge
		WHERE tenant_id = ?
		ORDER BY confidence DESC, updated_at DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	defer rows.Close()

	var entries []*domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		var updatedAt int64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Category, &e.Key, &e.Value, &e.Confidence, &e.Source, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge: %w", err)
		}
		e.UpdatedAt = fromUnix(updatedAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
