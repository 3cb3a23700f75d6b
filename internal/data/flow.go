package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// flowRepo implements the Flow repository
type flowRepo struct {
	db *sql.DB
}

// NewFlowRepo creates a new Flow repository
func NewFlowRepo(db *sql.DB) repo.FlowRepo {
	return &flowRepo{db: db}
}

// ListPublished lists published flows in creation order
func (r *flowRepo) ListPublished(ctx context.Context, tenantID string) ([]*domain.FlowGraph, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, trigger_type, nodes, edges, published, updated_at
		FROM flows
		WHERE tenant_id = ? AND published = 1
		ORDER BY rowid
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*domain.FlowGraph
	for rows.Next() {
		var f domain.FlowGraph
		var triggerType, nodes, edges string
		var published int
		var updatedAt int64
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &triggerType, &nodes, &edges, &published, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		f.TriggerType = domain.EventType(triggerType)
		f.Published = published != 0
		f.UpdatedAt = fromUnix(updatedAt)
		if err := json.Unmarshal([]byte(nodes), &f.Nodes); err != nil {
			return nil, fmt.Errorf("failed to decode nodes of flow %s: %w", f.ID, err)
		}
		if err := json.Unmarshal([]byte(edges), &f.Edges); err != nil {
			return nil, fmt.Errorf("failed to decode edges of flow %s: %w", f.ID, err)
		}
		flows = append(flows, &f)
	}
	return flows, rows.Err()
}

// Save creates or updates a flow; updates keep its position in the list
func (r *flowRepo) Save(ctx context.Context, flow *domain.FlowGraph) error {
	nodes, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to encode nodes: %w", err)
	}
	edges, err := json.Marshal(flow.Edges)
	if err != nil {
		return fmt.Errorf("failed to encode edges: %w", err)
	}
	flow.UpdatedAt = time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (id, tenant_id, name, trigger_type, nodes, edges, published, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			trigger_type = excluded.trigger_type,
			nodes = excluded.nodes,
			edges = excluded.edges,
			published = excluded.published,
			updated_at = excluded.updated_at
	`, flow.ID, flow.TenantID, flow.Name, string(flow.TriggerType), string(nodes), string(edges),
		boolToInt(flow.Published), flow.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// stateRepo implements the flow State repository
type stateRepo struct {
	db *sql.DB
}

// NewStateRepo creates a new State repository
func NewStateRepo(db *sql.DB) repo.StateRepo {
	return &stateRepo{db: db}
}

// GetState reads a value
func (r *stateRepo) GetState(ctx context.Context, tenantID, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM flow_state WHERE tenant_id = ? AND state_key = ?`,
		tenantID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query state: %w", err)
	}
	return value, true, nil
}

// SetState writes a value
func (r *stateRepo) SetState(ctx context.Context, tenantID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flow_state (tenant_id, state_key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, tenantID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
