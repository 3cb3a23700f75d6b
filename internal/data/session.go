package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// aiSessionRepo implements the AI session repository
type aiSessionRepo struct {
	db *sql.DB
}

// NewAiSessionRepo creates a new AI session repository
func NewAiSessionRepo(db *sql.DB) repo.AiSessionRepo {
	return &aiSessionRepo{db: db}
}

const sessionColumns = `id, tenant_id, thread_id, channel_id, user_id, provider, mode, model, history, status, created_at, updated_at, closed_at`

func scanSession(row rowScanner) (*domain.AiSession, error) {
	var s domain.AiSession
	var mode, history, status string
	var createdAt, updatedAt, closedAt int64
	err := row.Scan(&s.ID, &s.TenantID, &s.ThreadID, &s.ChannelID, &s.UserID, &s.Provider, &mode, &s.Model,
		&history, &status, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	s.Mode = domain.SessionMode(mode)
	s.Status = domain.SessionStatus(status)
	s.CreatedAt = fromUnix(createdAt)
	s.UpdatedAt = fromUnix(updatedAt)
	if closedAt != 0 {
		t := fromUnix(closedAt)
		s.ClosedAt = &t
	}
	if err := json.Unmarshal([]byte(history), &s.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return &s, nil
}

// Get gets a session by id
func (r *aiSessionRepo) Get(ctx context.Context, id string) (*domain.AiSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM ai_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

// GetByThread gets the most recent session bound to a thread
func (r *aiSessionRepo) GetByThread(ctx context.Context, tenantID, threadID string) (*domain.AiSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM ai_sessions
		WHERE tenant_id = ? AND thread_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, threadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

// Save saves a session
func (r *aiSessionRepo) Save(ctx context.Context, s *domain.AiSession) error {
	history := s.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	var closedAt int64
	if s.ClosedAt != nil {
		closedAt = s.ClosedAt.Unix()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ai_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.TenantID, s.ThreadID, s.ChannelID, s.UserID, s.Provider, string(s.Mode), s.Model,
		string(data), string(s.Status), toUnix(s.CreatedAt), toUnix(s.UpdatedAt), closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListActive lists the tenant's open sessions, most recently updated first
func (r *aiSessionRepo) ListActive(ctx context.Context, tenantID string) ([]*domain.AiSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM ai_sessions
		WHERE tenant_id = ? AND status = ?
		ORDER BY updated_at DESC
	`, tenantID, string(domain.SessionActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.AiSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
