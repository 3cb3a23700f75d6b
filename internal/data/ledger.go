package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// tokenLimitRepo implements the token limit repository
type tokenLimitRepo struct {
	db *sql.DB
}

// NewTokenLimitRepo creates a new token limit repository
func NewTokenLimitRepo(db *sql.DB) repo.TokenLimitRepo {
	return &tokenLimitRepo{db: db}
}

const limitColumns = `tenant_id, provider_id,
	daily_limit, daily_used, daily_reset_at, daily_auto,
	weekly_limit, weekly_used, weekly_reset_at, weekly_auto,
	monthly_limit, monthly_used, monthly_reset_at, monthly_auto,
	admin_bypass, enabled, updated_at`

func scanLimit(row rowScanner) (*domain.TokenLimit, error) {
	var l domain.TokenLimit
	var resets [3]int64
	var autos [3]int
	var bypass, enabled int
	var updatedAt int64
	err := row.Scan(&l.TenantID, &l.ProviderID,
		&l.Daily.Limit, &l.Daily.Used, &resets[0], &autos[0],
		&l.Weekly.Limit, &l.Weekly.Used, &resets[1], &autos[1],
		&l.Monthly.Limit, &l.Monthly.Used, &resets[2], &autos[2],
		&bypass, &enabled, &updatedAt)
	if err != nil {
		return nil, err
	}
	for i, c := range []*domain.WindowCounter{&l.Daily, &l.Weekly, &l.Monthly} {
		c.ResetAt = fromUnix(resets[i])
		c.AutoReset = autos[i] != 0
	}
	l.AdminBypass = bypass != 0
	l.Enabled = enabled != 0
	l.UpdatedAt = fromUnix(updatedAt)
	return &l, nil
}

// GetLimit gets the limit of a tenant/provider pair
func (r *tokenLimitRepo) GetLimit(ctx context.Context, tenantID, providerID string) (*domain.TokenLimit, error) {
	l, err := scanLimit(r.db.QueryRowContext(ctx, `SELECT `+limitColumns+` FROM token_limits WHERE tenant_id = ? AND provider_id = ?`,
		tenantID, providerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query limit: %w", err)
	}
	return l, nil
}

// SaveLimit creates or updates a limit
func (r *tokenLimitRepo) SaveLimit(ctx context.Context, l *domain.TokenLimit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO token_limits (`+limitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.TenantID, l.ProviderID,
		l.Daily.Limit, l.Daily.Used, toUnix(l.Daily.ResetAt), boolToInt(l.Daily.AutoReset),
		l.Weekly.Limit, l.Weekly.Used, toUnix(l.Weekly.ResetAt), boolToInt(l.Weekly.AutoReset),
		l.Monthly.Limit, l.Monthly.Used, toUnix(l.Monthly.ResetAt), boolToInt(l.Monthly.AutoReset),
		boolToInt(l.AdminBypass), boolToInt(l.Enabled), toUnix(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save limit: %w", err)
	}
	return nil
}

// ListLimits lists the limits of a tenant
func (r *tokenLimitRepo) ListLimits(ctx context.Context, tenantID string) ([]*domain.TokenLimit, error) {
	return r.list(ctx, `SELECT `+limitColumns+` FROM token_limits WHERE tenant_id = ? ORDER BY provider_id`, tenantID)
}

// ListAllLimits lists every stored limit
func (r *tokenLimitRepo) ListAllLimits(ctx context.Context) ([]*domain.TokenLimit, error) {
	return r.list(ctx, `SELECT `+limitColumns+` FROM token_limits ORDER BY tenant_id, provider_id`)
}

func (r *tokenLimitRepo) list(ctx context.Context, query string, args ...any) ([]*domain.TokenLimit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	var limits []*domain.TokenLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// usageRepo implements the append-only usage log
type usageRepo struct {
	db *sql.DB
}

// NewUsageRepo creates a new usage repository
func NewUsageRepo(db *sql.DB) repo.UsageRepo {
	return &usageRepo{db: db}
}

// AppendUsage appends a usage entry
func (r *usageRepo) AppendUsage(ctx context.Context, e *domain.UsageLogEntry) error {
	var tokens sql.NullInt64
	if e.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: *e.TokensUsed, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_log (id, tenant_id, provider_id, user_id, tokens_used, request_type, model, cost_usd, image_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.ProviderID, e.UserID, tokens, string(e.RequestType), e.Model,
		e.CostUSD.String(), e.ImageCount, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append usage: %w", err)
	}
	return nil
}

// SummarizeUsage aggregates usage per provider. Costs are summed as decimals
// in Go, SQLite would round them through REAL.
func (r *usageRepo) SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]domain.ProviderUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider_id, tokens_used, image_count, cost_usd
		FROM usage_log
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at, rowid
	`, tenantID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	byProvider := make(map[string]*domain.ProviderUsage)
	var order []string
	for rows.Next() {
		var providerID, cost string
		var tokens sql.NullInt64
		var images int64
		if err := rows.Scan(&providerID, &tokens, &images, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		p, ok := byProvider[providerID]
		if !ok {
			p = &domain.ProviderUsage{ProviderID: providerID, CostUSD: decimal.Zero}
			byProvider[providerID] = p
			order = append(order, providerID)
		}
		p.Requests++
		p.Tokens += tokens.Int64
		p.Images += images
		if d, err := decimal.NewFromString(cost); err == nil {
			p.CostUSD = p.CostUSD.Add(d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderUsage, 0, len(order))
	for _, id := range order {
		out = append(out, *byProvider[id])
	}
	return out, nil
}
