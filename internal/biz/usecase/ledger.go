package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// LedgerConfig contains usage accounting options
type LedgerConfig struct {
	// CountUnreportedTokens is charged when a provider reports no usage; 0 skips
	CountUnreportedTokens int64
}

// UsageLedger enforces token quotas and records provider usage
type UsageLedger struct {
	limits repo.TokenLimitRepo
	usage  repo.UsageRepo
	cfg    LedgerConfig
	log    logrus.FieldLogger
	locks  keyedMutex
	now    func() time.Time
}

// NewUsageLedger creates a new usage ledger
func NewUsageLedger(limits repo.TokenLimitRepo, usage repo.UsageRepo, cfg LedgerConfig, log logrus.FieldLogger) *UsageLedger {
	return &UsageLedger{
		limits: limits,
		usage:  usage,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

func limitKey(tenantID, providerID string) string {
	return tenantID + "/" + providerID
}

// loadLimit loads or lazily creates a limit and applies calendar resets.
// Caller holds the key lock.
func (l *UsageLedger) loadLimit(ctx context.Context, tenantID, providerID string) (*domain.TokenLimit, error) {
	now := l.now()
	limit, err := l.limits.GetLimit(ctx, tenantID, providerID)
	if err != nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}
	dirty := false
	if limit == nil {
		limit = domain.NewTokenLimit(tenantID, providerID, now)
		dirty = true
	}
	if limit.ResetExpired(now) {
		dirty = true
	}
	if dirty {
		if err := l.limits.SaveLimit(ctx, limit); err != nil {
			return nil, fmt.Errorf("save limit: %w", err)
		}
	}
	return limit, nil
}

// CheckLimit decides whether a request may go to the provider
func (l *UsageLedger) CheckLimit(ctx context.Context, tenantID, providerID string, isAdmin bool) (*domain.LimitDecision, error) {
	unlock := l.locks.Lock(limitKey(tenantID, providerID))
	defer unlock()

	limit, err := l.loadLimit(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	decision := limit.Check(isAdmin)
	if !decision.Allowed {
		quotaRejections.WithLabelValues(string(decision.Window)).Inc()
	}
	return &decision, nil
}

// RecordUsage appends a usage entry and charges the counters. Recording is
// never rejected, even when it pushes a counter past its limit.
func (l *UsageLedger) RecordUsage(ctx context.Context, entry *domain.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if err := l.usage.AppendUsage(ctx, entry); err != nil {
		return fmt.Errorf("append usage: %w", err)
	}

	tokens := l.cfg.CountUnreportedTokens
	if entry.TokensUsed != nil {
		tokens = *entry.TokensUsed
	}
	if tokens <= 0 {
		return nil
	}

	unlock := l.locks.Lock(limitKey(entry.TenantID, entry.ProviderID))
	defer unlock()

	limit, err := l.loadLimit(ctx, entry.TenantID, entry.ProviderID)
	if err != nil {
		return err
	}
	limit.Add(tokens, l.now())
	if err := l.limits.SaveLimit(ctx, limit); err != nil {
		return fmt.Errorf("save limit: %w", err)
	}
	tokensUsed.WithLabelValues(entry.ProviderID).Add(float64(tokens))
	return nil
}

// CheckAndResetLimits applies calendar resets to every stored limit and
// returns how many records changed
func (l *UsageLedger) CheckAndResetLimits(ctx context.Context) (int, error) {
	all, err := l.limits.ListAllLimits(ctx)
	if err != nil {
		return 0, fmt.Errorf("list limits: %w", err)
	}
	changed := 0
	for _, limit := range all {
		unlock := l.locks.Lock(limitKey(limit.TenantID, limit.ProviderID))
		if limit.ResetExpired(l.now()) {
			if err := l.limits.SaveLimit(ctx, limit); err != nil {
				unlock()
				return changed, fmt.Errorf("save limit: %w", err)
			}
			changed++
		}
		unlock()
	}
	if changed > 0 {
		l.log.WithField("count", changed).Info("limits reset")
	}
	return changed, nil
}

// ManualReset zeroes one window of a limit and leaves the others untouched
func (l *UsageLedger) ManualReset(ctx context.Context, tenantID, providerID string, window domain.LimitWindow) error {
	unlock := l.locks.Lock(limitKey(tenantID, providerID))
	defer unlock()

	limit, err := l.loadLimit(ctx, tenantID, providerID)
	if err != nil {
		return err
	}
	limit.Reset(window, l.now())
	if err := l.limits.SaveLimit(ctx, limit); err != nil {
		return fmt.Errorf("save limit: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"provider":  providerID,
		"window":    window,
	}).Info("limit manually reset")
	return nil
}

// LimitSettings are the admin-editable fields of a limit
type LimitSettings struct {
	Daily       int64
	Weekly      int64
	Monthly     int64
	AdminBypass bool
	Enabled     bool
}

// SetLimits updates quota thresholds, keeping the counters
func (l *UsageLedger) SetLimits(ctx context.Context, tenantID, providerID string, s LimitSettings) (*domain.TokenLimit, error) {
	unlock := l.locks.Lock(limitKey(tenantID, providerID))
	defer unlock()

	limit, err := l.loadLimit(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	limit.Daily.Limit = s.Daily
	limit.Weekly.Limit = s.Weekly
	limit.Monthly.Limit = s.Monthly
	limit.AdminBypass = s.AdminBypass
	limit.Enabled = s.Enabled
	limit.UpdatedAt = l.now()
	if err := l.limits.SaveLimit(ctx, limit); err != nil {
		return nil, fmt.Errorf("save limit: %w", err)
	}
	return limit, nil
}

// Summary returns limits and month-to-date usage for a tenant
func (l *UsageLedger) Summary(ctx context.Context, tenantID string) (*domain.UsageSummary, error) {
	if _, err := l.CheckAndResetLimits(ctx); err != nil {
		return nil, err
	}
	limits, err := l.limits.ListLimits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	since := domain.WindowStart(domain.WindowMonthly, l.now())
	providers, err := l.usage.SummarizeUsage(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	total := decimal.Zero
	for _, p := range providers {
		total = total.Add(p.CostUSD)
	}
	return &domain.UsageSummary{
		TenantID:  tenantID,
		Providers: providers,
		Limits:    limits,
		TotalCost: total,
	}, nil
}

// CostFor prices a call from the catalog entry of its model
func CostFor(model *domain.ModelInfo, promptTokens, completionTokens int64, images int) decimal.Decimal {
	if model == nil {
		return decimal.Zero
	}
	thousand := decimal.NewFromInt(1000)
	cost := model.PromptPer1K.Mul(decimal.NewFromInt(promptTokens)).Div(thousand)
	cost = cost.Add(model.CompletionPer1K.Mul(decimal.NewFromInt(completionTokens)).Div(thousand))
	cost = cost.Add(model.PerImage.Mul(decimal.NewFromInt(int64(images))))
	return cost
}
