package domain

import (
	"fmt"
	"time"
)

// LimitWindow is a calendar quota window
type LimitWindow string

const (
	WindowDaily   LimitWindow = "daily"
	WindowWeekly  LimitWindow = "weekly"
	WindowMonthly LimitWindow = "monthly"
)

// Windows lists the quota windows in check order
var Windows = []LimitWindow{WindowDaily, WindowWeekly, WindowMonthly}

// ParseLimitWindow parses a window name
func ParseLimitWindow(s string) (LimitWindow, error) {
	switch LimitWindow(s) {
	case WindowDaily, WindowWeekly, WindowMonthly:
		return LimitWindow(s), nil
	}
	return "", fmt.Errorf("unknown limit window %q", s)
}

// WindowStart returns the start of the calendar window containing t.
// Weeks start on Monday (ISO 8601).
func WindowStart(w LimitWindow, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch w {
	case WindowWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case WindowMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// WindowCounter is the quota state of one window
type WindowCounter struct {
	Limit     int64 // 0 means unlimited
	Used      int64
	ResetAt   time.Time
	AutoReset bool
}

// Exceeded reports used >= limit > 0
func (c *WindowCounter) Exceeded() bool {
	return c.Limit > 0 && c.Used >= c.Limit
}

// TokenLimit is the quota record of a (tenant, provider) pair
type TokenLimit struct {
	TenantID    string
	ProviderID  string
	Daily       WindowCounter
	Weekly      WindowCounter
	Monthly     WindowCounter
	AdminBypass bool
	Enabled     bool
	UpdatedAt   time.Time
}

// NewTokenLimit returns an unlimited, enabled record with auto resets on
func NewTokenLimit(tenantID, providerID string, now time.Time) *TokenLimit {
	l := &TokenLimit{
		TenantID:    tenantID,
		ProviderID:  providerID,
		AdminBypass: true,
		Enabled:     true,
		UpdatedAt:   now,
	}
	for _, w := range Windows {
		c := l.Counter(w)
		c.AutoReset = true
		c.ResetAt = WindowStart(w, now)
	}
	return l
}

// Counter returns the counter of a window
func (l *TokenLimit) Counter(w LimitWindow) *WindowCounter {
	switch w {
	case WindowWeekly:
		return &l.Weekly
	case WindowMonthly:
		return &l.Monthly
	default:
		return &l.Daily
	}
}

// ResetExpired zeroes every auto-reset window whose stored reset timestamp
// predates the current window. Returns true when anything changed.
func (l *TokenLimit) ResetExpired(now time.Time) bool {
	changed := false
	for _, w := range Windows {
		c := l.Counter(w)
		if !c.AutoReset {
			continue
		}
		start := WindowStart(w, now)
		if c.ResetAt.Before(start) {
			c.Used = 0
			c.ResetAt = start
			changed = true
		}
	}
	if changed {
		l.UpdatedAt = now
	}
	return changed
}

// Reset zeroes one window only
func (l *TokenLimit) Reset(w LimitWindow, now time.Time) {
	c := l.Counter(w)
	c.Used = 0
	c.ResetAt = now
	l.UpdatedAt = now
}

// Add increments all three windows
func (l *TokenLimit) Add(tokens int64, now time.Time) {
	if tokens <= 0 {
		return
	}
	l.Daily.Used += tokens
	l.Weekly.Used += tokens
	l.Monthly.Used += tokens
	l.UpdatedAt = now
}

// LimitDecision is the result of a quota check
type LimitDecision struct {
	Allowed bool
	Window  LimitWindow
	Used    int64
	Limit   int64
}

// Check evaluates the windows daily, weekly, monthly and returns the first violation
func (l *TokenLimit) Check(isAdmin bool) LimitDecision {
	if !l.Enabled || (isAdmin && l.AdminBypass) {
		return LimitDecision{Allowed: true}
	}
	for _, w := range Windows {
		c := l.Counter(w)
		if c.Exceeded() {
			return LimitDecision{Allowed: false, Window: w, Used: c.Used, Limit: c.Limit}
		}
	}
	return LimitDecision{Allowed: true}
}
