package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestType classifies a provider call for the usage ledger
type RequestType string

const (
	RequestChat   RequestType = "chat"
	RequestImage  RequestType = "image"
	RequestSpeech RequestType = "speech"
	RequestVision RequestType = "vision"
)

// UsageLogEntry is an append-only record of one provider call
type UsageLogEntry struct {
	ID          string
	TenantID    string
	ProviderID  string
	UserID      string
	TokensUsed  *int64 // Nil when the provider did not report usage
	RequestType RequestType
	Model       string
	CostUSD     decimal.Decimal
	ImageCount  int
	CreatedAt   time.Time
}

// ProviderUsage aggregates usage of one provider
type ProviderUsage struct {
	ProviderID string
	Requests   int64
	Tokens     int64
	Images     int64
	CostUSD    decimal.Decimal
}

// UsageSummary is the per-tenant usage overview
type UsageSummary struct {
	TenantID  string
	Providers []ProviderUsage
	Limits    []*TokenLimit
	TotalCost decimal.Decimal
}
