package domain

import "time"

// Knowledge categories
const (
	KnowledgeFact       = "fact"
	KnowledgePreference = "preference"
	KnowledgeIdentity   = "identity"
)

// TrainingExample is a recorded user/assistant exchange
type TrainingExample struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	UserMessage string            `json:"user_message"`
	AIResponse  string            `json:"ai_response"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// KnowledgeEntry is an extracted fact, unique per (tenant, category, key)
type KnowledgeEntry struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Category   string    `json:"category"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
}
