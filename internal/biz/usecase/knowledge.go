package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// KnowledgeUsecase records training examples and extracted knowledge
type KnowledgeUsecase struct {
	repo      repo.KnowledgeRepo
	providers repo.ProviderGateway
	prompt    string // Extraction prompt
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewKnowledgeUsecase creates a new knowledge usecase
func NewKnowledgeUsecase(knowledgeRepo repo.KnowledgeRepo, providers repo.ProviderGateway, extractionPrompt string, log logrus.FieldLogger) *KnowledgeUsecase {
	return &KnowledgeUsecase{
		repo:      knowledgeRepo,
		providers: providers,
		prompt:    extractionPrompt,
		log:       log,
		now:       time.Now,
	}
}

// RecordExample appends a training example
func (uc *KnowledgeUsecase) RecordExample(ctx context.Context, tenantID, userMessage, aiResponse string, meta map[string]string) (*domain.TrainingExample, error) {
	ex := &domain.TrainingExample{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Meta:        meta,
		CreatedAt:   uc.now(),
	}
	if err := uc.repo.AddExample(ctx, ex); err != nil {
		return nil, fmt.Errorf("add example: %w", err)
	}
	return ex, nil
}

// Upsert stores a knowledge entry, replacing any entry with the same (tenant, category, key)
func (uc *KnowledgeUsecase) Upsert(ctx context.Context, entry *domain.KnowledgeEntry) error {
	entry.Category = strings.ToLower(strings.TrimSpace(entry.Category))
	entry.Key = strings.ToLower(strings.TrimSpace(entry.Key))
	if entry.Category == "" {
		entry.Category = domain.KnowledgeFact
	}
	if entry.Key == "" || strings.TrimSpace(entry.Value) == "" {
		return fmt.Errorf("knowledge entry needs key and value")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UpdatedAt = uc.now()
	if err := uc.repo.UpsertKnowledge(ctx, entry); err != nil {
		return fmt.Errorf("upsert knowledge: %w", err)
	}
	return nil
}

type extractedFact struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is the outcome of one extraction call
type ExtractionResult struct {
	Entries  []*domain.KnowledgeEntry
	Response *repo.ChatResponse
}

// Extract asks a chat provider for durable facts in an exchange and upserts them
func (uc *KnowledgeUsecase) Extract(ctx context.Context, tenantID, providerID, model string, ex *domain.TrainingExample) (*ExtractionResult, error) {
	resp, err := uc.providers.Chat(ctx, providerID, repo.ChatRequest{
		Model: model,
		Messages: []repo.ChatMessage{
			{Role: domain.RoleSystem, Content: uc.prompt},
			{Role: domain.RoleUser, Content: fmt.Sprintf("User: %s\nAssistant: %s", ex.UserMessage, ex.AIResponse)},
		},
		MaxTokens: 400,
	})
	recordAIRequest(providerID, "extraction", err)
	if err != nil {
		return nil, fmt.Errorf("extraction chat: %w", err)
	}

	facts, err := parseFacts(resp.Content)
	if err != nil {
		return &ExtractionResult{Response: resp}, err
	}

	result := &ExtractionResult{Response: resp}
	for _, f := range facts {
		entry := &domain.KnowledgeEntry{
			TenantID:   tenantID,
			Category:   f.Category,
			Key:        f.Key,
			Value:      f.Value,
			Confidence: clamp01(f.Confidence),
			Source:     "example:" + ex.ID,
		}
		if err := uc.Upsert(ctx, entry); err != nil {
			uc.log.WithError(err).WithField("tenant_id", tenantID).Debug("skip extracted fact")
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

// parseFacts reads a JSON array, tolerating a surrounding code fence or prose
func parseFacts(content string) ([]extractedFact, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in extraction output")
	}
	var facts []extractedFact
	if err := json.Unmarshal([]byte(content[start:end+1]), &facts); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}
	return facts, nil
}

// clamp01 bounds a confidence; a missing (zero) confidence counts as 0.5
func clamp01(v float64) float64 {
	switch {
	case v == 0:
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// RenderContext renders stored knowledge and recent examples for the system prompt
func (uc *KnowledgeUsecase) RenderContext(ctx context.Context, tenantID string, cfg PromptConfig) (string, error) {
	var parts []string

	entries, err := uc.repo.ListKnowledge(ctx, tenantID, cfg.KnowledgeEntries)
	if err != nil {
		return "", fmt.Errorf("list knowledge: %w", err)
	}
	if len(entries) > 0 {
		var sb strings.Builder
		sb.WriteString(cfg.KnowledgeHeader)
		sb.WriteString("\n")
		for _, e := range entries {
			sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", e.Category, e.Key, e.Value))
		}
		parts = append(parts, strings.TrimRight(sb.String(), "\n"))
	}

	examples, err := uc.repo.RecentExamples(ctx, tenantID, cfg.TrainingExamples)
	if err != nil {
		return "", fmt.Errorf("recent examples: %w", err)
	}
	if len(examples) > 0 {
		var sb strings.Builder
		sb.WriteString(cfg.ExamplesHeader)
		sb.WriteString("\n")
		// Oldest first
		for i := len(examples) - 1; i >= 0; i-- {
			sb.WriteString(fmt.Sprintf("User: %s\nYou: %s\n", examples[i].UserMessage, examples[i].AIResponse))
		}
		parts = append(parts, strings.TrimRight(sb.String(), "\n"))
	}

	return strings.Join(parts, "\n\n"), nil
}
