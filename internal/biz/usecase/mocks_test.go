package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Limits and usage

type mockLimitRepo struct {
	mu     sync.Mutex
	limits map[string]domain.TokenLimit
}

func newMockLimitRepo() *mockLimitRepo {
	return &mockLimitRepo{limits: make(map[string]domain.TokenLimit)}
}

func (m *mockLimitRepo) GetLimit(ctx context.Context, tenantID, providerID string) (*domain.TokenLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[limitKey(tenantID, providerID)]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *mockLimitRepo) SaveLimit(ctx context.Context, limit *domain.TokenLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[limitKey(limit.TenantID, limit.ProviderID)] = *limit
	return nil
}

func (m *mockLimitRepo) ListLimits(ctx context.Context, tenantID string) ([]*domain.TokenLimit, error) {
	all, _ := m.ListAllLimits(ctx)
	var out []*domain.TokenLimit
	for _, l := range all {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockLimitRepo) ListAllLimits(ctx context.Context) ([]*domain.TokenLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TokenLimit
	for _, l := range m.limits {
		c := l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

type mockUsageRepo struct {
	mu      sync.Mutex
	entries []*domain.UsageLogEntry
}

func (m *mockUsageRepo) AppendUsage(ctx context.Context, entry *domain.UsageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockUsageRepo) SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]domain.ProviderUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProvider := make(map[string]*domain.ProviderUsage)
	var order []string
	for _, e := range m.entries {
		if e.TenantID != tenantID || e.CreatedAt.Before(since) {
			continue
		}
		p, ok := byProvider[e.ProviderID]
		if !ok {
			p = &domain.ProviderUsage{ProviderID: e.ProviderID, CostUSD: decimal.Zero}
			byProvider[e.ProviderID] = p
			order = append(order, e.ProviderID)
		}
		p.Requests++
		if e.TokensUsed != nil {
			p.Tokens += *e.TokensUsed
		}
		p.Images += int64(e.ImageCount)
		p.CostUSD = p.CostUSD.Add(e.CostUSD)
	}
	var out []domain.ProviderUsage
	for _, id := range order {
		out = append(out, *byProvider[id])
	}
	return out, nil
}

// Sessions

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.AiSession
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]domain.AiSession)}
}

func (m *mockSessionRepo) Get(ctx context.Context, id string) (*domain.AiSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.History = append([]domain.HistoryEntry(nil), s.History...)
	return &s, nil
}

func (m *mockSessionRepo) GetByThread(ctx context.Context, tenantID, threadID string) (*domain.AiSession, error) {
	m.mu.Lock()
	var id string
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.ThreadID == threadID {
			id = s.ID
		}
	}
	m.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return m.Get(ctx, id)
}

func (m *mockSessionRepo) Save(ctx context.Context, session *domain.AiSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *session
	s.History = append([]domain.HistoryEntry(nil), session.History...)
	m.sessions[session.ID] = s
	return nil
}

func (m *mockSessionRepo) ListActive(ctx context.Context, tenantID string) ([]*domain.AiSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AiSession
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.Status == domain.SessionActive {
			c := s
			out = append(out, &c)
		}
	}
	return out, nil
}

// Knowledge

type mockKnowledgeRepo struct {
	mu        sync.Mutex
	examples  []*domain.TrainingExample
	knowledge map[string]*domain.KnowledgeEntry
}

func newMockKnowledgeRepo() *mockKnowledgeRepo {
	return &mockKnowledgeRepo{knowledge: make(map[string]*domain.KnowledgeEntry)}
}

func (m *mockKnowledgeRepo) AddExample(ctx context.Context, ex *domain.TrainingExample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.examples = append(m.examples, ex)
	return nil
}

func (m *mockKnowledgeRepo) RecentExamples(ctx context.Context, tenantID string, limit int) ([]*domain.TrainingExample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TrainingExample
	for i := len(m.examples) - 1; i >= 0 && len(out) < limit; i-- {
		if m.examples[i].TenantID == tenantID {
			out = append(out, m.examples[i])
		}
	}
	return out, nil
}

func (m *mockKnowledgeRepo) CountExamples(ctx context.Context, tenantID string) (int, error) {
	ex, _ := m.RecentExamples(ctx, tenantID, 1<<30)
	return len(ex), nil
}

func (m *mockKnowledgeRepo) UpsertKnowledge(ctx context.Context, entry *domain.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entry.TenantID + "/" + entry.Category + "/" + entry.Key
	if existing, ok := m.knowledge[key]; ok {
		entry.ID = existing.ID
	}
	c := *entry
	m.knowledge[key] = &c
	return nil
}

func (m *mockKnowledgeRepo) ListKnowledge(ctx context.Context, tenantID string, limit int) ([]*domain.KnowledgeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.KnowledgeEntry
	for _, e := range m.knowledge {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Flows and state

type mockFlowRepo struct {
	flows []*domain.FlowGraph
}

func (m *mockFlowRepo) ListPublished(ctx context.Context, tenantID string) ([]*domain.FlowGraph, error) {
	var out []*domain.FlowGraph
	for _, f := range m.flows {
		if f.TenantID == tenantID && f.Published {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFlowRepo) Save(ctx context.Context, flow *domain.FlowGraph) error {
	m.flows = append(m.flows, flow)
	return nil
}

type mockStateRepo struct {
	mu    sync.Mutex
	state map[string]string
}

func newMockStateRepo() *mockStateRepo {
	return &mockStateRepo{state: make(map[string]string)}
}

func (m *mockStateRepo) GetState(ctx context.Context, tenantID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[tenantID+"/"+key]
	return v, ok, nil
}

func (m *mockStateRepo) SetState(ctx context.Context, tenantID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[tenantID+"/"+key] = value
	return nil
}

// Gateway

type sentMessage struct {
	ChannelID string
	Text      string
}

type mockGateway struct {
	mu          sync.Mutex
	sent        []sentMessage
	files       []string
	dms         []sentMessage
	responses   []string
	acked       map[string]bool
	history     []domain.Message // newest first
	bulkDeletes [][]string
	bulkErr     func(ids []string) error
	deletes     []string
	archived    []string
	commands    []domain.CommandSpec
	horizon     time.Duration
	done        chan struct{}
}

func newMockGateway() *mockGateway {
	return &mockGateway{acked: make(map[string]bool), horizon: 14 * 24 * time.Hour, done: make(chan struct{})}
}

func (g *mockGateway) Identity() repo.Identity {
	return repo.Identity{BotUserID: "bot-user", DisplayName: "Helper"}
}

func (g *mockGateway) RegisterCommands(ctx context.Context, cmds []domain.CommandSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = cmds
	return nil
}

func (g *mockGateway) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{ChannelID: channelID, Text: text})
	return fmt.Sprintf("m%d", len(g.sent)), nil
}

func (g *mockGateway) SendFile(ctx context.Context, channelID, name string, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = append(g.files, name)
	return nil
}

func (g *mockGateway) SendDM(ctx context.Context, userID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dms = append(g.dms, sentMessage{ChannelID: userID, Text: text})
	return nil
}

func (g *mockGateway) Respond(ctx context.Context, ev *domain.Event, text string, ephemeral bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.acked[ev.ID] {
		return repo.ErrAlreadyAcknowledged
	}
	g.acked[ev.ID] = true
	g.responses = append(g.responses, text)
	return nil
}

func (g *mockGateway) MentionUser(userID, name string) string {
	return "@" + name
}

func (g *mockGateway) FetchChannel(ctx context.Context, channelID string) (*repo.ChannelInfo, error) {
	return &repo.ChannelInfo{ChannelID: channelID, Name: "general", ServerID: "srv"}, nil
}

func (g *mockGateway) FetchMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit > len(g.history) {
		limit = len(g.history)
	}
	return append([]domain.Message(nil), g.history[:limit]...), nil
}

func (g *mockGateway) BulkDeleteMessages(ctx context.Context, channelID string, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulkDeletes = append(g.bulkDeletes, ids)
	if g.bulkErr != nil {
		return g.bulkErr(ids)
	}
	return nil
}

func (g *mockGateway) DeleteMessage(ctx context.Context, channelID, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, id)
	return nil
}

func (g *mockGateway) BulkDeleteHorizon() time.Duration { return g.horizon }

func (g *mockGateway) ArchiveThread(ctx context.Context, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.archived = append(g.archived, threadID)
	return nil
}

func (g *mockGateway) Done() <-chan struct{} { return g.done }
func (g *mockGateway) Err() error           { return nil }
func (g *mockGateway) Close() error         { return nil }

// Providers

type mockProviders struct {
	mu        sync.Mutex
	providers []*domain.ProviderConfig
	chatFn    func(call int, providerID string, req repo.ChatRequest) (*repo.ChatResponse, error)
	imageErr  error
	chatCalls int
	imageReqs []repo.ImageRequest
	speech    int
	// fetched overrides ListModels per provider; listErr fails it
	fetched map[string][]string
	listErr error
}

func newMockProviders() *mockProviders {
	return &mockProviders{
		providers: []*domain.ProviderConfig{
			{
				ID:           "openai",
				Capabilities: []domain.Capability{domain.CapChat, domain.CapTools, domain.CapVision, domain.CapImage, domain.CapSpeech},
				Models: []domain.ModelInfo{
					{ID: "gpt-4o-mini", Mode: domain.ModeChat, PromptPer1K: decimal.RequireFromString("0.001"), CompletionPer1K: decimal.RequireFromString("0.002")},
					{ID: "dall-e-3", Mode: domain.ModeImage, PerImage: decimal.RequireFromString("0.04")},
					{ID: "tts-1", Mode: domain.ModeAudio},
				},
			},
			{
				ID:           "groq",
				Capabilities: []domain.Capability{domain.CapChat},
				Models:       []domain.ModelInfo{{ID: "llama", Mode: domain.ModeChat}},
			},
		},
		chatFn: func(call int, providerID string, req repo.ChatRequest) (*repo.ChatResponse, error) {
			return &repo.ChatResponse{Content: "hello there", PromptTokens: 60, CompletionTokens: 40, UsageReported: true}, nil
		},
	}
}

func (p *mockProviders) Provider(id string) (*domain.ProviderConfig, bool) {
	for _, c := range p.providers {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (p *mockProviders) Providers() []*domain.ProviderConfig { return p.providers }

func (p *mockProviders) Chat(ctx context.Context, providerID string, req repo.ChatRequest) (*repo.ChatResponse, error) {
	p.mu.Lock()
	p.chatCalls++
	call := p.chatCalls
	p.mu.Unlock()
	return p.chatFn(call, providerID, req)
}

func (p *mockProviders) GenerateImage(ctx context.Context, providerID string, req repo.ImageRequest) (*repo.ImageResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageReqs = append(p.imageReqs, req)
	if p.imageErr != nil {
		return nil, p.imageErr
	}
	return &repo.ImageResult{Data: []byte("png"), Model: req.Model}, nil
}

func (p *mockProviders) GenerateSpeech(ctx context.Context, providerID string, req repo.SpeechRequest) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speech++
	return []byte("mp3"), nil
}

func (p *mockProviders) ListModels(ctx context.Context, providerID string) ([]string, error) {
	c, ok := p.Provider(providerID)
	if !ok {
		return nil, repo.ErrUnknownProvider
	}
	if p.listErr != nil {
		return nil, p.listErr
	}
	if ids, ok := p.fetched[providerID]; ok {
		return ids, nil
	}
	var out []string
	for _, m := range c.Models {
		out = append(out, m.ID)
	}
	return out, nil
}

// Tools

type mockTools struct {
	mu    sync.Mutex
	calls []string
}

func (t *mockTools) Definitions() []repo.ToolSpec {
	return []repo.ToolSpec{{Name: "get_time", Description: "Current time", Parameters: map[string]interface{}{"type": "object"}}}
}

func (t *mockTools) Invoke(ctx context.Context, call repo.ToolCallContext, name, arguments string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, name)
	return "12:00"
}

var errBoom = errors.New("boom")
