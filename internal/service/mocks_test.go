package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/data"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Gateway

type sentMessage struct {
	Target string
	Text   string
}

type fakeSession struct {
	mu        sync.Mutex
	sent      []sentMessage
	files     []string
	dms       []sentMessage
	responses []sentMessage
	acked     map[string]bool
	history   []domain.Message
	bulk      [][]string
	archived  []string
	commands  []domain.CommandSpec

	handler repo.EventHandler
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
	err     error
}

func newFakeSession(handler repo.EventHandler) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{acked: make(map[string]bool), handler: handler, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (s *fakeSession) emit(ev *domain.Event) {
	s.handler(s.ctx, ev)
}

func (s *fakeSession) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

func (s *fakeSession) Identity() repo.Identity {
	return repo.Identity{BotUserID: "ou_bot", DisplayName: "Panel Bot", AvatarURL: "https://example.com/a.png"}
}

func (s *fakeSession) RegisterCommands(ctx context.Context, cmds []domain.CommandSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = cmds
	return nil
}

func (s *fakeSession) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{Target: channelID, Text: text})
	return fmt.Sprintf("om_sent%d", len(s.sent)), nil
}

func (s *fakeSession) SendFile(ctx context.Context, channelID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, name)
	return nil
}

func (s *fakeSession) SendDM(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dms = append(s.dms, sentMessage{Target: userID, Text: text})
	return nil
}

func (s *fakeSession) Respond(ctx context.Context, ev *domain.Event, text string, ephemeral bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acked[ev.ID] {
		return repo.ErrAlreadyAcknowledged
	}
	s.acked[ev.ID] = true
	s.responses = append(s.responses, sentMessage{Target: ev.ID, Text: text})
	return nil
}

// ack marks an event as already answered
func (s *fakeSession) ack(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[eventID] = true
}

func (s *fakeSession) MentionUser(userID, name string) string { return "@" + name }

func (s *fakeSession) FetchChannel(ctx context.Context, channelID string) (*repo.ChannelInfo, error) {
	return &repo.ChannelInfo{ChannelID: channelID, Name: "general"}, nil
}

func (s *fakeSession) FetchMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history[:min(limit, len(s.history))]...), nil
}

func (s *fakeSession) BulkDeleteMessages(ctx context.Context, channelID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = append(s.bulk, ids)
	return nil
}

func (s *fakeSession) DeleteMessage(ctx context.Context, channelID, id string) error { return nil }

func (s *fakeSession) BulkDeleteHorizon() time.Duration { return 14 * 24 * time.Hour }

func (s *fakeSession) ArchiveThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, threadID)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.drop(nil)
	return nil
}

func (s *fakeSession) snapshot() (responses, sent, dms []sentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.responses...),
		append([]sentMessage(nil), s.sent...),
		append([]sentMessage(nil), s.dms...)
}

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	connects int
	sessions map[string]*fakeSession
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*fakeSession)}
}

func (g *fakeGateway) Connect(ctx context.Context, bot *domain.Bot, handler repo.EventHandler) (repo.GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	if g.err != nil {
		return nil, g.err
	}
	s := newFakeSession(handler)
	g.sessions[bot.ID] = s
	return s, nil
}

func (g *fakeGateway) session(tenantID string) *fakeSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[tenantID]
}

func (g *fakeGateway) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects
}

// Providers and tools

type fakeProviders struct {
	providers []*domain.ProviderConfig
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{providers: []*domain.ProviderConfig{{
		ID:           "openai",
		Capabilities: []domain.Capability{domain.CapChat},
		Models: []domain.ModelInfo{
			{ID: "gpt-4o-mini", Mode: domain.ModeChat},
			{ID: "dall-e-3", Mode: domain.ModeImage},
		},
	}}}
}

func (p *fakeProviders) Provider(id string) (*domain.ProviderConfig, bool) {
	for _, c := range p.providers {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (p *fakeProviders) Providers() []*domain.ProviderConfig { return p.providers }

func (p *fakeProviders) Chat(ctx context.Context, providerID string, req repo.ChatRequest) (*repo.ChatResponse, error) {
	return &repo.ChatResponse{Content: "hello there", PromptTokens: 10, CompletionTokens: 5, UsageReported: true}, nil
}

func (p *fakeProviders) GenerateImage(ctx context.Context, providerID string, req repo.ImageRequest) (*repo.ImageResult, error) {
	return nil, errors.New("not used")
}

func (p *fakeProviders) GenerateSpeech(ctx context.Context, providerID string, req repo.SpeechRequest) ([]byte, error) {
	return nil, errors.New("not used")
}

func (p *fakeProviders) ListModels(ctx context.Context, providerID string) ([]string, error) {
	return nil, nil
}

type noTools struct{}

func (noTools) Definitions() []repo.ToolSpec { return nil }

func (noTools) Invoke(ctx context.Context, call repo.ToolCallContext, name, arguments string) string {
	return "unknown tool"
}

// Prober

type fakeProber struct {
	mu    sync.Mutex
	live  map[string]bool
	errs  map[string]error
	calls int
}

func newFakeProber() *fakeProber {
	return &fakeProber{live: make(map[string]bool), errs: make(map[string]error)}
}

func (p *fakeProber) set(url string, live bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[url] = live
}

func (p *fakeProber) Probe(ctx context.Context, profile domain.LiveProfile) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[profile.URL]; err != nil {
		return false, err
	}
	return p.live[profile.URL], nil
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Fixture

type fixture struct {
	repos  *data.Repositories
	gw     *fakeGateway
	prober *fakeProber
	sink   *LogSink
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "botpanel.db"))
	require.NoError(t, err)

	log := testLogger()
	sink := NewLogSink(MaxLogRecords)
	log.AddHook(sink)

	providers := newFakeProviders()
	ledger := usecase.NewUsageLedger(repos.Limit, repos.Usage, usecase.LedgerConfig{}, log)
	knowledge := usecase.NewKnowledgeUsecase(repos.Knowledge, providers, "", log)
	conv := usecase.NewConversationUsecase(
		repos.Session, providers, noTools{}, ledger, knowledge,
		usecase.NewPromptBuilder(usecase.DefaultPromptConfig), usecase.DefaultReplyConfig, log,
	)
	uc := &biz.Usecases{
		Flow:         usecase.NewFlowUsecase(repos.Flow, repos.State, nil, log),
		Conversation: conv,
		Ledger:       ledger,
		Knowledge:    knowledge,
		Purge:        usecase.NewPurgeUsecase(0, log),
	}

	f := &fixture{repos: repos, gw: newFakeGateway(), prober: newFakeProber(), sink: sink}
	f.mgr = NewManager(repos.Bot, f.gw, f.prober, data.NewMemoryDedupe(), uc, NewRegistry(), sink, ManagerConfig{
		Monitor: MonitorConfig{InitialDelay: time.Hour, MinInterval: time.Hour, MaxInterval: 2 * time.Hour},
	}, log)

	t.Cleanup(func() {
		f.mgr.StopAll(context.Background())
		f.mgr.WaitDetached()
		repos.Close()
	})
	return f
}

func (f *fixture) saveBot(t *testing.T, bot *domain.Bot) {
	t.Helper()
	require.NoError(t, f.repos.Bot.Save(context.Background(), bot))
}

func (f *fixture) bot(t *testing.T, id string) *domain.Bot {
	t.Helper()
	b, err := f.repos.Bot.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}
