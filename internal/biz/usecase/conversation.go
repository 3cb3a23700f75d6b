package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// MaxToolRounds bounds provider round-trips per message
const MaxToolRounds = 5

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when a closed session receives a message
	ErrSessionClosed = errors.New("session closed")

	// ErrNoProvider is returned when no configured provider can serve a request
	ErrNoProvider = errors.New("no provider available")
)

// ReplyFile is a generated attachment
type ReplyFile struct {
	Name string
	Data []byte
}

// Reply is what the assistant posts back
type Reply struct {
	Text     string
	Files    []ReplyFile
	Rejected bool // Quota or policy rejection; nothing was generated
}

// ConversationUsecase drives AI sessions (aggregate)
type ConversationUsecase struct {
	sessions  repo.AiSessionRepo
	providers repo.ProviderGateway
	tools     repo.ToolRegistry
	ledger    *UsageLedger
	knowledge *KnowledgeUsecase
	prompts   *PromptBuilder
	replies   ReplyConfig
	log       logrus.FieldLogger
	locks     keyedMutex
	now       func() time.Time
}

// NewConversationUsecase creates a new conversation usecase
func NewConversationUsecase(
	sessions repo.AiSessionRepo,
	providers repo.ProviderGateway,
	tools repo.ToolRegistry,
	ledger *UsageLedger,
	knowledge *KnowledgeUsecase,
	prompts *PromptBuilder,
	replies ReplyConfig,
	log logrus.FieldLogger,
) *ConversationUsecase {
	return &ConversationUsecase{
		sessions:  sessions,
		providers: providers,
		tools:     tools,
		ledger:    ledger,
		knowledge: knowledge,
		prompts:   prompts,
		replies:   replies,
		log:       log,
		now:       time.Now,
	}
}

// StartSession opens a session in a thread with the tenant's default provider
func (uc *ConversationUsecase) StartSession(ctx context.Context, bot *domain.Bot, channelID, threadID, userID string) (*domain.AiSession, error) {
	provider := uc.defaultProvider(bot)
	if provider == nil {
		return nil, ErrNoProvider
	}
	now := uc.now()
	s := &domain.AiSession{
		ID:        uuid.NewString(),
		TenantID:  bot.ID,
		ThreadID:  threadID,
		ChannelID: channelID,
		UserID:    userID,
		Provider:  provider.ID,
		Mode:      domain.ModeAuto,
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

func (uc *ConversationUsecase) defaultProvider(bot *domain.Bot) *domain.ProviderConfig {
	if bot.DefaultProvider != "" {
		if p, ok := uc.providers.Provider(bot.DefaultProvider); ok {
			return p
		}
	}
	all := uc.providers.Providers()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// FindByThread returns the session bound to a thread, nil when none
func (uc *ConversationUsecase) FindByThread(ctx context.Context, tenantID, threadID string) (*domain.AiSession, error) {
	return uc.sessions.GetByThread(ctx, tenantID, threadID)
}

// ActiveSessions lists sessions that still accept messages
func (uc *ConversationUsecase) ActiveSessions(ctx context.Context, tenantID string) ([]*domain.AiSession, error) {
	return uc.sessions.ListActive(ctx, tenantID)
}

// mutate loads a session under its lock, applies fn and saves it
func (uc *ConversationUsecase) mutate(ctx context.Context, sessionID string, fn func(s *domain.AiSession) error) (*domain.AiSession, error) {
	unlock := uc.locks.Lock(sessionID)
	defer unlock()

	s, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := uc.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// ChangeProvider switches provider; model falls back to default and history resets
func (uc *ConversationUsecase) ChangeProvider(ctx context.Context, sessionID, providerID string) (*domain.AiSession, error) {
	if _, ok := uc.providers.Provider(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", repo.ErrUnknownProvider, providerID)
	}
	return uc.mutate(ctx, sessionID, func(s *domain.AiSession) error {
		s.ChangeProvider(providerID, uc.replies.HistoryReset)
		return nil
	})
}

// ChangeMode switches mode; the model becomes the first model the provider
// offers for the mode, "" when it offers none.
func (uc *ConversationUsecase) ChangeMode(ctx context.Context, sessionID string, mode domain.SessionMode) (*domain.AiSession, error) {
	current, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if current == nil {
		return nil, ErrSessionNotFound
	}
	// The model list is fetched outside the session lock
	choices := uc.modelsFor(ctx, current.Provider, mode)

	return uc.mutate(ctx, sessionID, func(s *domain.AiSession) error {
		if s.Provider != current.Provider {
			choices = uc.modelsFor(ctx, s.Provider, mode)
		}
		defaultModel := ""
		if len(choices) > 0 {
			defaultModel = choices[0].ID
		}
		s.ChangeMode(mode, defaultModel, uc.replies.HistoryReset)
		return nil
	})
}

// modelsFor merges the configured catalog with the provider's fetched model
// list. A failed fetch falls back to the catalog alone.
func (uc *ConversationUsecase) modelsFor(ctx context.Context, providerID string, mode domain.SessionMode) []domain.ModelInfo {
	p, ok := uc.providers.Provider(providerID)
	if !ok {
		return nil
	}
	fetched, err := uc.providers.ListModels(ctx, providerID)
	if err != nil {
		uc.log.WithError(err).WithField("provider", providerID).Debug("model list unavailable, using catalog")
		fetched = nil
	}
	return p.MergeModels(mode, fetched)
}

// ChangeModel only swaps the model
func (uc *ConversationUsecase) ChangeModel(ctx context.Context, sessionID, model string) (*domain.AiSession, error) {
	return uc.mutate(ctx, sessionID, func(s *domain.AiSession) error {
		s.ChangeModel(model)
		return nil
	})
}

// ModelChoices lists the models offered for the session's provider and mode
func (uc *ConversationUsecase) ModelChoices(ctx context.Context, sessionID string) ([]domain.ModelInfo, error) {
	s, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return uc.modelsFor(ctx, s.Provider, s.Mode), nil
}

// CloseSession archives the thread and closes the session
func (uc *ConversationUsecase) CloseSession(ctx context.Context, env *TenantEnv, sessionID string) (*domain.AiSession, error) {
	return uc.mutate(ctx, sessionID, func(s *domain.AiSession) error {
		if !s.IsActive() {
			return nil
		}
		if s.ThreadID != "" && env != nil && env.Gateway != nil {
			if err := env.Gateway.ArchiveThread(ctx, s.ThreadID); err != nil {
				env.logger().WithError(err).WithField("thread_id", s.ThreadID).Warn("archive thread failed")
			}
		}
		s.Close(uc.now())
		return nil
	})
}

// HandleMessage runs one user message through the session: quota gate,
// intent routing, provider call, history and usage bookkeeping.
func (uc *ConversationUsecase) HandleMessage(ctx context.Context, env *TenantEnv, sessionID string, ev *domain.Event) (*Reply, error) {
	unlock := uc.locks.Lock(sessionID)
	defer unlock()

	s, err := uc.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if !s.IsActive() {
		return nil, ErrSessionClosed
	}

	decision, err := uc.ledger.CheckLimit(ctx, s.TenantID, s.Provider, env.Bot.IsAdmin(ev.UserID))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &Reply{Text: uc.replies.FormatQuota(decision), Rejected: true}, nil
	}

	var reply *Reply
	switch ResolveIntent(s.Mode, ev.Content) {
	case IntentVideo:
		reply = &Reply{Text: uc.replies.VideoUnsupported}
	case IntentMusic:
		reply = &Reply{Text: uc.replies.MusicUnsupported}
	case IntentImage:
		reply = uc.runImagePipeline(ctx, env, s, ev)
	case IntentSpeech:
		reply = uc.runSpeech(ctx, env, s, ev)
	default:
		reply, err = uc.runChat(ctx, env, s, ev)
		if err != nil {
			env.logger().WithError(err).WithField("session_id", s.ID).Warn("chat failed")
			return &Reply{Text: uc.replies.ProviderError}, nil
		}
	}

	s.Append(domain.RoleUser, ev.Content)
	s.Append(domain.RoleAssistant, reply.Text)
	if err := uc.sessions.Save(ctx, s); err != nil {
		return reply, fmt.Errorf("save session: %w", err)
	}
	return reply, nil
}

// runChat performs the chat call with the bounded tool loop
func (uc *ConversationUsecase) runChat(ctx context.Context, env *TenantEnv, s *domain.AiSession, ev *domain.Event) (*Reply, error) {
	provider, ok := uc.providers.Provider(s.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repo.ErrUnknownProvider, s.Provider)
	}
	model := s.Model
	if model == "" || s.Mode != domain.ModeChat && s.Mode != domain.ModeAuto {
		model = provider.DefaultModelFor(domain.ModeChat)
	}

	channel, err := uc.prompts.LoadChannel(ctx, env.Gateway, ev)
	if err != nil {
		env.logger().WithError(err).Debug("channel history unavailable")
	}
	knowledge, err := uc.knowledge.RenderContext(ctx, s.TenantID, uc.prompts.Config())
	if err != nil {
		env.logger().WithError(err).Debug("knowledge unavailable")
	}
	name := env.Bot.DisplayName
	if name == "" {
		name = env.Bot.Name
	}
	system := uc.prompts.BuildSystemPrompt(PromptInput{
		BotName:   name,
		UserID:    ev.UserID,
		Channel:   channel,
		Knowledge: knowledge,
	})

	messages := []repo.ChatMessage{{Role: domain.RoleSystem, Content: system}}
	for _, h := range s.History {
		messages = append(messages, repo.ChatMessage{Role: h.Role, Content: h.Content})
	}
	current := repo.ChatMessage{Role: domain.RoleUser, Content: ev.Content}
	if provider.Supports(domain.CapVision) {
		current.ImageURLs = imageURLs(ev.Images())
	}
	messages = append(messages, current)

	req := repo.ChatRequest{Model: model, Messages: messages}
	if provider.Supports(domain.CapTools) {
		req.Tools = uc.tools.Definitions()
	}

	resp, usage, err := uc.runToolLoop(ctx, provider.ID, req, repo.ToolCallContext{
		TenantID:  s.TenantID,
		UserID:    ev.UserID,
		ChannelID: ev.ConversationChannel(),
	})
	recordAIRequest(provider.ID, string(domain.RequestChat), err)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = uc.replies.ProviderError
	}

	uc.recordUsage(ctx, env, &domain.UsageLogEntry{
		TenantID:    s.TenantID,
		ProviderID:  provider.ID,
		UserID:      ev.UserID,
		TokensUsed:  usage.total(),
		RequestType: domain.RequestChat,
		Model:       model,
		CostUSD:     CostFor(provider.Model(model), usage.prompt, usage.completion, 0),
	})

	if env.Bot.TrainingMode {
		uc.learn(ctx, env, provider.ID, model, ev, text)
	}
	return &Reply{Text: text}, nil
}

// tokenUsage accumulates reported usage across tool rounds
type tokenUsage struct {
	prompt     int64
	completion int64
	reported   bool
}

func (u *tokenUsage) add(resp *repo.ChatResponse) {
	if !resp.UsageReported {
		return
	}
	u.reported = true
	u.prompt += resp.PromptTokens
	u.completion += resp.CompletionTokens
}

func (u *tokenUsage) total() *int64 {
	if !u.reported {
		return nil
	}
	n := u.prompt + u.completion
	return &n
}

// runToolLoop calls the provider until it stops requesting tools, at most
// MaxToolRounds times. The last round's response is final and its tool
// calls are not invoked.
func (uc *ConversationUsecase) runToolLoop(ctx context.Context, providerID string, req repo.ChatRequest, call repo.ToolCallContext) (*repo.ChatResponse, *tokenUsage, error) {
	usage := &tokenUsage{}
	var resp *repo.ChatResponse
	for round := 0; round < MaxToolRounds; round++ {
		var err error
		resp, err = uc.providers.Chat(ctx, providerID, req)
		if err != nil {
			return nil, usage, fmt.Errorf("chat round %d: %w", round+1, err)
		}
		usage.add(resp)
		// Tools requested in the last round would never reach the provider
		if len(resp.ToolCalls) == 0 || round == MaxToolRounds-1 {
			return resp, usage, nil
		}

		req.Messages = append(req.Messages, repo.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := uc.tools.Invoke(ctx, call, tc.Name, tc.Arguments)
			req.Messages = append(req.Messages, repo.ChatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
	return resp, usage, nil
}

// runSpeech synthesizes the message text with a speech-capable provider
func (uc *ConversationUsecase) runSpeech(ctx context.Context, env *TenantEnv, s *domain.AiSession, ev *domain.Event) *Reply {
	provider := uc.pickProvider(s.Provider, domain.CapSpeech)
	if provider == nil {
		return &Reply{Text: uc.replies.ProviderError}
	}
	model := provider.DefaultModelFor(domain.ModeAudio)
	if s.Mode == domain.ModeAudio && s.Model != "" && provider.ID == s.Provider {
		model = s.Model
	}

	audio, err := uc.providers.GenerateSpeech(ctx, provider.ID, repo.SpeechRequest{Model: model, Input: ev.Content})
	recordAIRequest(provider.ID, string(domain.RequestSpeech), err)
	if err != nil {
		env.logger().WithError(err).Warn("speech generation failed")
		return &Reply{Text: uc.replies.ProviderError}
	}

	uc.recordUsage(ctx, env, &domain.UsageLogEntry{
		TenantID:    s.TenantID,
		ProviderID:  provider.ID,
		UserID:      ev.UserID,
		RequestType: domain.RequestSpeech,
		Model:       model,
		CostUSD:     CostFor(provider.Model(model), int64(len(ev.Content)), 0, 0),
	})
	return &Reply{Text: "🔊", Files: []ReplyFile{{Name: "speech.mp3", Data: audio}}}
}

// pickProvider prefers the session provider, else the first provider with the capability
func (uc *ConversationUsecase) pickProvider(preferred string, capability domain.Capability) *domain.ProviderConfig {
	if p, ok := uc.providers.Provider(preferred); ok && p.Supports(capability) {
		return p
	}
	for _, p := range uc.providers.Providers() {
		if p.Supports(capability) {
			return p
		}
	}
	return nil
}

func (uc *ConversationUsecase) recordUsage(ctx context.Context, env *TenantEnv, entry *domain.UsageLogEntry) {
	if err := uc.ledger.RecordUsage(ctx, entry); err != nil {
		env.logger().WithError(err).Warn("record usage failed")
	}
}

// learn stores a training example and extracts knowledge from it
func (uc *ConversationUsecase) learn(ctx context.Context, env *TenantEnv, providerID, model string, ev *domain.Event, answer string) {
	ex, err := uc.knowledge.RecordExample(ctx, env.Bot.ID, ev.Content, answer, map[string]string{
		"channel_id": ev.ConversationChannel(),
		"user_id":    ev.UserID,
	})
	if err != nil {
		env.logger().WithError(err).Warn("record training example failed")
		return
	}
	result, err := uc.knowledge.Extract(ctx, env.Bot.ID, providerID, model, ex)
	if result != nil && result.Response != nil {
		uc.recordUsage(ctx, env, &domain.UsageLogEntry{
			TenantID:    env.Bot.ID,
			ProviderID:  providerID,
			UserID:      ev.UserID,
			TokensUsed:  result.Response.TotalTokens(),
			RequestType: domain.RequestChat,
			Model:       model,
		})
	}
	if err != nil {
		env.logger().WithError(err).Debug("knowledge extraction failed")
		return
	}
	if len(result.Entries) > 0 {
		env.logger().WithField("count", len(result.Entries)).Info("knowledge extracted")
	}
}

// imageURLs turns attachments into URLs a vision model accepts
func imageURLs(images []domain.Attachment) []string {
	var urls []string
	for _, a := range images {
		switch {
		case len(a.Data) > 0:
			ct := a.ContentType
			if ct == "" {
				ct = http.DetectContentType(a.Data)
			}
			urls = append(urls, "data:"+ct+";base64,"+base64.StdEncoding.EncodeToString(a.Data))
		case a.URL != "":
			urls = append(urls, a.URL)
		}
	}
	return urls
}
