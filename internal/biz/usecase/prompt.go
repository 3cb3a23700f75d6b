package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// PromptConfig contains prompt configuration
type PromptConfig struct {
	SystemPrompt       string // Supports {{bot_name}}, {{server}}, {{channel}}, {{now}}
	HistoryMarker      string
	ParticipantsHeader string
	KnowledgeHeader    string
	ExamplesHeader     string

	ChannelMessages  int // Recent channel messages to include
	TrainingExamples int
	KnowledgeEntries int
}

// DefaultPromptConfig contains default prompt configuration
var DefaultPromptConfig = PromptConfig{
	SystemPrompt: `You are {{bot_name}}, an assistant in the chat server "{{server}}", channel #{{channel}}.
The current time is {{now}}. Answer directly and concisely.`,
	HistoryMarker:      "[Recent channel messages - for reference]",
	ParticipantsHeader: "## Other participants",
	KnowledgeHeader:    "## Things you have learned",
	ExamplesHeader:     "## Example answers in the expected style",
	ChannelMessages:    15,
	TrainingExamples:   5,
	KnowledgeEntries:   20,
}

// ReplyConfig contains user-facing canned replies and auxiliary prompts
type ReplyConfig struct {
	HistoryReset     string
	QuotaExceeded    string // Supports {{window}}, {{used}}, {{limit}}
	PolicyRejected   string
	ProviderError    string
	VideoUnsupported string
	MusicUnsupported string

	ImageRewrite   string
	VisionDescribe string
	Extraction     string
}

// DefaultReplyConfig contains default replies
var DefaultReplyConfig = ReplyConfig{
	HistoryReset:     "[Conversation history was reset]",
	QuotaExceeded:    "You have reached the {{window}} token limit ({{used}}/{{limit}}).",
	PolicyRejected:   "Sorry, the image provider rejected this request because it may violate its content policy.",
	ProviderError:    "Sorry, the AI provider is unavailable right now. Please try again in a moment.",
	VideoUnsupported: "Video generation is not supported yet.",
	MusicUnsupported: "Music generation is not supported yet.",
	ImageRewrite:     "Rewrite the user's image request into one short, policy-safe prompt for an image model. Output only the prompt.",
	VisionDescribe:   "Describe this image in detail so that another model can recreate or edit it.",
	Extraction:       `Extract durable facts from this exchange as a JSON array of {"category","key","value","confidence"}. Return [] if none.`,
}

// FormatQuota renders the quota rejection message
func (c ReplyConfig) FormatQuota(d *domain.LimitDecision) string {
	r := strings.NewReplacer(
		"{{window}}", string(d.Window),
		"{{used}}", fmt.Sprintf("%d", d.Used),
		"{{limit}}", fmt.Sprintf("%d", d.Limit),
	)
	return r.Replace(c.QuotaExceeded)
}

// PromptBuilder builds system prompts from channel context
type PromptBuilder struct {
	cfg PromptConfig
	now func() time.Time
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	return &PromptBuilder{cfg: cfg, now: time.Now}
}

// Config returns the prompt configuration
func (b *PromptBuilder) Config() PromptConfig {
	return b.cfg
}

// LoadChannel fetches recent channel messages (from the gateway) for an event
func (b *PromptBuilder) LoadChannel(ctx context.Context, gw repo.GatewaySession, ev *domain.Event) (*domain.ChannelContext, error) {
	channelID := ev.ConversationChannel()
	cc := &domain.ChannelContext{
		ChannelID:   channelID,
		ChannelName: ev.ChannelName,
		ServerName:  ev.ServerName,
	}
	if cc.ChannelName == "" {
		if info, err := gw.FetchChannel(ctx, channelID); err == nil && info != nil {
			cc.ChannelName = info.Name
		}
	}

	msgs, err := gw.FetchMessages(ctx, channelID, b.cfg.ChannelMessages)
	if err != nil {
		return cc, fmt.Errorf("fetch messages: %w", err)
	}
	// Gateway returns newest first
	for i := len(msgs) - 1; i >= 0; i-- {
		cc.History = append(cc.History, msgs[i])
	}
	for i := range cc.History {
		if cc.History[i].ID == ev.ID {
			cc.Current = &cc.History[i]
		}
	}
	return cc, nil
}

// PromptInput is everything the system prompt is built from
type PromptInput struct {
	BotName   string
	UserID    string
	Channel   *domain.ChannelContext
	Knowledge string
}

// BuildSystemPrompt renders the system prompt: identity, live clock,
// recent channel history, other participants, learned knowledge.
func (b *PromptBuilder) BuildSystemPrompt(in PromptInput) string {
	server, channel := "", ""
	if in.Channel != nil {
		server, channel = in.Channel.ServerName, in.Channel.ChannelName
	}
	r := strings.NewReplacer(
		"{{bot_name}}", in.BotName,
		"{{server}}", server,
		"{{channel}}", channel,
		"{{now}}", b.now().Format("Monday, 2 January 2006 15:04 MST"),
	)
	parts := []string{strings.TrimSpace(r.Replace(b.cfg.SystemPrompt))}

	if in.Channel != nil {
		if history := in.Channel.HistoryExcludingCurrent(); len(history) > 0 {
			parts = append(parts, b.formatHistory(history))
		}
		if members := in.Channel.Participants(in.UserID); len(members) > 0 {
			parts = append(parts, b.formatParticipants(members))
		}
	}
	if in.Knowledge != "" {
		parts = append(parts, in.Knowledge)
	}
	return strings.Join(parts, "\n\n")
}

func (b *PromptBuilder) formatHistory(messages []domain.Message) string {
	var sb strings.Builder
	sb.WriteString(b.cfg.HistoryMarker)
	sb.WriteString("\n")
	for _, m := range messages {
		name := m.AuthorName
		if name == "" {
			name = m.AuthorID
		}
		if m.IsBot {
			name += " (bot)"
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", name, m.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *PromptBuilder) formatParticipants(members []domain.Member) string {
	var sb strings.Builder
	sb.WriteString(b.cfg.ParticipantsHeader)
	sb.WriteString("\n")
	for _, m := range members {
		sb.WriteString("- ")
		sb.WriteString(m.FormatDisplay())
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
