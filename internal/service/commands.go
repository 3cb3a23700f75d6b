package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

const (
	commandAI    = "ai"
	commandPurge = "purge"

	defaultPurgeCount = 100
)

var builtinCommands = []domain.CommandSpec{
	{Name: commandAI, Description: "AI assistant: start, close, provider, mode, model, models, usage"},
	{Name: commandPurge, Description: "Delete recent messages in this channel (admins only)"},
}

func isBuiltin(name string) bool {
	name = domain.NormalizeCommandName(name)
	return name == commandAI || name == commandPurge
}

const aiHelp = "Usage: /ai start | close | provider <id> | mode <auto|chat|image|audio|video|music> | model <id> | models | usage"

// handleCommand runs a built-in command
func (m *Manager) handleCommand(ctx context.Context, env *usecase.TenantEnv, ev *domain.Event) {
	var text string
	ephemeral := false
	switch domain.NormalizeCommandName(ev.Command) {
	case commandAI:
		text, ephemeral = m.aiCommand(ctx, env, ev)
	case commandPurge:
		text, ephemeral = m.purgeCommand(ctx, env, ev)
	}
	if text == "" {
		return
	}
	err := env.Gateway.Respond(ctx, ev, text, ephemeral)
	if errors.Is(err, repo.ErrAlreadyAcknowledged) {
		// Answered elsewhere first; deliver once as a plain message instead
		channelID := ev.ConversationChannel()
		if channelID == "" {
			return
		}
		_, err = env.Gateway.SendMessage(ctx, channelID, text)
	}
	if err != nil {
		env.Log.WithError(err).WithField("command", ev.Command).Warn("respond to command")
	}
}

// commandArgs splits the free text of a command into a subcommand and its argument
func commandArgs(ev *domain.Event) (sub, arg string) {
	if v := ev.Options["action"]; v != "" {
		return strings.ToLower(v), strings.TrimSpace(ev.Options["value"])
	}
	fields := strings.Fields(ev.Content)
	if len(fields) == 0 {
		return "", ""
	}
	return strings.ToLower(fields[0]), strings.Join(fields[1:], " ")
}

// sessionThread is the thread an /ai command refers to. Outside a thread
// the command message itself becomes the thread root.
func sessionThread(ev *domain.Event) string {
	if ev.ThreadID != "" {
		return ev.ThreadID
	}
	return ev.ID
}

func (m *Manager) aiCommand(ctx context.Context, env *usecase.TenantEnv, ev *domain.Event) (string, bool) {
	sub, arg := commandArgs(ev)
	conv := m.uc.Conversation

	switch sub {
	case "start":
		if s, err := conv.FindByThread(ctx, env.Bot.ID, sessionThread(ev)); err == nil && s != nil && s.IsActive() {
			return "An AI session is already active in this thread.", true
		}
		s, err := conv.StartSession(ctx, env.Bot, ev.ChannelID, sessionThread(ev), ev.UserID)
		if errors.Is(err, usecase.ErrNoProvider) {
			return "No AI provider is configured for this bot.", true
		}
		if err != nil {
			env.Log.WithError(err).Warn("start session")
			return "Could not start an AI session, please try again.", true
		}
		env.Log.WithField("session_id", s.ID).Info("ai session started")
		return fmt.Sprintf("🤖 AI session started with %s (mode %s). Reply in this thread to chat; /ai close ends it.", s.Provider, s.Mode), false
	case "usage":
		return m.usageText(ctx, env.Bot.ID), true
	case "", "help":
		return aiHelp, true
	}

	s, err := conv.FindByThread(ctx, env.Bot.ID, sessionThread(ev))
	if err != nil {
		env.Log.WithError(err).Warn("find session")
		return "Could not load the AI session, please try again.", true
	}
	if s == nil || !s.IsActive() {
		return "There is no active AI session in this thread. Use /ai start first.", true
	}
	if s.UserID != ev.UserID && !env.Bot.IsAdmin(ev.UserID) {
		return "Only the user who started this session can change it.", true
	}

	switch sub {
	case "close":
		if _, err := conv.CloseSession(ctx, env, s.ID); err != nil {
			env.Log.WithError(err).WithField("session_id", s.ID).Warn("close session")
			return "Could not close the session, please try again.", true
		}
		return "AI session closed.", false
	case "provider":
		updated, err := conv.ChangeProvider(ctx, s.ID, arg)
		if errors.Is(err, repo.ErrUnknownProvider) {
			return fmt.Sprintf("Unknown provider %q.", arg), true
		}
		if err != nil {
			env.Log.WithError(err).Warn("change provider")
			return "Could not change the provider.", true
		}
		return fmt.Sprintf("Provider switched to %s. History was reset.", updated.Provider), false
	case "mode":
		mode, ok := parseMode(arg)
		if !ok {
			return "Mode must be one of auto, chat, image, audio, video, music.", true
		}
		updated, err := conv.ChangeMode(ctx, s.ID, mode)
		if err != nil {
			env.Log.WithError(err).Warn("change mode")
			return "Could not change the mode.", true
		}
		return fmt.Sprintf("Mode switched to %s (model: %s). History was reset.", updated.Mode, modelLabel(updated.Model)), false
	case "model":
		if arg == "" {
			return "Usage: /ai model <id>", true
		}
		updated, err := conv.ChangeModel(ctx, s.ID, arg)
		if err != nil {
			env.Log.WithError(err).Warn("change model")
			return "Could not change the model.", true
		}
		return fmt.Sprintf("Model switched to %s.", updated.Model), false
	case "models":
		models, err := conv.ModelChoices(ctx, s.ID)
		if err != nil {
			env.Log.WithError(err).Warn("list models")
			return "Could not list models.", true
		}
		if len(models) == 0 {
			return "No models are listed for this provider and mode; the provider default is used.", true
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Models for %s (%s):", s.Provider, s.Mode)
		for _, mi := range models {
			marker := ""
			if mi.ID == s.Model {
				marker = " (current)"
			}
			fmt.Fprintf(&b, "\n• %s%s", mi.ID, marker)
		}
		return b.String(), true
	}
	return aiHelp, true
}

func parseMode(s string) (domain.SessionMode, bool) {
	return domain.ParseSessionMode(s)
}

func modelLabel(model string) string {
	if model == "" {
		return "provider default"
	}
	return model
}

func (m *Manager) usageText(ctx context.Context, tenantID string) string {
	summary, err := m.uc.Ledger.Summary(ctx, tenantID)
	if err != nil {
		return "Could not load usage."
	}
	var b strings.Builder
	b.WriteString("Usage this month:")
	if len(summary.Providers) == 0 {
		b.WriteString(" nothing recorded yet.")
	}
	for _, p := range summary.Providers {
		fmt.Fprintf(&b, "\n• %s: %d requests, %d tokens, %d images, $%s", p.ProviderID, p.Requests, p.Tokens, p.Images, p.CostUSD.StringFixed(4))
	}
	for _, l := range summary.Limits {
		if !l.Enabled {
			continue
		}
		for _, w := range domain.Windows {
			c := l.Counter(w)
			if c.Limit > 0 {
				fmt.Fprintf(&b, "\n%s %s limit: %d / %d", l.ProviderID, w, c.Used, c.Limit)
			}
		}
	}
	fmt.Fprintf(&b, "\nTotal cost: $%s", summary.TotalCost.StringFixed(4))
	if active, err := m.uc.Conversation.ActiveSessions(ctx, tenantID); err == nil {
		fmt.Fprintf(&b, "\nActive AI sessions: %d", len(active))
	}
	return b.String()
}

// purgeCommand starts a purge detached from the connection. Only admins may purge.
func (m *Manager) purgeCommand(ctx context.Context, env *usecase.TenantEnv, ev *domain.Event) (string, bool) {
	if !env.Bot.IsAdmin(ev.UserID) {
		return "Only bot admins can purge messages.", true
	}
	count := defaultPurgeCount
	raw := ev.Options["count"]
	if raw == "" {
		raw, _ = commandArgs(ev)
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "Usage: /purge [count]", true
		}
		count = min(n, usecase.MaxPurgeMessages)
	}

	m.PurgeDetached(env, ev.ChannelID, count, ev.UserID)
	return fmt.Sprintf("🧹 Purging up to %d messages…", count), true
}

// PurgeDetached deletes channel history in the background and posts a
// summary to the requesting user
func (m *Manager) PurgeDetached(env *usecase.TenantEnv, channelID string, count int, requestedBy string) {
	m.detached.Add(1)
	go func() {
		defer m.detached.Done()
		ctx := context.Background()
		log := env.Log.WithField("channel_id", channelID)

		res, err := m.uc.Purge.Purge(ctx, env.Gateway, channelID, count)
		if err != nil {
			log.WithError(err).Warn("purge failed")
			return
		}

		if requestedBy == "" {
			return
		}
		text := fmt.Sprintf("🧹 Purge finished: %d messages deleted, %d failed.", res.Bulk+res.Individual, res.Failed)
		if err := env.Gateway.SendDM(ctx, requestedBy, text); err != nil {
			log.WithError(err).Warn("send purge summary")
		}
	}()
}
