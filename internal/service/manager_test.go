package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func commandFlow(id, tenantID, command, reply string) *domain.FlowGraph {
	return &domain.FlowGraph{
		ID: id, TenantID: tenantID, Name: id, TriggerType: domain.EventInteraction, Published: true,
		Nodes: []domain.Node{
			{ID: id + "-t", Type: domain.NodeTrigger, Label: command, Data: domain.NodeData{Event: domain.EventInteraction, Command: command}},
			{ID: id + "-a", Type: domain.NodeAction, Label: "reply", Data: domain.NodeData{
				Action: &domain.Action{Kind: domain.ActionReply, Content: reply},
			}},
		},
		Edges: []domain.Edge{{Source: id + "-t", Target: id + "-a"}},
	}
}

func TestManager_StartRegistersCommandsAndGoesOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper", AppID: "cli_1", AppSecret: "s"})
	require.NoError(t, f.repos.Flow.Save(ctx, commandFlow("f1", "b1", "Hello-World", "hi {username}")))
	require.NoError(t, f.repos.Flow.Save(ctx, commandFlow("f2", "b1", "hello world", "duplicate")))
	require.NoError(t, f.repos.Flow.Save(ctx, commandFlow("f3", "b1", "AI", "shadowed")))

	require.NoError(t, f.mgr.Start(ctx, "b1"))
	assert.True(t, f.mgr.IsRunning("b1"))

	conn, ok := f.mgr.Connection("b1")
	require.True(t, ok)
	var names []string
	for _, c := range conn.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"ai", "purge", "helloworld"}, names)
	assert.Equal(t, conn.Commands, f.gw.session("b1").commands)

	bot := f.bot(t, "b1")
	assert.Equal(t, domain.BotStatusOnline, bot.Status)
	assert.Equal(t, "Panel Bot", bot.DisplayName)
	assert.Equal(t, "https://example.com/a.png", bot.AvatarURL)

	// Idempotent
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	assert.Equal(t, 1, f.gw.connectCount())
}

func TestManager_StartUnknownTenant(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Equal(t, 0, f.gw.connectCount())
}

func TestManager_InvalidCredentialIsFatal(t *testing.T) {
	f := newFixture(t)
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	f.gw.err = fmt.Errorf("%w: app secret invalid", repo.ErrInvalidCredential)

	err := f.mgr.Start(context.Background(), "b1")
	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Fatal)
	assert.Equal(t, "b1", ce.TenantID)
	assert.ErrorIs(t, err, repo.ErrInvalidCredential)

	assert.False(t, f.mgr.IsRunning("b1"))
	assert.Equal(t, domain.BotStatusError, f.bot(t, "b1").Status)
}

func TestManager_StopAndRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})

	require.NoError(t, f.mgr.Start(ctx, "b1"))
	conn, _ := f.mgr.Connection("b1")
	first := f.gw.session("b1")

	require.NoError(t, f.mgr.Stop(ctx, "b1"))
	assert.False(t, f.mgr.IsRunning("b1"))
	assert.Equal(t, domain.BotStatusOffline, f.bot(t, "b1").Status)
	assert.True(t, conn.Monitor.stopped)
	select {
	case <-first.Done():
	default:
		t.Fatal("session not closed")
	}

	// Stopping twice is harmless
	require.NoError(t, f.mgr.Stop(ctx, "b1"))

	require.NoError(t, f.mgr.Restart(ctx, "b1"))
	assert.True(t, f.mgr.IsRunning("b1"))
	assert.Equal(t, 2, f.gw.connectCount())
	assert.Equal(t, domain.BotStatusOnline, f.bot(t, "b1").Status)
}

func TestManager_ConnectionLostTearsDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(ctx, "b1"))

	f.gw.session("b1").drop(errors.New("websocket closed"))

	require.Eventually(t, func() bool { return !f.mgr.IsRunning("b1") }, waitFor, tick)
	require.Eventually(t, func() bool {
		return f.bot(t, "b1").Status == domain.BotStatusOffline
	}, waitFor, tick)
}

func TestManager_StartAllOnlyResumesOnlineTenants(t *testing.T) {
	f := newFixture(t)
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "One", Status: domain.BotStatusOnline})
	f.saveBot(t, &domain.Bot{ID: "b2", Name: "Two", Status: domain.BotStatusOffline})
	f.saveBot(t, &domain.Bot{ID: "b3", Name: "Three", Status: domain.BotStatusOnline})

	assert.Equal(t, 2, f.mgr.StartAll(context.Background()))
	var running []string
	for _, c := range f.mgr.Running() {
		running = append(running, c.TenantID)
	}
	assert.Equal(t, []string{"b1", "b3"}, running)

	f.mgr.StopAll(context.Background())
	assert.Empty(t, f.mgr.Running())
}

func TestManager_FlowCommandDedupedByEventID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.repos.Flow.Save(ctx, commandFlow("f1", "b1", "hello", "hi {username}")))
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")

	ev := &domain.Event{ID: "om_1", Type: domain.EventInteraction, TenantID: "b1", ChannelID: "oc_1", UserID: "ou_1", Username: "alice", Command: "hello"}
	s.emit(ev)
	s.emit(ev)
	// Bot authored events are ignored
	s.emit(&domain.Event{ID: "om_2", Type: domain.EventInteraction, Command: "hello", FromBot: true})

	require.Eventually(t, func() bool {
		responses, _, _ := s.snapshot()
		return len(responses) == 1
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	responses, _, _ := s.snapshot()
	require.Len(t, responses, 1)
	assert.Equal(t, "hi alice", responses[0].Text)
}

func TestManager_AISessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")

	lastResponse := func(n int) string {
		var text string
		require.Eventually(t, func() bool {
			responses, _, _ := s.snapshot()
			if len(responses) < n {
				return false
			}
			text = responses[n-1].Text
			return true
		}, waitFor, tick)
		return text
	}

	s.emit(&domain.Event{ID: "om_1", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai", Content: "start"})
	assert.Contains(t, lastResponse(1), "AI session started with openai")

	session, err := f.mgr.uc.Conversation.FindByThread(ctx, "b1", "om_1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "ou_1", session.UserID)

	// A thread message goes to the session and the answer lands in the thread
	s.emit(&domain.Event{ID: "om_2", Type: domain.EventMessage, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Content: "hi"})
	require.Eventually(t, func() bool {
		_, sent, _ := s.snapshot()
		return len(sent) == 1 && sent[0].Target == "om_2" && sent[0].Text == "hello there"
	}, waitFor, tick)

	// Only the owner may change the session
	s.emit(&domain.Event{ID: "om_3", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_2", Command: "ai", Content: "mode image"})
	assert.Contains(t, lastResponse(2), "Only the user who started")

	s.emit(&domain.Event{ID: "om_4", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "mode image"})
	assert.Equal(t, "Mode switched to image (model: dall-e-3). History was reset.", lastResponse(3))

	s.emit(&domain.Event{ID: "om_5", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "close"})
	assert.Equal(t, "AI session closed.", lastResponse(4))
	assert.Equal(t, []string{"om_1"}, s.archived)

	// Closed sessions no longer answer
	s.emit(&domain.Event{ID: "om_6", Type: domain.EventMessage, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Content: "still there?"})
	time.Sleep(50 * time.Millisecond)
	_, sent, _ := s.snapshot()
	assert.Len(t, sent, 1)
}

func TestManager_AIExplicitModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")

	lastResponse := func(n int) string {
		var text string
		require.Eventually(t, func() bool {
			responses, _, _ := s.snapshot()
			if len(responses) < n {
				return false
			}
			text = responses[n-1].Text
			return true
		}, waitFor, tick)
		return text
	}

	s.emit(&domain.Event{ID: "om_1", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai", Content: "start"})
	lastResponse(1)

	s.emit(&domain.Event{ID: "om_2", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "mode video"})
	assert.Equal(t, "Mode switched to video (model: provider default). History was reset.", lastResponse(2))

	s.emit(&domain.Event{ID: "om_3", Type: domain.EventMessage, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Content: "hello"})
	require.Eventually(t, func() bool {
		_, sent, _ := s.snapshot()
		return len(sent) == 1 && sent[0].Text == usecase.DefaultReplyConfig.VideoUnsupported
	}, waitFor, tick)

	s.emit(&domain.Event{ID: "om_4", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "mode music"})
	assert.Contains(t, lastResponse(3), "Mode switched to music")

	s.emit(&domain.Event{ID: "om_5", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "mode audio"})
	assert.Contains(t, lastResponse(4), "Mode switched to audio")

	s.emit(&domain.Event{ID: "om_6", Type: domain.EventInteraction, ChannelID: "oc_1", ThreadID: "om_1", UserID: "ou_1", Command: "ai", Content: "mode hologram"})
	assert.Equal(t, "Mode must be one of auto, chat, image, audio, video, music.", lastResponse(5))
}

func TestManager_CommandReplyAfterAcknowledgement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")

	s.emit(&domain.Event{ID: "om_1", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai", Content: "start"})
	require.Eventually(t, func() bool {
		responses, _, _ := s.snapshot()
		return len(responses) == 1
	}, waitFor, tick)

	s.ack("om_2")
	s.emit(&domain.Event{ID: "om_2", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai", Content: "usage"})

	var sent []sentMessage
	require.Eventually(t, func() bool {
		_, sent, _ = s.snapshot()
		return len(sent) == 1
	}, waitFor, tick)
	assert.Equal(t, "oc_1", sent[0].Target)
	assert.Contains(t, sent[0].Text, "Usage this month")
	assert.Contains(t, sent[0].Text, "Active AI sessions: 1")

	responses, _, _ := s.snapshot()
	assert.Len(t, responses, 1, "the acknowledged interaction gets no second response")
}

func TestManager_AICommandOutsideSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")

	s.emit(&domain.Event{ID: "om_1", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai", Content: "model gpt-4o"})
	s.emit(&domain.Event{ID: "om_2", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_1", Command: "ai"})

	require.Eventually(t, func() bool {
		responses, _, _ := s.snapshot()
		return len(responses) == 2
	}, waitFor, tick)
	responses, _, _ := s.snapshot()
	texts := []string{responses[0].Text, responses[1].Text}
	assert.Contains(t, texts, "There is no active AI session in this thread. Use /ai start first.")
	assert.Contains(t, texts, aiHelp)
}

func TestManager_PurgeRequiresAdminAndRunsDetached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper", AdminUserIDs: []string{"ou_admin"}})
	require.NoError(t, f.mgr.Start(ctx, "b1"))
	s := f.gw.session("b1")
	now := time.Now()
	s.history = []domain.Message{
		{ID: "om_c", CreateTime: now},
		{ID: "om_b", CreateTime: now.Add(-time.Minute)},
		{ID: "om_a", CreateTime: now.Add(-time.Hour)},
	}

	s.emit(&domain.Event{ID: "om_1", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_user", Command: "purge", Content: "10"})
	require.Eventually(t, func() bool {
		responses, _, _ := s.snapshot()
		return len(responses) == 1
	}, waitFor, tick)
	responses, _, _ := s.snapshot()
	assert.Equal(t, "Only bot admins can purge messages.", responses[0].Text)

	s.emit(&domain.Event{ID: "om_2", Type: domain.EventInteraction, ChannelID: "oc_1", UserID: "ou_admin", Command: "purge", Content: "10"})
	require.Eventually(t, func() bool {
		_, _, dms := s.snapshot()
		return len(dms) == 1
	}, waitFor, tick)
	f.mgr.WaitDetached()

	responses, _, dms := s.snapshot()
	assert.Equal(t, "🧹 Purging up to 10 messages…", responses[1].Text)
	assert.Equal(t, sentMessage{Target: "ou_admin", Text: "🧹 Purge finished: 3 messages deleted, 0 failed."}, dms[0])
	assert.Equal(t, [][]string{{"om_c", "om_b", "om_a"}}, s.bulk)
}

func TestManager_TenantLogsAreBuffered(t *testing.T) {
	f := newFixture(t)
	f.saveBot(t, &domain.Bot{ID: "b1", Name: "Helper"})
	require.NoError(t, f.mgr.Start(context.Background(), "b1"))

	var messages []string
	for _, r := range f.sink.Records("b1") {
		messages = append(messages, r.Message)
	}
	assert.Contains(t, messages, "connecting tenant")
	assert.Contains(t, messages, "tenant connected")
}
