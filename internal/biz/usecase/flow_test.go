package usecase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

func replyNode(id, content string) domain.Node {
	return domain.Node{ID: id, Type: domain.NodeAction, Label: id, Data: domain.NodeData{
		Action: &domain.Action{Kind: domain.ActionReply, Content: content},
	}}
}

func commandFlow(id, command string, nodes ...domain.Node) *domain.FlowGraph {
	trigger := domain.Node{ID: id + "-t", Type: domain.NodeTrigger, Label: command, Data: domain.NodeData{
		Event: domain.EventInteraction, Command: command,
	}}
	g := &domain.FlowGraph{ID: id, TenantID: "bot", Published: true, Nodes: append([]domain.Node{trigger}, nodes...)}
	for _, n := range nodes {
		g.Edges = append(g.Edges, domain.Edge{Source: trigger.ID, Target: n.ID})
	}
	return g
}

type flowFixture struct {
	uc    *FlowUsecase
	flows *mockFlowRepo
	state *mockStateRepo
	gw    *mockGateway
	env   *TenantEnv
}

func newFlowFixture(flows ...*domain.FlowGraph) *flowFixture {
	f := &flowFixture{
		flows: &mockFlowRepo{flows: flows},
		state: newMockStateRepo(),
		gw:    newMockGateway(),
	}
	f.uc = NewFlowUsecase(f.flows, f.state, nil, testLogger())
	f.env = &TenantEnv{Bot: &domain.Bot{ID: "bot"}, Gateway: f.gw, Log: testLogger()}
	return f
}

func interaction(id, command string) *domain.Event {
	return &domain.Event{ID: id, Type: domain.EventInteraction, TenantID: "bot", ChannelID: "chan", UserID: "u1", Username: "alice", Command: command}
}

func TestFlow_CommandSpecs_DedupesNormalizedNames(t *testing.T) {
	f := newFlowFixture(
		commandFlow("f1", "Hello-World", replyNode("a", "one")),
		commandFlow("f2", "hello world", replyNode("b", "two")),
		commandFlow("f3", "ping", replyNode("c", "pong")),
	)
	specs, collisions, err := f.uc.CommandSpecs(context.Background(), "bot")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "helloworld", specs[0].Name)
	assert.Equal(t, "ping", specs[1].Name)
	require.Len(t, collisions, 1)
	assert.Equal(t, "f2", collisions[0].FlowID)
}

func TestFlow_Dispatch_FirstMatchWins(t *testing.T) {
	f := newFlowFixture(
		commandFlow("f1", "hello", replyNode("a", "from first")),
		commandFlow("f2", "hello", replyNode("b", "from second")),
	)
	handled, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "HELLO"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"from first"}, f.gw.responses)
	assert.Empty(t, f.gw.sent)
}

func TestFlow_Dispatch_NoMatch(t *testing.T) {
	f := newFlowFixture(commandFlow("f1", "hello", replyNode("a", "hi")))
	handled, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "bye"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestFlow_Dispatch_OneHopOnly(t *testing.T) {
	g := commandFlow("f1", "hello", replyNode("a", "direct"))
	g.Nodes = append(g.Nodes, replyNode("b", "two hops away"))
	g.Edges = append(g.Edges, domain.Edge{Source: "a", Target: "b"})
	f := newFlowFixture(g)

	_, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{"direct"}, f.gw.responses)
	assert.Empty(t, f.gw.sent)
}

func TestFlow_Reply_AcknowledgementFallback(t *testing.T) {
	f := newFlowFixture(commandFlow("f1", "hello",
		replyNode("a", "first"),
		replyNode("b", "second"),
		replyNode("c", "third"),
	))
	_, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, []string{"first"}, f.gw.responses)
	require.Len(t, f.gw.sent, 1, "only one fallback message per event")
	assert.Equal(t, "second", f.gw.sent[0].Text)
	assert.Equal(t, "chan", f.gw.sent[0].ChannelID)
}

func TestFlow_Message_UsesChannelReplyAndTemplates(t *testing.T) {
	g := &domain.FlowGraph{ID: "f1", TenantID: "bot", Published: true,
		Nodes: []domain.Node{
			{ID: "t", Type: domain.NodeTrigger, Data: domain.NodeData{Event: domain.EventMessage, Filter: "starts with !greet"}},
			replyNode("a", "Hi {user} in {channel}, you said {message}"),
		},
		Edges: []domain.Edge{{Source: "t", Target: "a"}},
	}
	f := newFlowFixture(g)

	ev := &domain.Event{ID: "e1", Type: domain.EventMessage, ChannelID: "chan", ChannelName: "general", UserID: "u1", Username: "alice", Content: "!greet now"}
	handled, err := f.uc.Dispatch(context.Background(), f.env, ev)
	require.NoError(t, err)
	assert.True(t, handled)
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, "Hi @alice in general, you said !greet now", f.gw.sent[0].Text)

	ev.FromBot = true
	handled, _ = f.uc.Dispatch(context.Background(), f.env, ev)
	assert.False(t, handled, "bot messages never trigger flows")
}

func TestFlow_CodeNode_ValidatesBeforeRunning(t *testing.T) {
	code := domain.Node{ID: "code", Type: domain.NodeCode, Label: "script", Data: domain.NodeData{Script: []domain.Action{
		{Kind: domain.ActionSetState, Key: "greeted", Value: "{userid}"},
		{Kind: "shell", Content: "rm -rf /"},
	}}}
	f := newFlowFixture(commandFlow("f1", "hello", code, replyNode("after", "never")))

	handled, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "hello"))
	require.NoError(t, err)
	assert.True(t, handled, "errors are logged, the event still counts as handled")

	_, ok, _ := f.state.GetState(context.Background(), "bot", "greeted")
	assert.False(t, ok, "no step runs when any step is invalid")
	assert.Empty(t, f.gw.responses, "a failing node stops the run")
}

func TestFlow_CodeNode_StateAndDM(t *testing.T) {
	code := domain.Node{ID: "code", Type: domain.NodeCode, Data: domain.NodeData{Script: []domain.Action{
		{Kind: domain.ActionSetState, Key: "last", Value: "{option:name}"},
		{Kind: domain.ActionDM, Content: "welcome {state:last}"},
	}}}
	f := newFlowFixture(commandFlow("f1", "hello", code))

	ev := interaction("e1", "hello")
	ev.Options = map[string]string{"name": "Bob"}
	_, err := f.uc.Dispatch(context.Background(), f.env, ev)
	require.NoError(t, err)

	v, ok, _ := f.state.GetState(context.Background(), "bot", "last")
	assert.True(t, ok)
	assert.Equal(t, "Bob", v)
	require.Len(t, f.gw.dms, 1)
	assert.Equal(t, "u1", f.gw.dms[0].ChannelID)
	assert.Equal(t, "welcome Bob", f.gw.dms[0].Text)
}

func TestFlow_HTTPAction(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"joke":{"text":"knock knock"}}`))
	}))
	defer srv.Close()

	call := domain.Node{ID: "call", Type: domain.NodeAction, Data: domain.NodeData{Action: &domain.Action{
		Kind: domain.ActionHTTP, Method: "post", URL: srv.URL + "/joke", Body: `{"user":"{username}"}`,
	}}}
	f := newFlowFixture(commandFlow("f1", "joke", call, replyNode("say", "{http:joke.text}")))

	_, err := f.uc.Dispatch(context.Background(), f.env, interaction("e1", "joke"))
	require.NoError(t, err)
	assert.Equal(t, `{"user":"alice"}`, gotBody)
	assert.Equal(t, []string{"knock knock"}, f.gw.responses)

	failing := domain.Node{ID: "call", Type: domain.NodeAction, Data: domain.NodeData{Action: &domain.Action{
		Kind: domain.ActionHTTP, URL: srv.URL + "/fail",
	}}}
	f = newFlowFixture(commandFlow("f1", "joke", failing, replyNode("say", "unreachable")))
	_, err = f.uc.Dispatch(context.Background(), f.env, interaction("e1", "joke"))
	require.NoError(t, err)
	assert.Empty(t, f.gw.responses)
}

func TestFlow_RunReady(t *testing.T) {
	ready := &domain.FlowGraph{ID: "r", TenantID: "bot", Published: true,
		Nodes: []domain.Node{
			{ID: "t", Type: domain.NodeTrigger, Data: domain.NodeData{Event: domain.EventReady}},
			{ID: "s", Type: domain.NodeAction, Data: domain.NodeData{Action: &domain.Action{Kind: domain.ActionSetState, Key: "booted", Value: "yes"}}},
		},
		Edges: []domain.Edge{{Source: "t", Target: "s"}},
	}
	unpublished := commandFlow("u", "x")
	unpublished.Published = false
	f := newFlowFixture(ready, unpublished)

	assert.Equal(t, 1, f.uc.RunReady(context.Background(), f.env))
	v, _, _ := f.state.GetState(context.Background(), "bot", "booted")
	assert.Equal(t, "yes", v)
}
