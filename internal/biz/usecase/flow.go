package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// FlowUsecase interprets published flow graphs against gateway events
type FlowUsecase struct {
	flows  repo.FlowRepo
	state  repo.StateRepo
	client *http.Client
	log    logrus.FieldLogger
}

// NewFlowUsecase creates a new flow usecase
func NewFlowUsecase(flows repo.FlowRepo, state repo.StateRepo, client *http.Client, log logrus.FieldLogger) *FlowUsecase {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FlowUsecase{flows: flows, state: state, client: client, log: log}
}

// CommandCollision is a trigger whose command name was already taken
type CommandCollision struct {
	FlowID  string
	Command string
}

// CommandSpecs derives command registrations from interaction triggers.
// Names are normalized; the first flow declaring a name wins.
func (uc *FlowUsecase) CommandSpecs(ctx context.Context, tenantID string) ([]domain.CommandSpec, []CommandCollision, error) {
	flows, err := uc.flows.ListPublished(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("list flows: %w", err)
	}
	seen := make(map[string]bool)
	var specs []domain.CommandSpec
	var collisions []CommandCollision
	for _, f := range flows {
		for _, n := range f.Triggers() {
			if n.Data.Event != domain.EventInteraction {
				continue
			}
			name := domain.NormalizeCommandName(n.Data.Command)
			if name == "" {
				continue
			}
			if seen[name] {
				collisions = append(collisions, CommandCollision{FlowID: f.ID, Command: name})
				continue
			}
			seen[name] = true
			desc := n.Data.Description
			if desc == "" {
				desc = n.Label
			}
			if desc == "" {
				desc = name
			}
			specs = append(specs, domain.CommandSpec{Name: name, Description: desc})
		}
	}
	return specs, collisions, nil
}

// Dispatch runs the first trigger matching the event. Only the trigger's
// direct successors execute, in edge order. Returns whether a trigger fired.
func (uc *FlowUsecase) Dispatch(ctx context.Context, env *TenantEnv, ev *domain.Event) (bool, error) {
	flows, err := uc.flows.ListPublished(ctx, env.Bot.ID)
	if err != nil {
		return false, fmt.Errorf("list flows: %w", err)
	}
	for _, f := range flows {
		for _, trigger := range f.Triggers() {
			if !trigger.MatchesEvent(ev) {
				continue
			}
			uc.execute(ctx, env, f, trigger, ev)
			return true, nil
		}
	}
	return false, nil
}

// RunReady runs every ready trigger once after a connection comes up
func (uc *FlowUsecase) RunReady(ctx context.Context, env *TenantEnv) int {
	flows, err := uc.flows.ListPublished(ctx, env.Bot.ID)
	if err != nil {
		env.logger().WithError(err).Warn("list flows for ready")
		return 0
	}
	ev := &domain.Event{Type: domain.EventReady, TenantID: env.Bot.ID, CreatedAt: time.Now()}
	ran := 0
	for _, f := range flows {
		for _, trigger := range f.Triggers() {
			if trigger.MatchesEvent(ev) {
				uc.execute(ctx, env, f, trigger, ev)
				ran++
			}
		}
	}
	return ran
}

// execute runs the successors of a trigger. The first failing node stops
// the run; errors are logged, never returned to the gateway.
func (uc *FlowUsecase) execute(ctx context.Context, env *TenantEnv, f *domain.FlowGraph, trigger domain.Node, ev *domain.Event) {
	run := &flowRun{
		uc:  uc,
		env: env,
		ev:  ev,
		log: env.logger().WithFields(logrus.Fields{"flow_id": f.ID, "trigger": trigger.Label}),
	}
	result := "ok"
	for _, node := range f.Successors(trigger.ID) {
		if err := run.node(ctx, node); err != nil {
			run.log.WithError(err).WithField("node", node.Label).Warn("flow node failed")
			result = "error"
			break
		}
	}
	flowExecutions.WithLabelValues(string(ev.Type), result).Inc()
}

// flowRun is the state of one trigger execution
type flowRun struct {
	uc          *FlowUsecase
	env         *TenantEnv
	ev          *domain.Event
	log         logrus.FieldLogger
	vars        map[string]string
	fallbackMsg bool // Fallback message already sent for this event
}

func (r *flowRun) node(ctx context.Context, n domain.Node) error {
	switch n.Type {
	case domain.NodeAction:
		if n.Data.Action == nil {
			return fmt.Errorf("action node has no action")
		}
		if err := n.Data.Action.Validate(); err != nil {
			return err
		}
		return r.action(ctx, n.Data.Action)
	case domain.NodeCode:
		// Validate the whole script before running any step
		for i := range n.Data.Script {
			if err := n.Data.Script[i].Validate(); err != nil {
				return fmt.Errorf("script step %d: %w", i+1, err)
			}
		}
		for i := range n.Data.Script {
			if err := r.action(ctx, &n.Data.Script[i]); err != nil {
				return fmt.Errorf("script step %d: %w", i+1, err)
			}
		}
		return nil
	case domain.NodeTrigger:
		return nil
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
}

func (r *flowRun) action(ctx context.Context, a *domain.Action) error {
	switch a.Kind {
	case domain.ActionReply:
		return r.reply(ctx, r.render(ctx, a.Content), a.Ephemeral)
	case domain.ActionDM:
		userID := r.ev.UserID
		if a.UserID != "" {
			userID = r.render(ctx, a.UserID)
		}
		if userID == "" {
			return fmt.Errorf("dm action: no recipient")
		}
		return r.env.Gateway.SendDM(ctx, userID, r.render(ctx, a.Content))
	case domain.ActionHTTP:
		return r.httpCall(ctx, a)
	case domain.ActionSetState:
		return r.uc.state.SetState(ctx, r.env.Bot.ID, a.Key, r.render(ctx, a.Value))
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// reply answers the triggering event. Interactions are acknowledged once;
// a reply after the acknowledgement falls back to one plain channel message.
func (r *flowRun) reply(ctx context.Context, text string, ephemeral bool) error {
	gw := r.env.Gateway
	switch r.ev.Type {
	case domain.EventInteraction, domain.EventComponent:
		err := gw.Respond(ctx, r.ev, text, ephemeral)
		if !errors.Is(err, repo.ErrAlreadyAcknowledged) {
			return err
		}
		if r.fallbackMsg {
			r.log.Debug("interaction already answered, dropping reply")
			return nil
		}
		r.fallbackMsg = true
	}
	channelID := r.ev.ConversationChannel()
	if channelID == "" {
		return fmt.Errorf("reply action: event has no channel")
	}
	_, err := gw.SendMessage(ctx, channelID, text)
	return err
}
