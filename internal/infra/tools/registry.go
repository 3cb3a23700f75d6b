package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/conf"
)

var toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "botpanel",
	Subsystem: "tools",
	Name:      "calls_total",
	Help:      "Tool invocations broken down by tool and result.",
}, []string{"tool", "result"})

// Handler runs a tool with its parsed JSON arguments
type Handler func(ctx context.Context, call repo.ToolCallContext, args gjson.Result) (string, error)

type tool struct {
	spec    repo.ToolSpec
	handler Handler
}

// Registry is the ToolRegistry offered to tool-capable models.
// Invocations are rate limited per tenant.
type Registry struct {
	tools   map[string]*tool
	limiter *limiter.Limiter
	client  *http.Client
	cfg     conf.ToolsConfig
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewRegistry creates a registry with the built-in tools
func NewRegistry(cfg conf.ToolsConfig, log logrus.FieldLogger) (*Registry, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("parse tool rate: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Registry{
		tools:   make(map[string]*tool),
		limiter: limiter.New(memory.NewStore(), rate),
		client:  &http.Client{Timeout: timeout},
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	r.registerBuiltins()
	return r, nil
}

// Register adds or replaces a tool
func (r *Registry) Register(spec repo.ToolSpec, handler Handler) {
	r.tools[spec.Name] = &tool{spec: spec, handler: handler}
}

// Definitions lists tool specs sorted by name
func (r *Registry) Definitions() []repo.ToolSpec {
	specs := make([]repo.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke runs a tool. Failures come back as text for the model, never as errors.
func (r *Registry) Invoke(ctx context.Context, call repo.ToolCallContext, name, arguments string) string {
	log := r.log.WithFields(logrus.Fields{"tenant_id": call.TenantID, "tool": name})

	t, ok := r.tools[name]
	if !ok {
		toolCalls.WithLabelValues(name, "unknown").Inc()
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	if call.TenantID != "" {
		lc, err := r.limiter.Get(ctx, call.TenantID)
		if err != nil {
			log.WithError(err).Warn("tool rate limiter failed")
		} else if lc.Reached {
			toolCalls.WithLabelValues(name, "rate_limited").Inc()
			return fmt.Sprintf("Error: tool rate limit reached, try again after %s", time.Unix(lc.Reset, 0).Format(time.Kitchen))
		}
	}

	if arguments == "" {
		arguments = "{}"
	}
	if !gjson.Valid(arguments) {
		toolCalls.WithLabelValues(name, "error").Inc()
		return "Error: arguments are not valid JSON"
	}

	out, err := t.handler(ctx, call, gjson.Parse(arguments))
	if err != nil {
		log.WithError(err).Debug("tool failed")
		toolCalls.WithLabelValues(name, "error").Inc()
		return "Error: " + err.Error()
	}
	toolCalls.WithLabelValues(name, "ok").Inc()
	return out
}
