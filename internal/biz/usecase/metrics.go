package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flowExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "flow",
		Name:      "executions_total",
		Help:      "Flow trigger executions broken down by event type and result.",
	}, []string{"event", "result"})

	aiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "ai",
		Name:      "requests_total",
		Help:      "Provider calls broken down by provider, request type and result.",
	}, []string{"provider", "type", "result"})

	quotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "ledger",
		Name:      "quota_rejections_total",
		Help:      "Messages rejected by the usage ledger broken down by window.",
	}, []string{"window"})

	tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "ledger",
		Name:      "tokens_total",
		Help:      "Tokens recorded by the usage ledger.",
	}, []string{"provider"})
)

func recordAIRequest(provider, requestType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	aiRequests.With(prometheus.Labels{"provider": provider, "type": requestType, "result": result}).Inc()
}
