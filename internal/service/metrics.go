package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "gateway",
		Name:      "events_total",
		Help:      "Gateway events broken down by event type and the route that handled them.",
	}, []string{"event", "route"})

	connectedTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botpanel",
		Subsystem: "gateway",
		Name:      "connected_tenants",
		Help:      "Tenants with a live gateway connection.",
	})

	connectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "gateway",
		Name:      "connect_failures_total",
		Help:      "Failed connection attempts broken down by whether the failure was fatal.",
	}, []string{"fatal"})

	liveNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botpanel",
		Subsystem: "monitor",
		Name:      "live_notifications_total",
		Help:      "Went-live notifications sent broken down by platform.",
	}, []string{"platform"})

	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botpanel",
		Subsystem: "monitor",
		Name:      "probe_duration_seconds",
		Help:      "Live profile probe latency broken down by platform and result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform", "result"})
)
