package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// MonitorConfig holds the polling schedule of a StatusMonitor
type MonitorConfig struct {
	InitialDelay time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration // Exclusive
	CheckTimeout time.Duration
}

// DefaultMonitorConfig is the production schedule
var DefaultMonitorConfig = MonitorConfig{
	InitialDelay: 10 * time.Second,
	MinInterval:  60 * time.Second,
	MaxInterval:  120 * time.Second,
	CheckTimeout: 90 * time.Second,
}

// Notifier posts a message into a channel
type Notifier interface {
	SendMessage(ctx context.Context, channelID, text string) (string, error)
}

// StatusMonitor polls a tenant's live profiles on a jittered timer and
// announces offline -> live transitions
type StatusMonitor struct {
	tenantID string
	bots     repo.BotRepo
	prober   repo.LiveProber
	notifier Notifier
	cfg      MonitorConfig
	log      logrus.FieldLogger
	jitter   func(n int64) int64

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewStatusMonitor creates a monitor; call Start to schedule the first check
func NewStatusMonitor(tenantID string, bots repo.BotRepo, prober repo.LiveProber, notifier Notifier, cfg MonitorConfig, log logrus.FieldLogger) *StatusMonitor {
	if cfg.MaxInterval <= cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval + time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultMonitorConfig.CheckTimeout
	}
	return &StatusMonitor{
		tenantID: tenantID,
		bots:     bots,
		prober:   prober,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		jitter:   rand.Int64N,
	}
}

// Start schedules the first check after the initial delay
func (m *StatusMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.cfg.InitialDelay, m.fire)
	m.log.WithField("delay", m.cfg.InitialDelay).Debug("status monitor started")
}

// Stop cancels the pending check. A check already running finishes but
// does not reschedule.
func (m *StatusMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// nextInterval is uniform in [MinInterval, MaxInterval)
func (m *StatusMonitor) nextInterval() time.Duration {
	span := int64(m.cfg.MaxInterval - m.cfg.MinInterval)
	return m.cfg.MinInterval + time.Duration(m.jitter(span))
}

func (m *StatusMonitor) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
	m.check(ctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.timer = time.AfterFunc(m.nextInterval(), m.fire)
}

// check probes every profile once, notifies on went-live edges and persists
// the profiles when any status flipped
func (m *StatusMonitor) check(ctx context.Context) {
	bot, err := m.bots.Get(ctx, m.tenantID)
	if err != nil {
		m.log.WithError(err).Warn("load bot for status check")
		return
	}
	if bot == nil || len(bot.LiveProfiles) == 0 {
		return
	}

	profiles := append([]domain.LiveProfile(nil), bot.LiveProfiles...)
	changed := false
	for i := range profiles {
		p := &profiles[i]
		start := time.Now()
		live, err := m.prober.Probe(ctx, *p)
		if err != nil {
			probeDuration.WithLabelValues(p.Platform, "error").Observe(time.Since(start).Seconds())
			m.log.WithError(err).WithFields(logrus.Fields{"platform": p.Platform, "url": p.URL}).Warn("live probe failed")
			continue
		}
		probeDuration.WithLabelValues(p.Platform, "ok").Observe(time.Since(start).Seconds())

		switch p.Observe(live) {
		case domain.LiveWentOnline:
			changed = true
			m.notify(ctx, bot, *p)
		case domain.LiveWentOffline:
			changed = true
			m.log.WithField("url", p.URL).Info("live profile went offline")
		}
	}
	if !changed {
		return
	}
	if err := m.bots.UpdateLiveProfiles(ctx, m.tenantID, profiles); err != nil {
		m.log.WithError(err).Warn("persist live profiles")
	}
}

func (m *StatusMonitor) notify(ctx context.Context, bot *domain.Bot, p domain.LiveProfile) {
	log := m.log.WithFields(logrus.Fields{"platform": p.Platform, "url": p.URL})
	if bot.NotifyChannelID == "" {
		log.Info("profile went live; no notify channel configured")
		return
	}
	if _, err := m.notifier.SendMessage(ctx, bot.NotifyChannelID, liveMessage(bot, p)); err != nil {
		log.WithError(err).Warn("send live notification")
		return
	}
	liveNotifications.WithLabelValues(p.Platform).Inc()
	log.Info("live notification sent")
}

func liveMessage(bot *domain.Bot, p domain.LiveProfile) string {
	name := bot.DisplayName
	if name == "" {
		name = bot.Name
	}
	platform := p.Platform
	if platform != "" {
		platform = strings.ToUpper(platform[:1]) + platform[1:]
	}
	return fmt.Sprintf("🔴 %s is now live on %s!\n%s", name, platform, p.URL)
}
