package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

var (
	// ErrTenantNotFound is returned when starting an unknown tenant
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantNotRunning is returned for operations that need a live connection
	ErrTenantNotRunning = errors.New("tenant not running")
)

// ConnectError is returned when a tenant could not connect. Fatal errors
// (rejected credentials) are not worth retrying.
type ConnectError struct {
	TenantID string
	Err      error
	Fatal    bool
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect tenant %s: %v", e.TenantID, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ManagerConfig holds connection manager options
type ManagerConfig struct {
	Monitor   MonitorConfig
	DedupeTTL time.Duration
}

// Manager owns the live gateway connections of all tenants and routes
// their events to flows and AI sessions
type Manager struct {
	bots     repo.BotRepo
	gateway  repo.Gateway
	prober   repo.LiveProber
	dedupe   repo.DedupeStore
	uc       *biz.Usecases
	registry Registry
	sink     *LogSink
	cfg      ManagerConfig
	log      logrus.FieldLogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // Per-tenant lifecycle locks

	detached sync.WaitGroup // Purges outliving their connection
}

// NewManager creates a connection manager
func NewManager(
	bots repo.BotRepo,
	gateway repo.Gateway,
	prober repo.LiveProber,
	dedupe repo.DedupeStore,
	uc *biz.Usecases,
	registry Registry,
	sink *LogSink,
	cfg ManagerConfig,
	log logrus.FieldLogger,
) *Manager {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 5 * time.Minute
	}
	return &Manager{
		bots:     bots,
		gateway:  gateway,
		prober:   prober,
		dedupe:   dedupe,
		uc:       uc,
		registry: registry,
		sink:     sink,
		cfg:      cfg,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockTenant(tenantID string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[tenantID] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Start connects a tenant. It is a no-op when the tenant is already running.
func (m *Manager) Start(ctx context.Context, tenantID string) error {
	unlock := m.lockTenant(tenantID)
	defer unlock()

	if _, ok := m.registry.Get(tenantID); ok {
		return nil
	}

	bot, err := m.bots.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot == nil {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	log := m.log.WithField(TenantField, tenantID)
	conn := &TenantConnection{
		TenantID: tenantID,
		Bot:      bot,
		Logs:     m.sink.Buffer(tenantID),
		log:      log,
		ready:    make(chan struct{}),
	}

	log.Info("connecting tenant")
	session, err := m.gateway.Connect(ctx, bot, func(ctx context.Context, ev *domain.Event) {
		go m.handleEvent(ctx, conn, ev)
	})
	if err != nil {
		fatal := errors.Is(err, repo.ErrInvalidCredential)
		connectFailures.WithLabelValues(strconv.FormatBool(fatal)).Inc()
		if serr := m.bots.UpdateStatus(ctx, tenantID, domain.BotStatusError); serr != nil {
			log.WithError(serr).Warn("persist error status")
		}
		log.WithError(err).WithField("fatal", fatal).Error("connect failed")
		return &ConnectError{TenantID: tenantID, Err: err, Fatal: fatal}
	}

	id := session.Identity()
	if err := m.bots.UpdateIdentity(ctx, tenantID, id.DisplayName, id.AvatarURL); err != nil {
		log.WithError(err).Warn("persist identity")
	}
	bot.DisplayName = id.DisplayName
	bot.AvatarURL = id.AvatarURL

	specs := m.commandSpecs(ctx, tenantID, log)
	if err := session.RegisterCommands(ctx, specs); err != nil {
		log.WithError(err).Warn("register commands")
	}

	conn.Session = session
	conn.Commands = specs
	conn.env = &usecase.TenantEnv{Bot: bot, Gateway: session, Log: log}
	conn.Monitor = NewStatusMonitor(tenantID, m.bots, m.prober, session, m.cfg.Monitor, log)
	m.registry.Put(conn)
	connectedTenants.Inc()
	close(conn.ready)

	if err := m.bots.UpdateStatus(ctx, tenantID, domain.BotStatusOnline); err != nil {
		log.WithError(err).Warn("persist online status")
	}
	conn.Monitor.Start()
	go m.watch(conn)
	go func() {
		if n := m.uc.Flow.RunReady(context.Background(), conn.env); n > 0 {
			log.WithField("triggers", n).Info("ready flows executed")
		}
	}()

	log.WithFields(logrus.Fields{
		"bot_user": id.BotUserID,
		"commands": len(specs),
	}).Info("tenant connected")
	return nil
}

// commandSpecs merges the built-in commands with flow commands. Built-ins
// win; later duplicates are logged and skipped.
func (m *Manager) commandSpecs(ctx context.Context, tenantID string, log logrus.FieldLogger) []domain.CommandSpec {
	specs := append([]domain.CommandSpec(nil), builtinCommands...)
	flowSpecs, collisions, err := m.uc.Flow.CommandSpecs(ctx, tenantID)
	if err != nil {
		log.WithError(err).Warn("load flow commands")
		return specs
	}
	for _, c := range collisions {
		log.WithFields(logrus.Fields{"flow_id": c.FlowID, "command": c.Command}).Warn("duplicate command skipped")
	}
	for _, s := range flowSpecs {
		if isBuiltin(s.Name) {
			log.WithField("command", s.Name).Warn("flow command shadows a built-in, skipped")
			continue
		}
		specs = append(specs, s)
	}
	return specs
}

// watch tears the tenant down when the gateway connection ends on its own
func (m *Manager) watch(conn *TenantConnection) {
	<-conn.Session.Done()
	if m.teardown(context.Background(), conn) {
		conn.log.WithError(conn.Session.Err()).Warn("gateway connection lost")
	}
}

// teardown removes conn from the registry, stops its timer and marks the
// tenant offline. Returns false when conn was already removed.
func (m *Manager) teardown(ctx context.Context, conn *TenantConnection) bool {
	if !m.registry.Delete(conn.TenantID, conn) {
		return false
	}
	conn.Monitor.Stop()
	connectedTenants.Dec()
	if err := m.bots.UpdateStatus(ctx, conn.TenantID, domain.BotStatusOffline); err != nil {
		conn.log.WithError(err).Warn("persist offline status")
	}
	return true
}

// Stop disconnects a tenant; a no-op when it is not running
func (m *Manager) Stop(ctx context.Context, tenantID string) error {
	unlock := m.lockTenant(tenantID)
	defer unlock()

	conn, ok := m.registry.Get(tenantID)
	if !ok {
		return nil
	}
	m.teardown(ctx, conn)
	if err := conn.Session.Close(); err != nil {
		conn.log.WithError(err).Warn("close gateway session")
	}
	conn.log.Info("tenant stopped")
	return nil
}

// Restart stops and starts a tenant, picking up new credentials and flows
func (m *Manager) Restart(ctx context.Context, tenantID string) error {
	if err := m.Stop(ctx, tenantID); err != nil {
		return err
	}
	return m.Start(ctx, tenantID)
}

// IsRunning reports whether the tenant has a live connection
func (m *Manager) IsRunning(tenantID string) bool {
	_, ok := m.registry.Get(tenantID)
	return ok
}

// Connection returns the running connection of a tenant
func (m *Manager) Connection(tenantID string) (*TenantConnection, bool) {
	return m.registry.Get(tenantID)
}

// Running lists the running connections
func (m *Manager) Running() []*TenantConnection {
	return m.registry.List()
}

// StartAll connects every tenant that was online when the process last
// stopped. Failures are logged and do not stop the others.
func (m *Manager) StartAll(ctx context.Context) int {
	bots, err := m.bots.List(ctx)
	if err != nil {
		m.log.WithError(err).Error("list bots")
		return 0
	}
	started := 0
	for _, b := range bots {
		if b.Status != domain.BotStatusOnline {
			continue
		}
		if err := m.Start(ctx, b.ID); err != nil {
			continue
		}
		started++
	}
	return started
}

// StopAll disconnects every tenant
func (m *Manager) StopAll(ctx context.Context) {
	for _, conn := range m.registry.List() {
		if err := m.Stop(ctx, conn.TenantID); err != nil {
			conn.log.WithError(err).Warn("stop tenant")
		}
	}
}

// PurgeChannel starts a detached purge of a channel of a running tenant
func (m *Manager) PurgeChannel(ctx context.Context, tenantID, channelID string, count int) error {
	conn, ok := m.registry.Get(tenantID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotRunning, tenantID)
	}
	if count <= 0 {
		count = defaultPurgeCount
	}
	m.PurgeDetached(m.envFor(ctx, conn), channelID, min(count, usecase.MaxPurgeMessages), "")
	return nil
}

// WaitDetached blocks until detached work such as purges has finished
func (m *Manager) WaitDetached() {
	m.detached.Wait()
}

// handleEvent routes one gateway event: flows first, then the built-in
// commands, then AI session threads
func (m *Manager) handleEvent(ctx context.Context, conn *TenantConnection, ev *domain.Event) {
	select {
	case <-conn.ready:
	case <-ctx.Done():
		return
	}
	if ev.FromBot {
		return
	}
	// Work already started finishes even if the tenant is stopped meanwhile
	ctx = context.WithoutCancel(ctx)
	log := conn.log.WithFields(logrus.Fields{"event_id": ev.ID, "event": ev.Type})

	if ev.ID != "" {
		seen, err := m.dedupe.MarkSeen(ctx, conn.TenantID+":"+ev.ID, m.cfg.DedupeTTL)
		if err != nil {
			log.WithError(err).Warn("dedupe check failed")
		} else if seen {
			eventsDispatched.WithLabelValues(string(ev.Type), "duplicate").Inc()
			return
		}
	}

	env := m.envFor(ctx, conn)
	handled, err := m.uc.Flow.Dispatch(ctx, env, ev)
	if err != nil {
		log.WithError(err).Warn("flow dispatch failed")
	}
	if handled {
		eventsDispatched.WithLabelValues(string(ev.Type), "flow").Inc()
		return
	}

	switch {
	case ev.Type == domain.EventInteraction && isBuiltin(ev.Command):
		eventsDispatched.WithLabelValues(string(ev.Type), "command").Inc()
		m.handleCommand(ctx, env, ev)
	case ev.Type == domain.EventMessage && ev.ThreadID != "":
		if m.handleThreadMessage(ctx, env, ev) {
			eventsDispatched.WithLabelValues(string(ev.Type), "session").Inc()
			return
		}
		eventsDispatched.WithLabelValues(string(ev.Type), "ignored").Inc()
	default:
		eventsDispatched.WithLabelValues(string(ev.Type), "ignored").Inc()
	}
}

// envFor returns a per-event environment with a fresh tenant record so
// admin edits apply without a restart
func (m *Manager) envFor(ctx context.Context, conn *TenantConnection) *usecase.TenantEnv {
	bot, err := m.bots.Get(ctx, conn.TenantID)
	if err != nil || bot == nil {
		return conn.env
	}
	return &usecase.TenantEnv{Bot: bot, Gateway: conn.Session, Log: conn.log}
}

// handleThreadMessage feeds a thread message to its AI session. Returns
// false when the thread has no active session.
func (m *Manager) handleThreadMessage(ctx context.Context, env *usecase.TenantEnv, ev *domain.Event) bool {
	s, err := m.uc.Conversation.FindByThread(ctx, env.Bot.ID, ev.ThreadID)
	if err != nil {
		env.Log.WithError(err).Warn("find session")
		return false
	}
	if s == nil || !s.IsActive() {
		return false
	}

	reply, err := m.uc.Conversation.HandleMessage(ctx, env, s.ID, ev)
	if err != nil && !errors.Is(err, usecase.ErrSessionClosed) {
		env.Log.WithError(err).WithField("session_id", s.ID).Warn("handle session message")
	}
	if reply != nil {
		m.postReply(ctx, env, ev, reply)
	}
	return true
}

// postReply answers in the thread of the triggering message
func (m *Manager) postReply(ctx context.Context, env *usecase.TenantEnv, ev *domain.Event, reply *usecase.Reply) {
	target := ev.ID
	if target == "" {
		target = ev.ConversationChannel()
	}
	if reply.Text != "" {
		if _, err := env.Gateway.SendMessage(ctx, target, reply.Text); err != nil {
			env.Log.WithError(err).Warn("send reply")
		}
	}
	for _, f := range reply.Files {
		if err := env.Gateway.SendFile(ctx, target, f.Name, f.Data); err != nil {
			env.Log.WithError(err).WithField("file", f.Name).Warn("send reply file")
		}
	}
}
