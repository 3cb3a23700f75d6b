package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/service"
)

// TenantManager is the part of the connection manager the ops API drives
type TenantManager interface {
	Start(ctx context.Context, tenantID string) error
	Stop(ctx context.Context, tenantID string) error
	Restart(ctx context.Context, tenantID string) error
	IsRunning(tenantID string) bool
	Connection(tenantID string) (*service.TenantConnection, bool)
	Running() []*service.TenantConnection
	PurgeChannel(ctx context.Context, tenantID, channelID string, count int) error
}

// Ledger is the part of the usage ledger the ops API exposes
type Ledger interface {
	Summary(ctx context.Context, tenantID string) (*domain.UsageSummary, error)
	SetLimits(ctx context.Context, tenantID, providerID string, s usecase.LimitSettings) (*domain.TokenLimit, error)
	ManualReset(ctx context.Context, tenantID, providerID string, window domain.LimitWindow) error
}

// HTTPServer is the ops API used by the dashboard
type HTTPServer struct {
	manager TenantManager
	bots    repo.BotRepo
	ledger  Ledger
	logs    *service.LogSink
	log     logrus.FieldLogger

	addr   string
	server *http.Server
}

// NewHTTPServer creates the ops API server
func NewHTTPServer(addr string, manager TenantManager, bots repo.BotRepo, ledger Ledger, logs *service.LogSink, log logrus.FieldLogger) *HTTPServer {
	s := &HTTPServer{
		manager: manager,
		bots:    bots,
		ledger:  ledger,
		logs:    logs,
		log:     log,
		addr:    addr,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/tenants", s.handleList).Methods(http.MethodGet)
	api := r.PathPrefix("/api/tenants").Subrouter()
	api.HandleFunc("/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/{id}/start", s.handleLifecycle(s.manager.Start)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/stop", s.handleLifecycle(s.manager.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/restart", s.handleLifecycle(s.manager.Restart)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/{id}/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/{id}/limits/{provider}", s.handleSetLimits).Methods(http.MethodPut)
	api.HandleFunc("/{id}/limits/{provider}/reset", s.handleResetLimit).Methods(http.MethodPost)
	api.HandleFunc("/{id}/channels/{channel}/purge", s.handlePurge).Methods(http.MethodPost)
	return r
}

// Start serves until Stop is called
func (s *HTTPServer) Start() error {
	s.log.WithField("addr", s.addr).Info("ops api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("ops api request")
	})
}

// TenantStatus is the runtime view of a tenant
type TenantStatus struct {
	TenantID    string   `json:"tenant_id"`
	Name        string   `json:"name,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Status      string   `json:"status"`
	Running     bool     `json:"running"`
	Commands    []string `json:"commands,omitempty"`
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	conns := s.manager.Running()
	out := make([]TenantStatus, 0, len(conns))
	for _, c := range conns {
		out = append(out, TenantStatus{
			TenantID: c.TenantID,
			Name:     c.Bot.Name,
			Status:   string(domain.BotStatusOnline),
			Running:  true,
			Commands: commandNames(c.Commands),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": out})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	bot, err := s.bots.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if bot == nil {
		s.writeError(w, service.ErrTenantNotFound)
		return
	}
	status := TenantStatus{
		TenantID:    bot.ID,
		Name:        bot.Name,
		DisplayName: bot.DisplayName,
		AvatarURL:   bot.AvatarURL,
		Status:      string(bot.Status),
		Running:     s.manager.IsRunning(id),
	}
	if conn, ok := s.manager.Connection(id); ok {
		status.Commands = commandNames(conn.Commands)
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleLifecycle(op func(ctx context.Context, tenantID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := op(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "running": s.manager.IsRunning(id)})
	}
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	records := s.logs.Records(mux.Vars(r)["id"])
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil && limit >= 0 && limit < len(records) {
			records = records[len(records)-limit:]
		}
	}
	if records == nil {
		records = []service.LogRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"logs": records})
}

func (s *HTTPServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type limitsRequest struct {
	Daily       int64 `json:"daily"`
	Weekly      int64 `json:"weekly"`
	Monthly     int64 `json:"monthly"`
	AdminBypass *bool `json:"admin_bypass"`
	Enabled     *bool `json:"enabled"`
}

func (s *HTTPServer) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req limitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Daily < 0 || req.Weekly < 0 || req.Monthly < 0 {
		http.Error(w, "limits must not be negative", http.StatusBadRequest)
		return
	}
	settings := usecase.LimitSettings{
		Daily:       req.Daily,
		Weekly:      req.Weekly,
		Monthly:     req.Monthly,
		AdminBypass: true,
		Enabled:     true,
	}
	if req.AdminBypass != nil {
		settings.AdminBypass = *req.AdminBypass
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	limit, err := s.ledger.SetLimits(r.Context(), vars["id"], vars["provider"], settings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, limit)
}

func (s *HTTPServer) handleResetLimit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Window string `json:"window"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	window, err := domain.ParseLimitWindow(req.Window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ledger.ManualReset(r.Context(), vars["id"], vars["provider"], window); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *HTTPServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Count int `json:"count"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Count < 0 {
		http.Error(w, "count must not be negative", http.StatusBadRequest)
		return
	}
	if err := s.manager.PurgeChannel(r.Context(), vars["id"], vars["channel"], req.Count); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

// ============ Helpers ============

func commandNames(specs []domain.CommandSpec) []string {
	names := make([]string, len(specs))
	for i, c := range specs {
		names[i] = c.Name
	}
	return names
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ce *service.ConnectError
	switch {
	case errors.Is(err, service.ErrTenantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrTenantNotRunning):
		status = http.StatusConflict
	case errors.As(err, &ce) && ce.Fatal:
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ce):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
