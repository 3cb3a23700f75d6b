package service

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

// TenantConnection is the runtime state of one connected tenant
type TenantConnection struct {
	TenantID string
	Bot      *domain.Bot
	Session  repo.GatewaySession
	Commands []domain.CommandSpec
	Logs     *LogBuffer
	Monitor  *StatusMonitor

	env   *usecase.TenantEnv
	log   logrus.FieldLogger
	ready chan struct{} // Closed once the connection is registered
}

// Registry holds the running tenant connections, at most one per tenant
type Registry interface {
	Get(tenantID string) (*TenantConnection, bool)

	// Put adds a connection; false when the tenant already has one
	Put(conn *TenantConnection) bool

	// Delete removes the tenant's entry only if it is still conn
	Delete(tenantID string, conn *TenantConnection) bool

	// List returns the running connections ordered by tenant id
	List() []*TenantConnection
}

// MemoryRegistry is the in-process Registry
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]*TenantConnection
}

// NewRegistry creates an empty in-process registry
func NewRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: make(map[string]*TenantConnection)}
}

// Get implements Registry
func (r *MemoryRegistry) Get(tenantID string) (*TenantConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[tenantID]
	return c, ok
}

// Put implements Registry
func (r *MemoryRegistry) Put(conn *TenantConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.TenantID]; ok {
		return false
	}
	r.conns[conn.TenantID] = conn
	return true
}

// Delete implements Registry
func (r *MemoryRegistry) Delete(tenantID string, conn *TenantConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[tenantID]; !ok || cur != conn {
		return false
	}
	delete(r.conns, tenantID)
	return true
}

// List implements Registry
func (r *MemoryRegistry) List() []*TenantConnection {
	r.mu.RLock()
	out := make([]*TenantConnection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
