// Package registry tracks the organizations participating in federated
// experiments: registration, worker liveness, and the dispatch of
// training tasks to remote workers.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/types"
)

// OrgStatus is the liveness state of a registered organization.
type OrgStatus string

const (
	OrgStatusOnline  OrgStatus = "online"
	OrgStatusOffline OrgStatus = "offline"
)

// Org is one registered organization.
type Org struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Address is the base URL of the organization's worker. Empty for
	// organizations trained in process.
	Address string `json:"address,omitempty"`

	// Algos lists the algo names the worker can train.
	Algos []string `json:"algos,omitempty"`

	Status        OrgStatus `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Registry tracks registered organizations. Workers heartbeat
// periodically; an organization missing three intervals is marked
// offline until it reports in again.
type Registry struct {
	mu   sync.RWMutex
	orgs map[string]*Org

	heartbeatInterval time.Duration
	issuer            *TokenIssuer
	logger            *zap.Logger

	now func() time.Time
}

// New creates a registry. The issuer may be nil when worker tokens are
// not used.
func New(heartbeatInterval time.Duration, issuer *TokenIssuer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		orgs:              make(map[string]*Org),
		heartbeatInterval: heartbeatInterval,
		issuer:            issuer,
		logger:            logger.With(zap.String("component", "registry")),
		now:               time.Now,
	}
}

// Register adds or refreshes an organization and returns its worker
// token when an issuer is configured. Re-registering updates address
// and capabilities and brings the organization back online.
func (r *Registry) Register(org Org) (string, error) {
	if org.ID == "" {
		return "", types.NewError(types.ErrInvalidRequest, "organization id is required")
	}

	r.mu.Lock()
	now := r.now()
	existing, ok := r.orgs[org.ID]
	if ok {
		existing.Name = org.Name
		existing.Address = org.Address
		existing.Algos = org.Algos
		existing.Status = OrgStatusOnline
		existing.LastHeartbeat = now
	} else {
		org.Status = OrgStatusOnline
		org.RegisteredAt = now
		org.LastHeartbeat = now
		r.orgs[org.ID] = &org
	}
	r.mu.Unlock()

	r.logger.Info("organization registered",
		zap.String("org_id", org.ID),
		zap.String("address", org.Address),
		zap.Bool("refresh", ok),
	)

	if r.issuer == nil {
		return "", nil
	}
	return r.issuer.Issue(org.ID)
}

// Heartbeat records a liveness report from an organization's worker.
func (r *Registry) Heartbeat(orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.orgs[orgID]
	if !ok {
		return types.NewErrorf(types.ErrOrgNotFound, "organization %s is not registered", orgID)
	}
	org.LastHeartbeat = r.now()
	if org.Status != OrgStatusOnline {
		org.Status = OrgStatusOnline
		r.logger.Info("organization back online", zap.String("org_id", orgID))
	}
	return nil
}

// Get returns a copy of the organization.
func (r *Registry) Get(orgID string) (Org, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[orgID]
	if !ok {
		return Org{}, types.NewErrorf(types.ErrOrgNotFound, "organization %s is not registered", orgID)
	}
	return *org, nil
}

// List returns copies of every registered organization.
func (r *Registry) List() []Org {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orgs := make([]Org, 0, len(r.orgs))
	for _, org := range r.orgs {
		orgs = append(orgs, *org)
	}
	return orgs
}

// Supports reports whether the organization's worker can train the
// given algo.
func (r *Registry) Supports(orgID, algoName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[orgID]
	if !ok {
		return false
	}
	for _, a := range org.Algos {
		if a == algoName {
			return true
		}
	}
	return false
}

// Start runs the liveness sweep until the context is cancelled.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep marks organizations offline when three heartbeat intervals have
// passed without a report.
func (r *Registry) sweep() {
	deadline := r.now().Add(-3 * r.heartbeatInterval)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, org := range r.orgs {
		if org.Status == OrgStatusOnline && org.LastHeartbeat.Before(deadline) {
			org.Status = OrgStatusOffline
			r.logger.Warn("organization marked offline",
				zap.String("org_id", org.ID),
				zap.Time("last_heartbeat", org.LastHeartbeat),
			)
		}
	}
}
