// Package pool keeps one live page session per tenant and provisions new
// ones on demand through the session provider.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"shopagent/internal/action"
	"shopagent/internal/provider"
)

// ErrProvisionFailed matches every SessionError of kind KindProvisionFailed.
var ErrProvisionFailed = errors.New("session provisioning failed")

// Kind classifies a SessionError.
type Kind string

const KindProvisionFailed Kind = "ProvisionFailed"

// SessionError reports why a tenant session could not be acquired.
type SessionError struct {
	Kind   Kind
	Tenant string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s for tenant %s: %v", e.Kind, e.Tenant, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Is(target error) bool {
	return target == ErrProvisionFailed && e.Kind == KindProvisionFailed
}

// Provider is the part of the provider client the pool drives.
type Provider interface {
	StartSession(ctx context.Context, provisioningID string, headless bool) (provider.StartResult, error)
	Exit(ctx context.Context) error
}

// Session is a page session the pool can connect, lend out and close.
type Session interface {
	action.Page
	Connect(ctx context.Context) error
	Close() error
}

// Dialer builds an unconnected session for a DevTools endpoint.
type Dialer func(endpoint string) Session

// Handle is a live session owned by the pool.
type Handle struct {
	TenantID      string
	Endpoint      string
	EngineVersion string
	Session       Session
}

// Pool maps tenants to live sessions. Sessions are never evicted; a dead
// remote browser surfaces as a failure of the next action run against it.
type Pool struct {
	provider Provider
	dial     Dialer
	headless bool
	logger   *slog.Logger

	mu       sync.Mutex
	tenants  map[string]string
	sessions map[string]*Handle
}

// New creates a pool. tenants maps tenant ids to provider provisioning ids.
func New(p Provider, dial Dialer, tenants map[string]string, headless bool, logger *slog.Logger) *Pool {
	table := make(map[string]string, len(tenants))
	for k, v := range tenants {
		table[k] = v
	}
	return &Pool{
		provider: p,
		dial:     dial,
		headless: headless,
		logger:   logger,
		tenants:  table,
		sessions: make(map[string]*Handle),
	}
}

// Tenants returns the mapped tenant ids in sorted order.
func (p *Pool) Tenants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tenants))
	for k := range p.tenants {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Acquire returns the tenant's live session, provisioning one if needed.
func (p *Pool) Acquire(ctx context.Context, tenantID string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.sessions[tenantID]; ok {
		return h, nil
	}

	provisioningID, ok := p.tenants[tenantID]
	if !ok || provisioningID == "" {
		return nil, p.fail(tenantID, "unmapped", errors.New("no provisioning id mapped"))
	}

	res, err := p.provider.StartSession(ctx, provisioningID, p.headless)
	if err != nil {
		return nil, p.fail(tenantID, "start", fmt.Errorf("start session: %w", err))
	}
	if !res.OK {
		return nil, p.fail(tenantID, "start", fmt.Errorf("start session: %s", res.Error))
	}

	sess := p.dial(res.Endpoint)
	if err := sess.Connect(ctx); err != nil {
		_ = sess.Close()
		return nil, p.fail(tenantID, "connect", fmt.Errorf("connect %s: %w", res.Endpoint, err))
	}

	h := &Handle{
		TenantID:      tenantID,
		Endpoint:      res.Endpoint,
		EngineVersion: res.EngineVersion,
		Session:       sess,
	}
	p.sessions[tenantID] = h
	metricSessionsProvisioned.Inc()
	metricSessionsActive.Set(float64(len(p.sessions)))
	p.logger.Info("session provisioned",
		"tenant_id", tenantID,
		"endpoint", res.Endpoint,
		"engine", res.EngineType,
		"engine_version", res.EngineVersion,
	)
	return h, nil
}

func (p *Pool) fail(tenantID, reason string, err error) error {
	metricProvisionFailures.WithLabelValues(reason).Inc()
	p.logger.Warn("session provisioning failed", "tenant_id", tenantID, "reason", reason, "err", err)
	return &SessionError{Kind: KindProvisionFailed, Tenant: tenantID, Err: err}
}

// Close disconnects every pooled session, then releases the provider.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.sessions))
	for _, h := range p.sessions {
		handles = append(handles, h)
	}
	p.sessions = make(map[string]*Handle)
	p.mu.Unlock()
	metricSessionsActive.Set(0)

	var errs []error
	for _, h := range handles {
		if err := h.Session.Close(); err != nil {
			p.logger.Warn("session disconnect failed", "tenant_id", h.TenantID, "err", err)
			errs = append(errs, fmt.Errorf("disconnect %s: %w", h.TenantID, err))
		}
	}
	if err := p.provider.Exit(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release provider: %w", err))
	}
	return errors.Join(errs...)
}
