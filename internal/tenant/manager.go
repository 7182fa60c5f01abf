package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"parley/api/internal/metrics"
	"parley/api/internal/store"
)

// Handle is a live, shared connection to one tenant's partition. The manager
// owns it for the life of the process.
type Handle struct {
	Code       string
	Descriptor Descriptor
	Store      store.Store
	OpenedAt   time.Time
}

// Opener turns a descriptor into an open, bootstrapped store.
type Opener func(ctx context.Context, desc Descriptor) (store.Store, error)

// Lookuper resolves descriptors; *Registry is the production implementation.
type Lookuper interface {
	Lookup(ctx context.Context, code string) (Descriptor, error)
}

// Manager caches one Handle per tenant code. Concurrent first access to the
// same code opens exactly one connection; different codes fill in parallel.
// Failed fills leave no entry behind, so the next call retries.
type Manager struct {
	registry Lookuper
	open     Opener
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	handles map[string]*Handle
	fill    singleflight.Group
}

func NewManager(registry Lookuper, open Opener, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Manager{
		registry: registry,
		open:     open,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
		handles:  make(map[string]*Handle),
	}
}

func (m *Manager) cached(code string) *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[code]
}

// Resolve returns the tenant's handle, opening it on first access.
func (m *Manager) Resolve(ctx context.Context, code string) (*Handle, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty conference code", ErrInvalidCode)
	}
	if h := m.cached(code); h != nil {
		m.metrics.TenantResolves.WithLabelValues("hit").Inc()
		return h, nil
	}

	// The fill outlives a caller that gives up: it runs under its own
	// acquisition timeout so waiters sharing it are not cancelled with us.
	fillCtx := context.WithoutCancel(ctx)
	result := m.fill.DoChan(code, func() (any, error) {
		return m.load(fillCtx, code)
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrTenantUnavailable, code, ctx.Err())
	}
}

func (m *Manager) load(ctx context.Context, code string) (*Handle, error) {
	if h := m.cached(code); h != nil {
		m.metrics.TenantResolves.WithLabelValues("hit").Inc()
		return h, nil
	}
	m.metrics.TenantResolves.WithLabelValues("miss").Inc()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	desc, err := m.registry.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			m.metrics.TenantResolves.WithLabelValues("not_found").Inc()
			m.logger.Warn("Tenant configuration not found", zap.String("tenant", code), zap.Error(err))
			return nil, err
		}
		m.metrics.TenantResolves.WithLabelValues("unavailable").Inc()
		m.logger.Error("Tenant configuration lookup failed", zap.String("tenant", code), zap.Error(err))
		if errors.Is(err, ErrTenantUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTenantUnavailable, code, err)
	}

	started := time.Now()
	st, err := m.open(ctx, desc)
	m.metrics.TenantOpenDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.metrics.TenantResolves.WithLabelValues("unavailable").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", m.timeout, err)
		}
		m.logger.Error("Failed to open tenant partition",
			zap.String("tenant", code),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrTenantUnavailable, code, err)
	}

	h := &Handle{
		Code:       code,
		Descriptor: desc,
		Store:      st,
		OpenedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.handles[code] = h
	count := len(m.handles)
	m.mu.Unlock()
	m.metrics.TenantsCached.Set(float64(count))

	m.logger.Info("Opened tenant partition",
		zap.String("tenant", code),
		zap.String("name", desc.Name),
		zap.Duration("elapsed", time.Since(started)))
	return h, nil
}

// Cached lists the codes with an open handle.
func (m *Manager) Cached() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]string, 0, len(m.handles))
	for code := range m.handles {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DescriptorChanged records a configuration change. Open handles are kept:
// a descriptor is fixed for the tenant's lifetime in this process.
func (m *Manager) DescriptorChanged(event DescriptorEvent) {
	if event.Err != nil {
		m.logger.Warn("Tenant descriptor watcher error", zap.Error(event.Err))
		return
	}
	if m.cached(event.Code) != nil {
		m.logger.Warn("Descriptor changed for an open tenant; restart to apply",
			zap.String("tenant", event.Code),
			zap.String("op", event.Op))
		return
	}
	m.logger.Info("Tenant descriptor changed",
		zap.String("tenant", event.Code),
		zap.String("op", event.Op))
}

// Ping checks every open partition and returns the failures by code.
func (m *Manager) Ping(ctx context.Context) map[string]error {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	failures := make(map[string]error)
	for _, h := range handles {
		if err := h.Store.Ping(ctx); err != nil {
			failures[h.Code] = err
		}
	}
	return failures
}

// Close releases every handle. Only called at process shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for code, h := range m.handles {
		if err := h.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", code, err))
		}
	}
	m.handles = make(map[string]*Handle)
	m.metrics.TenantsCached.Set(0)
	return errors.Join(errs...)
}
