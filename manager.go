package bastion

import (
	"context"
	"sync"
)

// Manager is a named registry of circuit breakers, so call sites refer to
// dependencies by logical service name instead of wiring instances manually.
// Exactly one breaker exists per name for the manager's lifetime. Construct
// one at your composition root and pass it down; do not treat it as a
// process-global singleton, so tests can create isolated instances.
type Manager struct {
	defaults BreakerConfig // template applied to breakers created without config
	log      Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	order    []string // first-registration order, for deterministic snapshots
	closed   bool
}

// NewManager creates an empty registry. defaults supplies threshold/timeout
// settings for breakers created without an explicit config; its Name field is
// ignored.
func NewManager(defaults BreakerConfig, log Logger) *Manager {
	if log == nil {
		log = NopLogger{}
	}
	if defaults.Logger == nil {
		defaults.Logger = log
	}
	return &Manager{
		defaults: defaults,
		log:      log,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it on first
// use. cfg is only consulted at creation time; pass nil to use the manager
// defaults. Idempotent by name.
func (m *Manager) GetOrCreate(name string, cfg *BreakerConfig) *CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, ok = m.breakers[name]; ok {
		return b
	}

	c := m.defaults
	if cfg != nil {
		c = *cfg
		if c.Logger == nil {
			c.Logger = m.log
		}
	}
	c.Name = name

	b = NewCircuitBreaker(c)
	m.breakers[name] = b
	m.order = append(m.order, name)
	m.log.Info("created circuit breaker", Fields{"breaker": name})
	return b
}

// Execute is get-or-create plus Execute on the named breaker.
func (m *Manager) Execute(ctx context.Context, name string, op func(context.Context) (any, error)) (any, error) {
	return m.GetOrCreate(name, nil).Execute(ctx, op)
}

// AllStats snapshots every registered breaker, ordered by first registration.
func (m *Manager) AllStats() []BreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BreakerStats, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.breakers[name].Stats())
	}
	return out
}

// ResetAll resets every registered breaker to CLOSED with zeroed counters.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	bs := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		bs = append(bs, b)
	}
	m.mu.RUnlock()

	for _, b := range bs {
		b.Reset()
	}
}

// Destroy releases every breaker and its subscribers. The manager must not be
// used afterwards; callers should invoke it on shutdown.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, b := range m.breakers {
		b.unsubscribeAll()
	}
	m.breakers = make(map[string]*CircuitBreaker)
	m.order = nil
	m.log.Debug("circuit breaker manager destroyed", nil)
}
