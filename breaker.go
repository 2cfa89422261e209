package bastion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes a single CircuitBreaker. Only Name is required;
// zero values fall back to DefaultBreakerConfig.
type BreakerConfig struct {
	// Name is the logical service this breaker guards (used in errors,
	// events and logs).
	Name string

	// FailureThreshold is the classified-failure count that trips
	// CLOSED -> OPEN.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays OPEN before the next
	// call is allowed to probe recovery (HALF_OPEN).
	ResetTimeout time.Duration

	// MonitoringPeriod is an informational stats window. It does not
	// affect transitions: failures accumulate in CLOSED and reset only on
	// a full state transition.
	MonitoringPeriod time.Duration

	// IsFailure classifies which errors count toward FailureThreshold.
	// nil => IsDependencyFailure (5xx, timeouts, network errors). Errors
	// classified as non-failures (e.g. 4xx) are surfaced to the caller but
	// never move the breaker.
	IsFailure func(error) bool

	Logger Logger
}

// DefaultBreakerConfig provides balanced settings for most services.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// BreakerStats is a point-in-time snapshot of a breaker.
type BreakerStats struct {
	Name             string
	State            State
	FailureCount     uint32
	SuccessCount     uint32
	LastFailureTime  time.Time // zero => no failure observed yet
	LastStateChange  time.Time
	MonitoringPeriod time.Duration
}

// CircuitBreaker guards one dependency: it fails fast once the dependency is
// observed to be unhealthy and probes recovery with a single trial call.
// Safe for concurrent use.
type CircuitBreaker struct {
	name       string
	threshold  uint32
	resetAfter time.Duration

	isFailure func(error) bool
	log       Logger
	now       func() time.Time

	*emitter

	mu           sync.Mutex
	state        State
	failureCount uint32
	successCount uint32
	lastFailure  time.Time
	lastChange   time.Time
	monPeriod    time.Duration

	// trial guards the single HALF_OPEN probe. A CAS gate rather than the
	// mutex so losing callers fail fast without serializing behind the
	// in-flight probe.
	trial atomic.Bool
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig(cfg.Name)
	log := coalesce[Logger](cfg.Logger, NopLogger{})

	b := &CircuitBreaker{
		name:      coalesce(cfg.Name, "default"),
		threshold: coalesce(cfg.FailureThreshold, def.FailureThreshold),
		isFailure: cfg.IsFailure,
		log:       log,
		now:       time.Now,
		emitter:   newEmitter(log),
		state:     StateClosed,
		monPeriod: coalesce(cfg.MonitoringPeriod, def.MonitoringPeriod),
	}
	b.resetAfter = coalesce(cfg.ResetTimeout, def.ResetTimeout)
	if b.isFailure == nil {
		b.isFailure = IsDependencyFailure
	}
	b.lastChange = b.now()
	return b
}

// Name returns the logical service name this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// Subscribe registers h for ev on this breaker and returns an unsubscribe
// func. Handlers run synchronously in the triggering call.
func (b *CircuitBreaker) Subscribe(ev Event, h Handler) func() {
	return b.subscribe(ev, h)
}

// CanExecute reports whether a call would currently be allowed through.
// Evaluates the lazy OPEN -> HALF_OPEN transition as a side effect.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	ev := b.maybeHalfOpenLocked()
	ok := b.state == StateClosed || (b.state == StateHalfOpen && !b.trial.Load())
	b.mu.Unlock()

	b.emitAll(ev)
	return ok
}

// Execute runs op through the breaker. When the breaker is OPEN (or the
// HALF_OPEN trial slot is taken) it returns *CircuitOpenError immediately
// without invoking op - the fail-fast path performs no I/O.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	wasTrial, err := b.acquire()
	if err != nil {
		return nil, err
	}

	v, err := op(ctx)
	if err != nil && b.isFailure(err) {
		b.recordFailure(err, wasTrial)
		return nil, err
	}

	// Non-failure-classified errors (e.g. 4xx) resolve the breaker like a
	// success: the dependency answered. The error itself still surfaces.
	b.recordSuccess(wasTrial)
	return v, err
}

// acquire admits the caller or rejects with *CircuitOpenError. The returned
// bool marks the caller as the HALF_OPEN trial owner.
func (b *CircuitBreaker) acquire() (wasTrial bool, err error) {
	b.mu.Lock()
	ev := b.maybeHalfOpenLocked()

	switch b.state {
	case StateOpen:
		st := b.state
		b.mu.Unlock()
		b.emitAll(ev)
		return false, &CircuitOpenError{Name: b.name, State: st}

	case StateHalfOpen:
		if !b.trial.CompareAndSwap(false, true) {
			b.mu.Unlock()
			b.emitAll(ev)
			return false, &CircuitOpenError{Name: b.name, State: StateHalfOpen}
		}
		b.mu.Unlock()
		b.emitAll(ev)
		return true, nil
	}

	b.mu.Unlock()
	b.emitAll(ev)
	return false, nil
}

func (b *CircuitBreaker) recordSuccess(wasTrial bool) {
	b.mu.Lock()
	b.successCount++
	var evs []Payload
	if wasTrial && b.state == StateHalfOpen {
		// Probe succeeded; close and reset counters.
		b.successCount = 0
		evs = append(evs, b.transitionLocked(StateClosed))
	}
	stats := b.statsLocked()
	b.mu.Unlock()

	b.emit(Payload{Event: EventSuccess, Breaker: b.name, Stats: &stats})
	b.emitAll(evs)
}

func (b *CircuitBreaker) recordFailure(err error, wasTrial bool) {
	now := b.now()

	b.mu.Lock()
	b.failureCount++
	b.lastFailure = now

	var evs []Payload
	switch {
	case wasTrial && b.state == StateHalfOpen:
		// Probe failed; back to OPEN with a fresh cooldown.
		evs = append(evs, b.transitionLocked(StateOpen))
	case b.state == StateClosed && b.failureCount >= b.threshold:
		evs = append(evs, b.transitionLocked(StateOpen))
	}
	stats := b.statsLocked()
	b.mu.Unlock()

	b.emit(Payload{Event: EventFailure, Breaker: b.name, Err: err, Stats: &stats})
	b.emitAll(evs)
}

// ForceOpen trips the breaker regardless of counters (operational override).
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	var evs []Payload
	if b.state != StateOpen {
		evs = append(evs, b.transitionLocked(StateOpen))
	}
	b.mu.Unlock()
	b.emitAll(evs)
}

// ForceClose closes the breaker and resets the failure counter.
func (b *CircuitBreaker) ForceClose() {
	b.mu.Lock()
	b.failureCount = 0
	var evs []Payload
	if b.state != StateClosed {
		evs = append(evs, b.transitionLocked(StateClosed))
	}
	b.mu.Unlock()
	b.emitAll(evs)
}

// Reset is ForceClose plus clearing the success counter - a return to the
// just-constructed state. Used for operational overrides and test setup.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.failureCount = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
	var evs []Payload
	if b.state != StateClosed {
		evs = append(evs, b.transitionLocked(StateClosed))
	}
	b.mu.Unlock()
	b.emitAll(evs)
}

// Stats returns a snapshot. It does not evaluate the lazy OPEN -> HALF_OPEN
// transition; use CanExecute for that.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// maybeHalfOpenLocked performs the lazy OPEN -> HALF_OPEN transition once the
// cooldown has elapsed. Caller holds b.mu; returned events must be emitted
// after unlock.
func (b *CircuitBreaker) maybeHalfOpenLocked() []Payload {
	if b.state != StateOpen || b.now().Sub(b.lastChange) < b.resetAfter {
		return nil
	}
	return []Payload{b.transitionLocked(StateHalfOpen)}
}

// transitionLocked moves to state to, resets what the new state demands, and
// returns the state_change payload. Caller holds b.mu.
func (b *CircuitBreaker) transitionLocked(to State) Payload {
	from := b.state
	b.state = to
	b.lastChange = b.now()
	b.trial.Store(false)
	if to == StateClosed {
		b.failureCount = 0
	}
	stats := b.statsLocked()

	b.log.Info("circuit breaker state change", Fields{
		"breaker": b.name, "from": from, "to": to,
	})
	return Payload{Event: EventStateChange, Breaker: b.name, From: from, To: to, Stats: &stats}
}

func (b *CircuitBreaker) statsLocked() BreakerStats {
	return BreakerStats{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastFailureTime:  b.lastFailure,
		LastStateChange:  b.lastChange,
		MonitoringPeriod: b.monPeriod,
	}
}
