package bastion

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is the sentinel matched by errors.Is for fast-fail rejections.
var ErrCircuitOpen = errors.New("bastion: circuit breaker is open")

// CircuitOpenError is returned by CircuitBreaker.Execute when the breaker is
// OPEN (or a HALF_OPEN trial slot is already taken). It is synthesized by the
// breaker itself - the wrapped operation was never invoked - so callers can
// distinguish it from a dependency failure and fall back (e.g. serve stale
// cache) instead of treating it as a hard error.
type CircuitOpenError struct {
	Name  string
	State State
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("bastion: circuit breaker %q is %s; request rejected", e.Name, e.State)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }
