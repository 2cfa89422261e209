// Package bastion implements a client-side resilience layer for callers of an
// unreliable remote service: a circuit breaker, a two-tier cache, and a retry
// policy. The three components are independent; composition is the caller's
// responsibility:
//
//	out, err := bastion.Retry(ctx, retryOpts, func(ctx context.Context) (any, error) {
//	    return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
//	        if v, ok := users.Get(ctx, id); ok {
//	            return v, nil
//	        }
//	        return fetchAndCache(ctx, id)
//	    })
//	})
//
// Components:
//   - CircuitBreaker: CLOSED/OPEN/HALF_OPEN state machine that fails fast while
//     a dependency is unhealthy and probes recovery with a single trial call.
//   - Manager: named registry of breakers, so call sites refer to dependencies
//     by logical service name.
//   - Cache[V]: bounded in-memory tier (TTL, LRU by last access, tag
//     invalidation) with an optional persistent byte-store tier behind it.
//   - Retry: bounded, jittered exponential backoff around a fallible operation.
//
// Pluggable pieces live in subpackages:
//   - store: byte store with TTL for the persistent tier (Redis, BigCache,
//     Ristretto, in-process).
//   - codec: (de)serializes V <-> []byte (JSON, msgpack, CBOR, protobuf).
//   - log: Logger adapters (zap, logrus, slog).
//   - logevents: slog-backed event subscriber with sampling.
//
// Persistent-tier keys are namespaced as "entry:<ns>:<key>"; Clear and the
// background sweep only ever touch that keyspace, so the store may be shared
// with other consumers.
//
// Errors fall into three classes: the wrapped operation's own error (always
// surfaced unless a retry masks it), *CircuitOpenError raised by an OPEN
// breaker (match with errors.Is(err, ErrCircuitOpen) to serve stale data),
// and store errors, which are logged and swallowed - the cache never fails a
// caller because the persistent tier is down.
package bastion
