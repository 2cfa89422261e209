// Package logevents exports bastion events to slog for observability/metrics
// scraping. Hit/miss events can be sampled to avoid floods; everything else
// is logged as it happens.
//
// Usage:
//
//	sink := logevents.New(slog.Default(), logevents.Options{HitEvery: 100, MissEvery: 100})
//	for _, ev := range []bastion.Event{bastion.EventHit, bastion.EventMiss, bastion.EventStateChange} {
//	    defer cacheOrBreaker.Subscribe(ev, sink.Handle)()
//	}
//
// Wrap with NewAsync when handlers must never add latency to cache/breaker
// hot paths.
package logevents

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/bastion"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery  uint64
	MissEvery uint64
}

// Sink logs event payloads. One Sink may be subscribed to any number of
// events on any number of components.
type Sink struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
}

func New(l *slog.Logger, opts Options) *Sink {
	return &Sink{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

// Handle is a bastion.Handler.
func (s *Sink) Handle(p bastion.Payload) {
	if s.l == nil {
		return
	}
	switch p.Event {
	case bastion.EventStateChange:
		s.l.Warn("bastion.state_change",
			"breaker", p.Breaker, "from", string(p.From), "to", string(p.To))
	case bastion.EventFailure:
		s.l.Info("bastion.failure", "breaker", p.Breaker, "err", p.Err)
	case bastion.EventSuccess:
		s.l.Debug("bastion.success", "breaker", p.Breaker)
	case bastion.EventHit:
		if sample(s.opts.HitEvery, &s.hitCtr) {
			s.l.Debug("bastion.hit", "key", p.Key, "source", p.Source)
		}
	case bastion.EventMiss:
		if sample(s.opts.MissEvery, &s.missCtr) {
			s.l.Debug("bastion.miss", "key", p.Key)
		}
	case bastion.EventSet:
		s.l.Debug("bastion.set", "key", p.Key, "size", p.Size)
	case bastion.EventDelete:
		s.l.Debug("bastion.delete", "key", p.Key)
	case bastion.EventClear:
		s.l.Info("bastion.clear", "entries", p.Keys)
	case bastion.EventInvalidate:
		s.l.Info("bastion.invalidate", "tags", p.Tags, "keys", p.Keys)
	case bastion.EventEvict:
		s.l.Debug("bastion.evict", "key", p.Key, "reason", p.Reason)
	case bastion.EventCleanup:
		s.l.Debug("bastion.cleanup", "removed", p.Keys)
	default:
		s.l.Debug("bastion.event", "event", string(p.Event))
	}
}
