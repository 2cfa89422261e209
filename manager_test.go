package bastion

import (
	"context"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Second}, nil)
}

func TestManagerGetOrCreateIdentity(t *testing.T) {
	m := newTestManager()

	a := m.GetOrCreate("payments", nil)
	b := m.GetOrCreate("payments", nil)
	if a != b {
		t.Fatalf("same name must yield the same breaker instance")
	}
	if a.Name() != "payments" {
		t.Fatalf("breaker name = %q, want payments", a.Name())
	}

	// Config is creation-time only: a later call with a config must not
	// replace the existing breaker.
	cfg := DefaultBreakerConfig("payments")
	cfg.FailureThreshold = 99
	if c := m.GetOrCreate("payments", &cfg); c != a {
		t.Fatalf("later config must not replace the registered breaker")
	}
}

func TestManagerDefaultsApplied(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	b := m.GetOrCreate("search", nil)
	_, _ = b.Execute(ctx, failWith(&statusErr{code: 500}))
	_, _ = b.Execute(ctx, failWith(&statusErr{code: 500}))

	if b.State() != StateOpen {
		t.Fatalf("manager defaults (threshold 2) should apply, state = %s", b.State())
	}
}

func TestManagerAllStatsOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	for _, name := range []string{"billing", "auth", "search"} {
		m.GetOrCreate(name, nil)
	}
	// Re-registration must not change order.
	m.GetOrCreate("auth", nil)

	_, _ = m.Execute(ctx, "auth", failWith(&statusErr{code: 500}))

	stats := m.AllStats()
	if len(stats) != 3 {
		t.Fatalf("expected 3 stats, got %d", len(stats))
	}
	want := []string{"billing", "auth", "search"}
	for i, st := range stats {
		if st.Name != want[i] {
			t.Fatalf("stats[%d].Name = %q, want %q", i, st.Name, want[i])
		}
	}
	if stats[1].FailureCount != 1 {
		t.Fatalf("auth failure count = %d, want 1", stats[1].FailureCount)
	}
}

func TestManagerExecuteCreatesBreaker(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	v, err := m.Execute(ctx, "profile", func(context.Context) (any, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Execute = (%v, %v), want (42, nil)", v, err)
	}
	if len(m.AllStats()) != 1 {
		t.Fatalf("Execute should have registered the breaker")
	}
}

func TestManagerResetAll(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	for _, name := range []string{"a", "b"} {
		b := m.GetOrCreate(name, nil)
		_, _ = b.Execute(ctx, failWith(&statusErr{code: 500}))
		_, _ = b.Execute(ctx, failWith(&statusErr{code: 500}))
		if b.State() != StateOpen {
			t.Fatalf("setup: %s should be OPEN", name)
		}
	}

	m.ResetAll()
	for _, st := range m.AllStats() {
		if st.State != StateClosed || st.FailureCount != 0 || st.SuccessCount != 0 {
			t.Fatalf("ResetAll left %+v", st)
		}
	}
}

func TestManagerDestroy(t *testing.T) {
	m := newTestManager()
	b := m.GetOrCreate("a", nil)

	fired := 0
	b.Subscribe(EventStateChange, func(Payload) { fired++ })

	m.Destroy()
	m.Destroy() // idempotent

	if len(m.AllStats()) != 0 {
		t.Fatalf("Destroy should clear the registry")
	}

	// Subscribers were released with the registry.
	b.ForceOpen()
	if fired != 0 {
		t.Fatalf("handler fired after Destroy")
	}
}
