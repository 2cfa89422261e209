package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("BASTION_TEST_DEF")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Fatalf("breaker defaults wrong: %+v", cfg.Breaker)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute || cfg.Cache.MaxSize != 10485760 {
		t.Fatalf("cache defaults wrong: %+v", cfg.Cache)
	}
	if !cfg.Cache.EnableMemoryCache || !cfg.Cache.EnablePersistent {
		t.Fatalf("cache tiers should default on: %+v", cfg.Cache)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BackoffFactor != 2 || cfg.Retry.MaxJitter != 100*time.Millisecond {
		t.Fatalf("retry defaults wrong: %+v", cfg.Retry)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BASTION_BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("BASTION_BREAKER_RESET_TIMEOUT", "10s")
	t.Setenv("BASTION_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("BASTION_CACHE_MAX_SIZE", "2048")
	t.Setenv("BASTION_CACHE_ENABLE_MEMORY_CACHE", "false")
	t.Setenv("BASTION_RETRY_MAX_RETRIES", "1")
	t.Setenv("BASTION_RETRY_BASE_DELAY", "250ms")

	cfg, err := Load("BASTION")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Breaker.FailureThreshold != 7 || cfg.Breaker.ResetTimeout != 10*time.Second {
		t.Fatalf("breaker env not applied: %+v", cfg.Breaker)
	}
	if cfg.Cache.DefaultTTL != 90*time.Second || cfg.Cache.MaxSize != 2048 || cfg.Cache.EnableMemoryCache {
		t.Fatalf("cache env not applied: %+v", cfg.Cache)
	}
	if cfg.Retry.MaxRetries != 1 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("retry env not applied: %+v", cfg.Retry)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("backoff_below_one", func(t *testing.T) {
		t.Setenv("BASTION_RETRY_BACKOFF_FACTOR", "0.5")
		if _, err := Load("BASTION"); err == nil {
			t.Fatalf("BackoffFactor < 1 must be rejected")
		}
	})

	t.Run("zero_max_size", func(t *testing.T) {
		t.Setenv("BASTION_CACHE_MAX_SIZE", "0")
		if _, err := Load("BASTION"); err == nil {
			t.Fatalf("MaxSize 0 must be rejected")
		}
	})

	t.Run("unparsable_duration", func(t *testing.T) {
		t.Setenv("BASTION_BREAKER_RESET_TIMEOUT", "soon")
		if _, err := Load("BASTION"); err == nil {
			t.Fatalf("unparsable duration must be rejected")
		}
	})
}

func TestConverters(t *testing.T) {
	cfg, err := Load("BASTION_TEST_CONV")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bc := cfg.BreakerConfig("payments", nil)
	if bc.Name != "payments" || bc.FailureThreshold != 5 || bc.ResetTimeout != 30*time.Second {
		t.Fatalf("BreakerConfig mapping wrong: %+v", bc)
	}

	ro := cfg.RetryOptions()
	if ro.MaxRetries != 3 || ro.BaseDelay != time.Second || ro.MaxDelay != 30*time.Second {
		t.Fatalf("RetryOptions mapping wrong: %+v", ro)
	}
}
