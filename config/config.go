// Package config loads the resilience layer's settings from the environment,
// so applications can tune breakers, cache and retry without recompiling.
//
// With prefix "BASTION", variables look like BASTION_BREAKER_FAILURE_THRESHOLD,
// BASTION_CACHE_DEFAULT_TTL, BASTION_RETRY_MAX_RETRIES, etc. A .env file is
// honored when present.
package config

import (
	"fmt"
	stdlog "log"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/unkn0wn-root/bastion"
	"github.com/unkn0wn-root/bastion/codec"
	"github.com/unkn0wn-root/bastion/store"
)

type Breaker struct {
	FailureThreshold uint32        `split_words:"true" default:"5"`
	ResetTimeout     time.Duration `split_words:"true" default:"30s"`
	MonitoringPeriod time.Duration `split_words:"true" default:"60s"`
}

type Cache struct {
	DefaultTTL        time.Duration `envconfig:"DEFAULT_TTL" default:"5m"`
	MaxSize           int64         `split_words:"true" default:"10485760"` // bytes, memory tier only
	CleanupInterval   time.Duration `split_words:"true" default:"60s"`
	EnableMemoryCache bool          `split_words:"true" default:"true"`
	EnablePersistent  bool          `split_words:"true" default:"true"`
}

type Retry struct {
	MaxRetries    int           `split_words:"true" default:"3"`
	BaseDelay     time.Duration `split_words:"true" default:"1s"`
	MaxDelay      time.Duration `split_words:"true" default:"30s"`
	BackoffFactor float64       `split_words:"true" default:"2"`
	MaxJitter     time.Duration `split_words:"true" default:"100ms"`
}

type Config struct {
	Breaker Breaker
	Cache   Cache
	Retry   Retry
}

// Load reads a .env file if present, then the environment under prefix, then
// validates the result.
func Load(prefix string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		stdlog.Printf("config: no .env file loaded: %v", err)
	}

	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Breaker),
		validation.Field(&c.Cache),
		validation.Field(&c.Retry),
	)
}

func (b Breaker) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.FailureThreshold, validation.Required, validation.Min(uint32(1))),
		validation.Field(&b.ResetTimeout, validation.Required),
	)
}

func (c Cache) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTTL, validation.Required),
		validation.Field(&c.MaxSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.CleanupInterval, validation.Required),
	)
}

func (r Retry) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxRetries, validation.Min(0)),
		validation.Field(&r.BackoffFactor, validation.Min(1.0)),
	)
}

// BreakerConfig maps the loaded settings onto a breaker config for name.
func (c *Config) BreakerConfig(name string, log bastion.Logger) bastion.BreakerConfig {
	return bastion.BreakerConfig{
		Name:             name,
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     c.Breaker.ResetTimeout,
		MonitoringPeriod: c.Breaker.MonitoringPeriod,
		Logger:           log,
	}
}

// RetryOptions maps the loaded settings onto retry options.
func (c *Config) RetryOptions() bastion.RetryOptions {
	return bastion.RetryOptions{
		MaxRetries:    c.Retry.MaxRetries,
		BaseDelay:     c.Retry.BaseDelay,
		MaxDelay:      c.Retry.MaxDelay,
		BackoffFactor: c.Retry.BackoffFactor,
		MaxJitter:     c.Retry.MaxJitter,
	}
}

// CacheOptions maps the loaded settings onto cache options for one namespace.
// st may be nil to run memory-only.
func CacheOptions[V any](c *Config, namespace string, cd codec.Codec[V], st store.Store, log bastion.Logger) bastion.Options[V] {
	return bastion.Options[V]{
		Namespace:       namespace,
		Codec:           cd,
		Store:           st,
		Logger:          log,
		DefaultTTL:      c.Cache.DefaultTTL,
		MaxSize:         c.Cache.MaxSize,
		CleanupInterval: c.Cache.CleanupInterval,
		DisableMemory:   !c.Cache.EnableMemoryCache,
		DisableStore:    !c.Cache.EnablePersistent,
	}
}
