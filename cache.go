package bastion

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/unkn0wn-root/bastion/codec"
	"github.com/unkn0wn-root/bastion/internal/wire"
	"github.com/unkn0wn-root/bastion/store"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxSize    = 10 << 20 // 10 MiB memory budget
	defaultSweep      = time.Minute
	storeSweepChance  = 0.1 // probability of sweeping the persistent tier per tick
	entryKeyNamespace = "entry:"
)

// Cache is a two-tier memoization layer: a fast bounded in-memory tier and an
// optional persistent byte-store tier for entries explicitly marked durable.
// V is the caller's value type; serialization is handled by a pluggable
// codec.Codec[V].
//
// The persistent tier is strictly best-effort: every store failure is logged
// and treated as a miss (reads) or a no-op (writes). A plain miss is
// (zero, false), never an error.
type Cache[V any] interface {
	// Get returns the cached value for key, consulting the memory tier
	// first and then the persistent tier (promoting on hit).
	Get(ctx context.Context, key string) (V, bool)

	// Set stores value under key. The only error returned is a codec
	// failure on the value itself; tier trouble never fails a Set.
	Set(ctx context.Context, key string, value V, opts SetOptions) error

	// Delete removes key from both tiers; reports whether anything was
	// actually deleted.
	Delete(ctx context.Context, key string) bool

	// Invalidate removes every entry whose tag set intersects tags
	// (set intersection, not exact match) and returns how many in-memory
	// entries were dropped.
	Invalidate(ctx context.Context, tags []string) int

	// Clear empties the memory tier and removes this cache's namespaced
	// keys from the persistent tier; unrelated keys in a shared store are
	// never touched.
	Clear(ctx context.Context)

	// Stats computes statistics over the current memory tier plus
	// cumulative hit/miss counters since construction.
	Stats() CacheStats

	// Subscribe registers h for ev; the returned func unsubscribes.
	Subscribe(ev Event, h Handler) func()

	// Close stops the background sweep and closes the persistent store.
	Close(ctx context.Context) error
}

// SetOptions tune a single Set.
type SetOptions struct {
	TTL        time.Duration // 0 => Options.DefaultTTL
	Tags       []string      // labels for bulk invalidation
	Persistent bool          // also write through to the persistent tier
	Source     Source        // provenance; "" => SourceComputed
}

// CacheStats is the snapshot returned by Stats.
type CacheStats struct {
	TotalKeys   int
	HitRate     float64 // percentage, 0-100
	TotalHits   uint64
	TotalMisses uint64
	MemoryUsage int64 // bytes accounted in the memory tier
	OldestEntry time.Time
	NewestEntry time.Time
}

// Options tune the behavior of a cache instance.
// Only Namespace and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace isolating this cache's keys in a shared store
	Codec     codec.Codec[V]

	// Store backs the persistent tier; nil disables it. The cache owns the
	// store and closes it on Close.
	Store store.Store

	Logger          Logger        // if nil, NopLogger is used
	DefaultTTL      time.Duration // 0 => 5m
	MaxSize         int64         // memory tier byte budget; 0 => 10MiB
	CleanupInterval time.Duration // background sweep period; 0 => 1m
	DisableMemory   bool          // bypass the in-memory tier
	DisableStore    bool          // ignore Store even if set
}

// NewCache constructs a cache and starts its background sweep.
func NewCache[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}

type memEntry[V any] struct {
	e   Entry[V]
	seq uint64 // insertion order; LRU tie-break
}

type cache[V any] struct {
	ns            string
	codec         codec.Codec[V]
	store         store.Store
	log           Logger
	defaultTTL    time.Duration
	maxSize       int64
	sweepInterval time.Duration
	memEnabled    bool
	storeEnabled  bool
	sweepChance   float64
	now           func() time.Time

	*emitter

	mu      sync.Mutex
	entries map[string]*memEntry[V]
	size    int64
	seq     uint64
	hits    uint64
	misses  uint64

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("bastion: namespace is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("bastion: codec is required")
	}

	log := coalesce[Logger](opts.Logger, NopLogger{})
	c := &cache[V]{
		ns:            opts.Namespace,
		codec:         opts.Codec,
		store:         opts.Store,
		log:           log,
		defaultTTL:    coalesce(opts.DefaultTTL, defaultTTL),
		maxSize:       coalesce(opts.MaxSize, int64(defaultMaxSize)),
		sweepInterval: coalesce(opts.CleanupInterval, defaultSweep),
		memEnabled:    !opts.DisableMemory,
		storeEnabled:  opts.Store != nil && !opts.DisableStore,
		sweepChance:   storeSweepChance,
		now:           time.Now,
		emitter:       newEmitter(log),
		entries:       make(map[string]*memEntry[V]),
	}

	c.ticker = time.NewTicker(c.sweepInterval)
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ticker.C:
				c.sweep()
			case <-c.stopCh:
				return
			}
		}
	}()

	return c, nil
}

func (c *cache[V]) Subscribe(ev Event, h Handler) func() { return c.subscribe(ev, h) }

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	now := c.now()

	if c.memEnabled {
		c.mu.Lock()
		if me, ok := c.entries[key]; ok {
			if !me.e.Expired(now) {
				me.e.Meta.HitCount++
				me.e.Meta.LastAccessed = now
				c.hits++
				data := me.e.Data
				c.mu.Unlock()
				c.emit(Payload{Event: EventHit, Key: key, Source: "memory"})
				return data, true
			}
			// lazy expiry; fall through to the persistent tier
			c.removeLocked(key, me)
			c.mu.Unlock()
			c.emit(Payload{Event: EventEvict, Key: key, Reason: "expired"})
		} else {
			c.mu.Unlock()
		}
	}

	if c.storeEnabled {
		if v, ok := c.storeGet(ctx, key, now); ok {
			return v, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.emit(Payload{Event: EventMiss, Key: key})
	return zero, false
}

// storeGet reads the persistent tier, self-healing corrupt or expired
// envelopes, and promotes hits into the memory tier. All store errors are
// logged and reported as a miss.
func (c *cache[V]) storeGet(ctx context.Context, key string, now time.Time) (V, bool) {
	var zero V
	sk := c.entryKey(key)

	raw, ok, err := c.store.Get(ctx, sk)
	if err != nil {
		c.log.Warn("persistent tier read failed", Fields{"key": key, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}

	env, err := wire.Decode(raw)
	if err != nil || env.Key != key {
		_ = c.store.Del(ctx, sk) // self-heal corrupt
		c.log.Debug("dropped corrupt persistent entry", Fields{"key": key})
		return zero, false
	}
	if env.ExpiresAt <= now.UnixNano() {
		_ = c.store.Del(ctx, sk)
		return zero, false
	}

	v, err := c.codec.Decode(env.Payload)
	if err != nil {
		_ = c.store.Del(ctx, sk) // self-heal undecodable payload
		c.log.Debug("dropped undecodable persistent entry", Fields{"key": key, "err": err})
		return zero, false
	}

	e := Entry[V]{
		Key:       key,
		Data:      v,
		CreatedAt: time.Unix(0, env.CreatedAt),
		ExpiresAt: time.Unix(0, env.ExpiresAt),
		Meta: Metadata{
			Source:       sourceFromWire(env.Source),
			HitCount:     env.HitCount + 1,
			LastAccessed: now,
			Size:         int64(len(env.Payload)),
			Tags:         env.Tags,
		},
	}

	var evs []Payload
	c.mu.Lock()
	c.hits++
	if c.memEnabled && e.Meta.Size <= c.maxSize {
		// promotion follows the same capacity rule as Set
		if old, ok := c.entries[key]; ok {
			c.removeLocked(key, old)
		}
		evs = c.ensureCapacityLocked(e.Meta.Size)
		c.insertLocked(key, e)
	}
	c.mu.Unlock()

	c.emitAll(evs)
	c.emit(Payload{Event: EventHit, Key: key, Source: "persistent"})
	return v, true
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, opts SetOptions) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("bastion: encode %q: %w", key, err)
	}

	now := c.now()
	ttl := coalesce(opts.TTL, c.defaultTTL)
	size := int64(len(payload))

	e := Entry[V]{
		Key:       key,
		Data:      value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Meta: Metadata{
			Source:       coalesce(opts.Source, SourceComputed),
			LastAccessed: now,
			Size:         size,
			Tags:         opts.Tags,
		},
	}

	var evs []Payload
	if c.memEnabled {
		c.mu.Lock()
		if old, ok := c.entries[key]; ok {
			// replace, not double-count
			c.removeLocked(key, old)
		}
		if size <= c.maxSize {
			evs = c.ensureCapacityLocked(size)
			c.insertLocked(key, e)
		} else {
			c.log.Debug("entry exceeds memory budget; memory tier skipped", Fields{"key": key, "size": size})
		}
		c.mu.Unlock()
	}

	if opts.Persistent && c.storeEnabled {
		c.storeSet(ctx, key, e, payload, ttl)
	}

	c.emitAll(evs)
	c.emit(Payload{Event: EventSet, Key: key, Size: size})
	return nil
}

// storeSet writes through to the persistent tier. Failures are logged and
// swallowed; they must never fail the in-memory Set.
func (c *cache[V]) storeSet(ctx context.Context, key string, e Entry[V], payload []byte, ttl time.Duration) {
	env := wire.Envelope{
		Key:          key,
		Source:       sourceToWire(e.Meta.Source),
		CreatedAt:    e.CreatedAt.UnixNano(),
		ExpiresAt:    e.ExpiresAt.UnixNano(),
		LastAccessed: e.Meta.LastAccessed.UnixNano(),
		HitCount:     e.Meta.HitCount,
		Tags:         e.Meta.Tags,
		Payload:      payload,
	}
	b, err := wire.Encode(env)
	if err != nil {
		c.log.Warn("envelope encode failed", Fields{"key": key, "err": err})
		return
	}
	ok, err := c.store.Set(ctx, c.entryKey(key), b, e.Meta.Size, ttl)
	if err != nil {
		c.log.Warn("persistent tier write failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		c.log.Debug("persistent tier rejected write (pressure)", Fields{"key": key})
	}
}

func (c *cache[V]) Delete(ctx context.Context, key string) bool {
	deleted := false
	if c.memEnabled {
		c.mu.Lock()
		if me, ok := c.entries[key]; ok {
			c.removeLocked(key, me)
			deleted = true
		}
		c.mu.Unlock()
	}

	if c.storeEnabled {
		sk := c.entryKey(key)
		if !deleted {
			if _, ok, err := c.store.Get(ctx, sk); err == nil && ok {
				deleted = true
			}
		}
		if err := c.store.Del(ctx, sk); err != nil {
			c.log.Warn("persistent tier delete failed", Fields{"key": key, "err": err})
		}
	}

	if deleted {
		c.emit(Payload{Event: EventDelete, Key: key})
	}
	return deleted
}

func (c *cache[V]) Invalidate(ctx context.Context, tags []string) int {
	if len(tags) == 0 {
		return 0
	}

	var removed []string
	if c.memEnabled {
		c.mu.Lock()
		for k, me := range c.entries {
			if me.e.Meta.hasAnyTag(tags) {
				c.removeLocked(k, me)
				removed = append(removed, k)
			}
		}
		c.mu.Unlock()
	}

	// Drop persisted copies of the invalidated keys so they are not
	// promoted back later. Entries living only in the store keep their TTL.
	if c.storeEnabled {
		for _, k := range removed {
			if err := c.store.Del(ctx, c.entryKey(k)); err != nil {
				c.log.Warn("persistent tier delete failed", Fields{"key": k, "err": err})
			}
		}
	}

	c.emit(Payload{Event: EventInvalidate, Tags: tags, Keys: len(removed)})
	return len(removed)
}

func (c *cache[V]) Clear(ctx context.Context) {
	var n int
	if c.memEnabled {
		c.mu.Lock()
		n = len(c.entries)
		c.entries = make(map[string]*memEntry[V])
		c.size = 0
		c.mu.Unlock()
	}

	if c.storeEnabled {
		keys, err := c.store.Keys(ctx, c.keyPrefix())
		switch {
		case errors.Is(err, store.ErrEnumerationUnsupported):
			c.log.Debug("store cannot enumerate; persistent clear skipped", Fields{"ns": c.ns})
		case err != nil:
			c.log.Warn("persistent tier enumeration failed", Fields{"err": err})
		default:
			for _, k := range keys {
				if err := c.store.Del(ctx, k); err != nil {
					c.log.Warn("persistent tier delete failed", Fields{"key": k, "err": err})
				}
			}
		}
	}

	c.emit(Payload{Event: EventClear, Keys: n})
}

func (c *cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		TotalKeys:   len(c.entries),
		TotalHits:   c.hits,
		TotalMisses: c.misses,
		MemoryUsage: c.size,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
	}
	for _, me := range c.entries {
		if s.OldestEntry.IsZero() || me.e.CreatedAt.Before(s.OldestEntry) {
			s.OldestEntry = me.e.CreatedAt
		}
		if me.e.CreatedAt.After(s.NewestEntry) {
			s.NewestEntry = me.e.CreatedAt
		}
	}
	return s
}

func (c *cache[V]) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.ticker.Stop()
		c.wg.Wait()
		c.unsubscribeAll()
		if c.store != nil {
			err = c.store.Close(ctx)
		}
	})
	return err
}

// sweep removes expired in-memory entries and, probabilistically, expired
// namespaced keys from the persistent tier. Full scans are acceptable at this
// scale; store-side cleanup is best-effort and never blocks on errors.
func (c *cache[V]) sweep() {
	now := c.now()

	var expired []string
	c.mu.Lock()
	for k, me := range c.entries {
		if me.e.Expired(now) {
			c.removeLocked(k, me)
			expired = append(expired, k)
		}
	}
	c.mu.Unlock()

	for _, k := range expired {
		c.emit(Payload{Event: EventEvict, Key: k, Reason: "expired"})
	}

	if c.storeEnabled && rand.Float64() < c.sweepChance {
		c.sweepStore(now)
	}

	if len(expired) > 0 {
		c.emit(Payload{Event: EventCleanup, Keys: len(expired)})
	}
}

func (c *cache[V]) sweepStore(now time.Time) {
	ctx := context.Background()
	keys, err := c.store.Keys(ctx, c.keyPrefix())
	if err != nil {
		if !errors.Is(err, store.ErrEnumerationUnsupported) {
			c.log.Warn("persistent tier enumeration failed", Fields{"err": err})
		}
		return
	}

	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		env, err := wire.Decode(raw)
		if err != nil || env.ExpiresAt <= now.UnixNano() {
			_ = c.store.Del(ctx, k) // expired or corrupt
		}
	}
}

// memory-tier internals; caller holds c.mu for all of these.

func (c *cache[V]) insertLocked(key string, e Entry[V]) {
	c.seq++
	c.entries[key] = &memEntry[V]{e: e, seq: c.seq}
	c.size += e.Meta.Size
}

func (c *cache[V]) removeLocked(key string, me *memEntry[V]) {
	delete(c.entries, key)
	c.size -= me.e.Meta.Size
}

// ensureCapacityLocked evicts least-recently-used entries (by LastAccessed,
// ties broken by insertion order) until need bytes fit in the budget.
func (c *cache[V]) ensureCapacityLocked(need int64) []Payload {
	var evs []Payload
	for c.size+need > c.maxSize && len(c.entries) > 0 {
		var victimKey string
		var victim *memEntry[V]
		for k, me := range c.entries {
			if victim == nil ||
				me.e.Meta.LastAccessed.Before(victim.e.Meta.LastAccessed) ||
				(me.e.Meta.LastAccessed.Equal(victim.e.Meta.LastAccessed) && me.seq < victim.seq) {
				victimKey, victim = k, me
			}
		}
		c.removeLocked(victimKey, victim)
		evs = append(evs, Payload{Event: EventEvict, Key: victimKey, Reason: "lru"})
	}
	return evs
}

func (c *cache[V]) entryKey(key string) string { return c.keyPrefix() + key }
func (c *cache[V]) keyPrefix() string          { return entryKeyNamespace + c.ns + ":" }
