// Package memstore provides an in-process store.Store backed by a mutex map.
// Useful for tests and for single-process deployments that want the
// persistent-tier code paths without an external dependency.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	st "github.com/unkn0wn-root/bastion/store"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Store keeps entries in-process. Expired entries are dropped lazily on
// Get/Keys; an optional janitor loop prunes them in the background.
type Store struct {
	mu sync.RWMutex
	m  map[string]entry

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ st.Store = (*Store)(nil)

// New creates a store. janitorInterval > 0 starts a background prune loop;
// 0 relies on lazy expiry only.
func New(janitorInterval time.Duration) *Store {
	s := &Store{m: make(map[string]entry)}
	if janitorInterval > 0 {
		s.ticker = time.NewTicker(janitorInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.prune()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	b := make([]byte, len(value))
	copy(b, value) // byte transparency: callers may reuse their buffer
	s.mu.Lock()
	s.m[key] = entry{v: b, exp: exp}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	out := make([]string, 0, len(s.m))
	for k, e := range s.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()
	return out, nil
}

// Len reports the number of live entries (test helper).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) prune() {
	now := time.Now()
	s.mu.Lock()
	for k, e := range s.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Close(context.Context) error {
	if s.stopCh != nil {
		close(s.stopCh)
		s.ticker.Stop()
		s.wg.Wait()
		s.stopCh = nil
	}
	return nil
}
