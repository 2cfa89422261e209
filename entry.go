package bastion

import "time"

// Source records where a cached value came from.
type Source string

const (
	SourceComputed Source = "computed"
	SourceAPI      Source = "api"
)

// Metadata is the per-entry bookkeeping mutated on every hit.
type Metadata struct {
	Source       Source
	HitCount     uint32
	LastAccessed time.Time
	Size         int64 // approximate serialized size in bytes
	Tags         []string
}

// Entry is one cached value plus its lifecycle metadata. Invariant:
// ExpiresAt > CreatedAt.
type Entry[V any] struct {
	Key       string
	Data      V
	CreatedAt time.Time
	ExpiresAt time.Time
	Meta      Metadata
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// hasAnyTag reports whether the entry's tag set intersects tags.
func (m *Metadata) hasAnyTag(tags []string) bool {
	for _, t := range tags {
		for _, have := range m.Tags {
			if t == have {
				return true
			}
		}
	}
	return false
}

const (
	wireSourceComputed byte = 1
	wireSourceAPI      byte = 2
)

func sourceToWire(s Source) byte {
	if s == SourceAPI {
		return wireSourceAPI
	}
	return wireSourceComputed
}

func sourceFromWire(b byte) Source {
	if b == wireSourceAPI {
		return SourceAPI
	}
	return SourceComputed
}
