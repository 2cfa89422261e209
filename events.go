package bastion

import "sync"

// Event names a class of observable side effect. Breakers emit the first
// three; caches emit the rest. Delivery is synchronous, in-process and
// best-effort: handlers run inline in the triggering call, in the order the
// triggering calls complete on a given instance. There is no ordering across
// instances, no durability and no replay.
type Event string

const (
	EventStateChange Event = "state_change"
	EventFailure     Event = "failure"
	EventSuccess     Event = "success"

	EventHit        Event = "hit"
	EventMiss       Event = "miss"
	EventSet        Event = "set"
	EventDelete     Event = "delete"
	EventClear      Event = "clear"
	EventInvalidate Event = "invalidate"
	EventEvict      Event = "evict"
	EventCleanup    Event = "cleanup"
)

// Payload is the tagged union carried by every event. Event is always set;
// the remaining fields are populated per event kind:
//
//	state_change: Breaker, From, To, Stats
//	failure:      Breaker, Err, Stats
//	success:      Breaker, Stats
//	hit:          Key, Source ("memory" or "persistent")
//	miss:         Key
//	set:          Key, Size
//	delete:       Key
//	clear:        Keys (entries dropped)
//	invalidate:   Tags, Keys (entries invalidated)
//	evict:        Key, Reason ("lru" or "expired")
//	cleanup:      Keys (expired entries removed by the sweep)
type Payload struct {
	Event Event

	Breaker string
	From    State
	To      State
	Stats   *BreakerStats
	Err     error

	Key    string
	Source string
	Size   int64
	Tags   []string
	Keys   int
	Reason string
}

// Handler receives event payloads. Handlers MUST be cheap and non-blocking;
// the emitting component calls them on hot paths.
type Handler func(Payload)

// emitter is a minimal synchronous pub/sub fan-out shared by breakers and
// caches. Handler panics are recovered so a broken subscriber cannot take
// down the emitting call.
type emitter struct {
	mu   sync.RWMutex
	subs map[Event]map[uint64]Handler
	next uint64
	log  Logger
}

func newEmitter(log Logger) *emitter {
	return &emitter{subs: make(map[Event]map[uint64]Handler), log: log}
}

// subscribe registers h for ev and returns an idempotent unsubscribe func.
func (e *emitter) subscribe(ev Event, h Handler) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	m, ok := e.subs[ev]
	if !ok {
		m = make(map[uint64]Handler)
		e.subs[ev] = m
	}
	m[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs[ev], id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(p Payload) {
	e.mu.RLock()
	m := e.subs[p.Event]
	if len(m) == 0 {
		e.mu.RUnlock()
		return
	}
	hs := make([]Handler, 0, len(m))
	for _, h := range m {
		hs = append(hs, h)
	}
	e.mu.RUnlock()

	for _, h := range hs {
		e.call(h, p)
	}
}

func (e *emitter) call(h Handler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panic", Fields{"event": p.Event, "panic": r})
		}
	}()
	h(p)
}

func (e *emitter) emitAll(ps []Payload) {
	for _, p := range ps {
		e.emit(p)
	}
}

// unsubscribeAll drops every subscriber; used on component shutdown.
func (e *emitter) unsubscribeAll() {
	e.mu.Lock()
	e.subs = make(map[Event]map[uint64]Handler)
	e.mu.Unlock()
}
