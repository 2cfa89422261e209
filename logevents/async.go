package logevents

import (
	"sync"

	"github.com/unkn0wn-root/bastion"
)

// Async decouples a handler from the emitting hot path: Handle enqueues the
// payload and returns immediately, dropping events when the queue is full.
// Close drains the queue and joins the workers.
type Async struct {
	inner bastion.Handler
	q     chan bastion.Payload
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsync(inner bastion.Handler, workers, qlen int) *Async {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	a := &Async{inner: inner, q: make(chan bastion.Payload, qlen)}
	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer a.wg.Done()
			for p := range a.q {
				a.inner(p)
			}
		}()
	}
	return a
}

// Handle is a bastion.Handler.
func (a *Async) Handle(p bastion.Payload) {
	select {
	case a.q <- p:
	default: // drop
	}
}

func (a *Async) Close() {
	a.once.Do(func() {
		close(a.q)
		a.wg.Wait()
	})
}
