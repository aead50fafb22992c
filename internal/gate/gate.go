// Package gate serializes writers per key. Every mutation of one auction
// passes through the same gate entry; different keys never contend.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the gate could not be acquired in time
var ErrTimeout = errors.New("gate acquisition timed out")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Gate is a keyed single-writer lock with a bounded wait
type Gate struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// New creates a gate; timeout <= 0 waits until ctx is done
func New(timeout time.Duration) *Gate {
	return &Gate{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Acquire blocks until the key is free, the timeout elapses or ctx ends.
// The returned release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, key string) (func(), error) {
	e := g.ref(key)

	actx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(actx, 1); err != nil {
		g.unref(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			g.unref(key, e)
		})
	}, nil
}

// TryAcquire takes the key only if it is free right now
func (g *Gate) TryAcquire(key string) (func(), bool) {
	e := g.ref(key)
	if !e.sem.TryAcquire(1) {
		g.unref(key, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			g.unref(key, e)
		})
	}, true
}

// Len returns the number of keys currently held or waited on
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Gate) ref(key string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		g.entries[key] = e
	}
	e.refs++
	return e
}

func (g *Gate) unref(key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(g.entries, key)
	}
}
