// Package stagelock guards the stage-transition path of each document.
//
// Locks are keyed by document id, so unrelated documents never wait on each
// other. Callers use Do, which releases the guard on every exit path,
// including panics in the guarded function.
package stagelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a document's guard is not free within the wait bound.
var ErrBusy = errors.New("document is busy")

// Locker hands out one Guard per document id at a time.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Guard is exclusive access to one document's transition path.
type Guard struct {
	l    *Locker
	id   string
	e    *entry
	once sync.Once
}

// ID returns the guarded document id.
func (g *Guard) ID() string { return g.id }

// Release frees the guard. It is safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.e.sem.Release(1)
		g.l.unref(g.id, g.e)
	})
}

// Acquire waits up to wait for the guard of id. A zero or negative wait makes
// a single non-blocking attempt. ErrBusy is returned when the guard stays
// held; a cancelled ctx returns its own error.
func (l *Locker) Acquire(ctx context.Context, id string, wait time.Duration) (*Guard, error) {
	e := l.ref(id)

	var ok bool
	if wait <= 0 {
		ok = e.sem.TryAcquire(1)
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		ok = e.sem.Acquire(waitCtx, 1) == nil
		cancel()
	}
	if !ok {
		l.unref(id, e)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire %s: %w", id, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	return &Guard{l: l, id: id, e: e}, nil
}

// Do runs fn while holding the guard of id.
func (l *Locker) Do(ctx context.Context, id string, wait time.Duration, fn func(ctx context.Context) error) error {
	g, err := l.Acquire(ctx, id, wait)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// Busy reports whether id's guard is currently held.
func (l *Locker) Busy(id string) bool {
	g, err := l.Acquire(context.Background(), id, 0)
	if err != nil {
		return true
	}
	g.Release()
	return false
}

func (l *Locker) ref(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

// unref drops the map entry once nobody holds or waits on it.
func (l *Locker) unref(id string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 && l.entries[id] == e {
		delete(l.entries, id)
	}
}

// size is the number of live entries; used by tests to check cleanup.
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
