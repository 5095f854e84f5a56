// Package lock serializes work on a named resource. Nursing record writes
// hold a lock per (patient, month) around "count visits, compute, write" so
// two concurrent saves cannot both see themselves as the first visit of the
// day.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx
// expired.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires a named lock and returns the function that releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch      chan struct{}
	waiters int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.waiters++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.done(key, e)
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.done(key, e)
		})
	}, nil
}

func (l *Local) done(key string, e *entry) {
	l.mu.Lock()
	e.waiters--
	if e.waiters == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
