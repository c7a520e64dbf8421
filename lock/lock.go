/*
Package lock provides named, non-blocking mutual exclusion for background jobs.

PURPOSE:
  The stale-hold sweep and the eligibility sweep are safe to run twice, but
  running them on every replica at once wastes work and duplicates events.
  A job takes a named lock before it runs and skips the tick when another
  holder has it.

IMPLEMENTATIONS:
  Local:     in-process, for a single server or tests
  Redis:     SET NX PX with a random token, released by compare-and-delete
  Postgres:  session-level pg_try_advisory_lock on a dedicated connection

All three satisfy Locker.
*/
package lock

import (
	"context"
	"sync"
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// Locker hands out named locks without blocking.
type Locker interface {
	// TryLock returns acquired=false, with a nil error, when the lock is held elsewhere.
	TryLock(ctx context.Context, name string) (unlock Unlock, acquired bool, err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) TryLock(_ context.Context, name string) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, true, nil
}
