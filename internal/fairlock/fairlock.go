// Package fairlock provides a mutual exclusion lock that grants ownership in
// strict FIFO order of arrival.
//
// sync.Mutex makes no fairness guarantee under steady contention; a goroutine
// hammering the lock can starve others for a long time. On a shared half-duplex
// bus that behavior translates into one device monopolizing the line while the
// rest time out, so the bus arbiter uses this lock instead.
package fairlock

import (
	"context"
	"sync"
)

// Lock is a FIFO-fair mutual exclusion lock. The zero value is an unlocked
// lock ready for use. A Lock must not be copied after first use.
type Lock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Lock acquires the lock, blocking until it is available. Contending callers
// are served in the order they called Lock.
func (l *Lock) Lock() {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	// Ownership is handed over on close; the releaser never clears the
	// locked flag when a waiter is queued.
	<-ch
}

// LockCtx acquires the lock like Lock but gives up when ctx is done, returning
// ctx.Err(). A canceled waiter loses its place in the queue.
func (l *Lock) LockCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	// Not queued anymore: the handoff raced the cancellation and we already
	// own the lock. Pass ownership to the next waiter before bailing out.
	l.release()
	l.mu.Unlock()

	return ctx.Err()
}

// TryLock acquires the lock without blocking and reports whether it succeeded.
// It never jumps the queue: a held lock or a non-empty waiter queue both fail.
func (l *Lock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return false
	}
	l.locked = true

	return true
}

// Unlock releases the lock and hands ownership to the longest-waiting caller,
// if any. It panics when the lock is not held.
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		panic("fairlock: unlock of unlocked lock")
	}
	l.release()
}

// Locked reports whether the lock is currently held.
func (l *Lock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.locked
}

// release hands the lock to the head of the queue, or clears the locked flag
// when nobody waits. Callers must hold l.mu.
func (l *Lock) release() {
	if len(l.waiters) > 0 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(ch)
		return
	}
	l.locked = false
}
