package rwlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrDisposed is returned for acquisitions on a disposed lock
var ErrDisposed = errors.New("rwlock: disposed")

type waiter struct {
	write   bool
	ready   chan struct{}
	granted bool
	err     error
}

// RWLock is an async reader/writer lock. The zero value is not usable, use New.
type RWLock struct {
	mu       sync.Mutex
	queue    []*waiter
	readers  int
	writer   bool
	disposed bool
	drained  chan struct{}
}

// Ticket is one granted acquisition
type Ticket struct {
	lock     *RWLock
	write    bool
	released atomic.Bool
}

func New() *RWLock {
	return &RWLock{drained: make(chan struct{})}
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// ReadLock acquires a shared hold
func (l *RWLock) ReadLock(ctx context.Context) (*Ticket, error) {
	return l.acquire(ctx, false)
}

// WriteLock acquires the exclusive hold
func (l *RWLock) WriteLock(ctx context.Context) (*Ticket, error) {
	return l.acquire(ctx, true)
}

// Release gives the hold back. Calling it more than once, or after the lock
// was disposed, is harmless.
func (t *Ticket) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.lock.release(t.write)
}

// IsWrite reports whether the ticket is an exclusive hold
func (t *Ticket) IsWrite() bool { return t.write }

// Dispose fails all queued and future acquisitions with ErrDisposed and waits
// until every granted ticket was released or ctx ends
func (l *RWLock) Dispose(ctx context.Context) error {
	l.mu.Lock()
	if !l.disposed {
		l.disposed = true
		for _, w := range l.queue {
			w.err = ErrDisposed
			close(w.ready)
		}
		l.queue = nil
		l.checkDrained()
	}
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the number of active readers, whether a writer holds the lock
// and the number of queued acquisitions
func (l *RWLock) State() (readers int, writer bool, queued int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.writer, len(l.queue)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (l *RWLock) acquire(ctx context.Context, write bool) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil, ErrDisposed
	}
	if len(l.queue) == 0 && l.free(write) {
		l.hold(write)
		l.mu.Unlock()
		return &Ticket{lock: l, write: write}, nil
	}
	w := &waiter{write: write, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, w.err
		}
		return &Ticket{lock: l, write: write}, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	switch {
	case w.granted:
		// granted while ctx ended, give it back
		l.mu.Unlock()
		l.release(write)
		return nil, ctx.Err()
	case w.err != nil:
		l.mu.Unlock()
		return nil, w.err
	}
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	// a cancelled writer at the head may have blocked readers behind it
	l.promote()
	l.mu.Unlock()
	return nil, ctx.Err()
}

func (l *RWLock) release(write bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if write {
		l.writer = false
	} else if l.readers > 0 {
		l.readers--
	}
	l.promote()
	l.checkDrained()
}

// free reports whether a hold of the given kind can be granted now
func (l *RWLock) free(write bool) bool {
	if write {
		return !l.writer && l.readers == 0
	}
	return !l.writer
}

func (l *RWLock) hold(write bool) {
	if write {
		l.writer = true
	} else {
		l.readers++
	}
}

// promote grants waiters from the head of the queue while possible
func (l *RWLock) promote() {
	for len(l.queue) > 0 {
		w := l.queue[0]
		if !l.free(w.write) {
			return
		}
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.hold(w.write)
		w.granted = true
		close(w.ready)
	}
}

func (l *RWLock) checkDrained() {
	if !l.disposed || l.readers > 0 || l.writer {
		return
	}
	select {
	case <-l.drained:
	default:
		close(l.drained)
	}
}
