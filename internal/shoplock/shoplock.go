// Package shoplock serializes writes to the shared aggregates of a shop
// (threshold state, reports, audit results, validation history).
package shoplock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker grants exclusive access to a shop. The returned unlock function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, shopID uuid.UUID) (unlock func(), err error)
}

// Local is an in-process keyed mutex. Waiting honours ctx.
type Local struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*Local)(nil)

// NewLocal creates an empty Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[uuid.UUID]*slot)}
}

func (l *Local) Lock(ctx context.Context, shopID uuid.UUID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[shopID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[shopID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(shopID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(shopID, s)
		})
	}, nil
}

func (l *Local) release(shopID uuid.UUID, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, shopID)
	}
	l.mu.Unlock()
}

// held reports the number of shops with a holder or waiter.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
