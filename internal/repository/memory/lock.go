package memory

import (
	"context"
	"sync"

	"haine/internal/model"
)

// PairLocks is the in-process PairLocker. Every coordinator built on the same
// DB shares it.
type PairLocks struct {
	mu    sync.Mutex
	slots map[model.PairKey]*pairSlot
}

type pairSlot struct {
	sem  chan struct{}
	refs int
}

func newPairLocks() *PairLocks {
	return &PairLocks{slots: make(map[model.PairKey]*pairSlot)}
}

func (l *PairLocks) LockPair(ctx context.Context, key model.PairKey) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &pairSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			l.drop(key, s)
		})
	}, nil
}

func (l *PairLocks) drop(key model.PairKey, s *pairSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *PairLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
