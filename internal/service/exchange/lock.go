package exchange

import (
	"sync"

	"haine/internal/model"
)

type (
	lockEntry struct {
		mu   sync.Mutex
		refs int
	}

	keyedMutex struct {
		mu    sync.Mutex
		locks map[model.PairKey]*lockEntry
	}
)

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[model.PairKey]*lockEntry)}
}

// Lock blocks until key is free and returns its unlock function. Distinct
// keys never contend.
func (k *keyedMutex) Lock(key model.PairKey) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
