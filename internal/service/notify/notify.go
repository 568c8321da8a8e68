// Package notify delivers "something changed for user X" wakeups to waiting
// pollers. A wakeup carries no data; pollers always re-read the stores.
package notify

import (
	"context"
	"sync"
)

type (
	Notifier interface {
		Notify(ctx context.Context, userIDs ...int64)
		// Subscribe returns a channel that receives at least one value after
		// every Notify for userID that happens before cancel is called.
		Subscribe(userID int64) (<-chan struct{}, func())
	}

	// Hub is the in-process Notifier.
	Hub struct {
		mu   sync.Mutex
		subs map[int64]map[chan struct{}]struct{}
	}
)

func NewHub() *Hub {
	return &Hub{
		subs: make(map[int64]map[chan struct{}]struct{}),
	}
}

func (h *Hub) Notify(_ context.Context, userIDs ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range userIDs {
		for ch := range h.subs[id] {
			select {
			case ch <- struct{}{}:
			default:
				// a wakeup is already pending
			}
		}
	}
}

func (h *Hub) Subscribe(userID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
