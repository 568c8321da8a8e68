package memory

import (
	"context"
	"sort"
	"sync"

	"haine/internal/model"
)

type MessageRepo struct {
	mu sync.RWMutex
	// ascending by id; ids are assigned under mu so readers never observe a gap
	messages []model.Message
}

func newMessageRepo() *MessageRepo {
	return &MessageRepo{}
}

func (r *MessageRepo) Insert(_ context.Context, message *model.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var last int64
	if n := len(r.messages); n > 0 {
		last = r.messages[n-1].ID
	}
	message.ID = last + 1
	r.messages = append(r.messages, *message)
	return message.ID, nil
}

func (r *MessageRepo) After(_ context.Context, userID, cursor int64) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := sort.Search(len(r.messages), func(i int) bool {
		return r.messages[i].ID > cursor
	})

	res := make([]*model.Message, 0)
	for i := start; i < len(r.messages); i++ {
		if r.messages[i].Involves(userID) {
			m := r.messages[i]
			res = append(res, &m)
		}
	}
	return res, nil
}

func (r *MessageRepo) Dialogs(_ context.Context, userID int64, limit int) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// ids ascend, so the last hit per partner is its latest message
	latest := make(map[int64]int)
	for i := range r.messages {
		m := &r.messages[i]
		if !m.Involves(userID) {
			continue
		}
		latest[m.View(userID).PeerID] = i
	}

	idx := make([]int, 0, len(latest))
	for _, i := range latest {
		idx = append(idx, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	if len(idx) > limit {
		idx = idx[:limit]
	}

	res := make([]*model.Message, 0, len(idx))
	for _, i := range idx {
		m := r.messages[i]
		res = append(res, &m)
	}
	return res, nil
}

func (r *MessageRepo) History(_ context.Context, userID, peerID, before int64, limit int) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	end := len(r.messages)
	if before > 0 {
		end = sort.Search(len(r.messages), func(i int) bool {
			return r.messages[i].ID >= before
		})
	}

	res := make([]*model.Message, 0)
	for i := end - 1; i >= 0 && len(res) < limit; i-- {
		m := r.messages[i]
		if (m.FromID == userID && m.ToID == peerID) || (m.FromID == peerID && m.ToID == userID) {
			res = append(res, &m)
		}
	}
	return res, nil
}
