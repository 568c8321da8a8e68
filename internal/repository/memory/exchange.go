package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"haine/internal/model"
)

type ExchangeRepo struct {
	mu        sync.RWMutex
	now       func() time.Time
	lastStamp int64
	records   map[model.ExchangeKey]*model.Exchange
}

func newExchangeRepo(now func() time.Time) *ExchangeRepo {
	return &ExchangeRepo{
		now:     now,
		records: make(map[model.ExchangeKey]*model.Exchange),
	}
}

// nextStamp must be called with mu held.
func (r *ExchangeRepo) nextStamp() int64 {
	stamp := r.now().UnixMilli()
	if stamp <= r.lastStamp {
		stamp = r.lastStamp + 1
	}
	r.lastStamp = stamp
	return stamp
}

func (r *ExchangeRepo) After(_ context.Context, userID, cursor int64) ([]*model.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*model.Exchange, 0)
	for _, e := range r.records {
		if e.LastUpd > cursor && e.Involves(userID) {
			cp := *e
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LastUpd < res[j].LastUpd })
	return res, nil
}

func (r *ExchangeRepo) Respond(_ context.Context, key model.ExchangeKey, responder int64, public string) (*model.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[key]
	if !ok {
		return nil, nil
	}

	e.PublicTo = public
	e.LastEditor = responder
	e.LastUpd = r.nextStamp()
	cp := *e
	return &cp, nil
}

func (r *ExchangeRepo) Propose(_ context.Context, key model.ExchangeKey, to int64, public string) (*model.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[key]
	if !ok {
		e = &model.Exchange{P: key.P, G: key.G, FromID: key.Initiator, ToID: to}
		r.records[key] = e
	}
	if e.ToID != to {
		e.ToID = to
		e.PublicTo = ""
	}

	e.PublicFrom = public
	e.LastEditor = key.Initiator
	e.LastUpd = r.nextStamp()
	cp := *e
	return &cp, nil
}
