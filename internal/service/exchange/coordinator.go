// Package exchange merges the independent commits of two users into one
// Diffie-Hellman negotiation record.
//
// A commit for (p, g) naming user T as counter-party is a response when a
// record initiated by T under the same (p, g) exists; otherwise the caller
// proposes (or re-proposes) its own record. Records have no terminal state.
// The match ignores the record's to_id, so two unrelated pairs choosing the
// same (p, g) can collide on a shared initiator.
package exchange

import (
	"context"
	"math/big"

	"haine/internal/apperr"
	"haine/internal/metrics"
	"haine/internal/model"
	"haine/internal/repository"
	"haine/internal/service/notify"
	"haine/internal/utils/log"

	"go.uber.org/zap"
)

type (
	UserChecker interface {
		RequireUser(ctx context.Context, id int64) error
	}

	CommitRequest struct {
		P      string
		G      string
		Public string
		ToID   int64
	}

	Coordinator struct {
		store    repository.ExchangeStore
		users    UserChecker
		notifier notify.Notifier
		metrics  *metrics.Metrics
		locks    *keyedMutex
		pairs    repository.PairLocker
	}

	Option func(*Coordinator)
)

// WithPairLocker makes commits also hold a lock shared with other server
// instances writing to the same store.
func WithPairLocker(l repository.PairLocker) Option {
	return func(c *Coordinator) { c.pairs = l }
}

func NewCoordinator(store repository.ExchangeStore, users UserChecker, notifier notify.Notifier, m *metrics.Metrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		users:    users,
		notifier: notifier,
		metrics:  m,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit applies the caller's public value and returns the resulting record.
func (c *Coordinator) Commit(ctx context.Context, callerID int64, req CommitRequest) (*model.Exchange, error) {
	p, g, err := Canonical(req.P, req.G)
	if err != nil {
		return nil, err
	}
	if req.Public == "" {
		return nil, apperr.MissingParam("public")
	}
	if req.ToID <= 0 || req.ToID == callerID {
		return nil, apperr.InvalidParam("to_id")
	}
	if err := c.users.RequireUser(ctx, req.ToID); err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, model.NewPairKey(p, g, callerID, req.ToID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	transition := metrics.ExchangeResponded
	e, err := c.store.Respond(ctx, model.ExchangeKey{P: p, G: g, Initiator: req.ToID}, callerID, req.Public)
	if err != nil {
		return nil, err
	}
	if e == nil {
		transition = metrics.ExchangeProposed
		e, err = c.store.Propose(ctx, model.ExchangeKey{P: p, G: g, Initiator: callerID}, req.ToID, req.Public)
		if err != nil {
			return nil, err
		}
	}

	c.metrics.ExchangeCommits.WithLabelValues(transition).Inc()
	c.notifier.Notify(ctx, e.FromID, e.ToID)
	log.Debug("exchange committed",
		zap.String("transition", transition),
		zap.Int64("from", e.FromID),
		zap.Int64("to", e.ToID),
		zap.Int64("last_upd", e.LastUpd),
	)
	return e, nil
}

// lock holds the pair for the whole respond-or-propose step. The local mutex
// queues commits of this instance so only one of them polls the shared lock.
func (c *Coordinator) lock(ctx context.Context, key model.PairKey) (func(), error) {
	unlock := c.locks.Lock(key)
	if c.pairs == nil {
		return unlock, nil
	}

	release, err := c.pairs.LockPair(ctx, key)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		release()
		unlock()
	}, nil
}

// Canonical parses p and g as positive decimal integers and returns their
// canonical form, so "023" and "23" name the same negotiation.
func Canonical(p, g string) (string, string, error) {
	pv, ok := new(big.Int).SetString(p, 10)
	if !ok || pv.Sign() <= 0 {
		return "", "", apperr.InvalidParam("p")
	}
	gv, ok := new(big.Int).SetString(g, 10)
	if !ok || gv.Sign() <= 0 {
		return "", "", apperr.InvalidParam("g")
	}
	return pv.String(), gv.String(), nil
}
