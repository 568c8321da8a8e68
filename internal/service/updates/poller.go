// Package updates implements long-poll delivery of new messages and
// key-exchange updates.
//
// A poll re-reads both stores every interval until one of them has data past
// the client's cursors or the timeout elapses. Wakeups from the notifier
// only shorten the wait; what is returned is always decided by the cursors,
// so a missed or spurious wakeup never loses or duplicates an update.
package updates

import (
	"context"
	"time"

	"haine/internal/apperr"
	"haine/internal/metrics"
	"haine/internal/model"
	"haine/internal/repository"
	"haine/internal/service/notify"
	"haine/internal/utils/log"

	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 40 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

type (
	// Cursor holds exclusive lower bounds of what the client already has.
	Cursor struct {
		NextMessageFrom  int64
		NextExchangeFrom int64
	}

	Poller struct {
		messages  repository.MessageStore
		exchanges repository.ExchangeStore
		notifier  notify.Notifier
		metrics   *metrics.Metrics
		timeout   time.Duration
		interval  time.Duration
	}
)

func NewPoller(messages repository.MessageStore, exchanges repository.ExchangeStore, notifier notify.Notifier, m *metrics.Metrics, timeout, interval time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		messages:  messages,
		exchanges: exchanges,
		notifier:  notifier,
		metrics:   m,
		timeout:   timeout,
		interval:  interval,
	}
}

func (c Cursor) Validate() error {
	if c.NextMessageFrom < 0 {
		return apperr.InvalidParam("next_message_from")
	}
	if c.NextExchangeFrom < 0 {
		return apperr.InvalidParam("next_exchange_from")
	}
	return nil
}

// Advance moves the cursor past everything in u.
func (c Cursor) Advance(u *model.Updates) Cursor {
	return Cursor{
		NextMessageFrom:  u.MaxMessageID(c.NextMessageFrom),
		NextExchangeFrom: u.MaxExchangeUpd(c.NextExchangeFrom),
	}
}

// Poll blocks until there is data for userID past cur or the timeout
// elapses. A timeout yields empty lists and no error. When ctx ends first,
// ctx.Err() is returned.
func (p *Poller) Poll(ctx context.Context, userID int64, cur Cursor) (*model.Updates, error) {
	if err := cur.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	p.metrics.ActivePolls.Inc()
	defer func() {
		p.metrics.ActivePolls.Dec()
		p.metrics.PollWait.Observe(time.Since(started).Seconds())
	}()

	upd, outcome, err := p.wait(ctx, userID, cur)
	p.metrics.PollResults.WithLabelValues(outcome).Inc()
	return upd, err
}

func (p *Poller) wait(ctx context.Context, userID int64, cur Cursor) (*model.Updates, string, error) {
	// Subscribe before the first read so a write landing between the read
	// and the wait still wakes us.
	wake, cancel := p.notifier.Subscribe(userID)
	defer cancel()

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		upd, err := p.check(ctx, userID, cur)
		if err != nil {
			if ctx.Err() != nil {
				return nil, metrics.PollCanceled, ctx.Err()
			}
			log.Error("poll check failed", zap.Int64("user", userID), zap.Error(err))
			return nil, metrics.PollError, err
		}
		if !upd.Empty() {
			return upd, metrics.PollData, nil
		}

		select {
		case <-ctx.Done():
			return nil, metrics.PollCanceled, ctx.Err()
		case <-deadline.C:
			return empty(), metrics.PollTimeout, nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// check runs both cursor queries against the current store state.
func (p *Poller) check(ctx context.Context, userID int64, cur Cursor) (*model.Updates, error) {
	messages, err := p.messages.After(ctx, userID, cur.NextMessageFrom)
	if err != nil {
		return nil, err
	}

	exchanges, err := p.exchanges.After(ctx, userID, cur.NextExchangeFrom)
	if err != nil {
		return nil, err
	}
	if exchanges == nil {
		exchanges = make([]*model.Exchange, 0)
	}

	return &model.Updates{
		Messages:  model.Views(userID, messages),
		Exchanges: exchanges,
	}, nil
}

// Stream polls repeatedly, handing every non-empty batch to send and
// advancing the cursor past it. It returns when ctx ends, a poll fails or
// send fails.
func (p *Poller) Stream(ctx context.Context, userID int64, cur Cursor, send func(*model.Updates) error) error {
	for {
		upd, err := p.Poll(ctx, userID, cur)
		if err != nil {
			return err
		}
		if upd.Empty() {
			continue
		}

		if err := send(upd); err != nil {
			return err
		}
		cur = cur.Advance(upd)
	}
}

func empty() *model.Updates {
	return &model.Updates{
		Messages:  make([]model.MessageView, 0),
		Exchanges: make([]*model.Exchange, 0),
	}
}
