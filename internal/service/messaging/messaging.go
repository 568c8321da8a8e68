// Package messaging appends messages to the ledger and answers the dialog
// summary and history queries.
package messaging

import (
	"context"
	"strings"
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
	DefaultDialogsLimit = 100
	DefaultHistoryCount = 50
	MaxHistoryCount     = 200
)

type (
	UserChecker interface {
		RequireUser(ctx context.Context, id int64) error
	}

	SendRequest struct {
		ToID       int64
		Text       string
		Attachment string
		StickerID  int64
	}

	Service struct {
		messages     repository.MessageStore
		users        UserChecker
		notifier     notify.Notifier
		metrics      *metrics.Metrics
		dialogsLimit int
		now          func() time.Time
	}
)

func NewService(messages repository.MessageStore, users UserChecker, notifier notify.Notifier, m *metrics.Metrics, dialogsLimit int) *Service {
	if dialogsLimit <= 0 {
		dialogsLimit = DefaultDialogsLimit
	}
	return &Service{
		messages:     messages,
		users:        users,
		notifier:     notifier,
		metrics:      m,
		dialogsLimit: dialogsLimit,
		now:          time.Now,
	}
}

func (s *Service) Send(ctx context.Context, from int64, req SendRequest) (int64, error) {
	message, err := req.message(from)
	if err != nil {
		return 0, err
	}

	if err := s.users.RequireUser(ctx, req.ToID); err != nil {
		return 0, err
	}

	message.Time = s.now().Unix()
	id, err := s.messages.Insert(ctx, message)
	if err != nil {
		return 0, err
	}

	s.metrics.MessagesSent.Inc()
	s.notifier.Notify(ctx, from, req.ToID)
	log.Debug("message sent", zap.Int64("id", id), zap.Int64("from", from), zap.Int64("to", req.ToID))
	return id, nil
}

func (r SendRequest) message(from int64) (*model.Message, error) {
	if strings.TrimSpace(r.Text) == "" {
		r.Text = ""
	}

	payloads := 0
	if r.Text != "" {
		payloads++
	}
	if r.Attachment != "" {
		payloads++
	}
	if r.StickerID != 0 {
		payloads++
	}

	switch {
	case payloads == 0:
		return nil, apperr.EmptyMessage()
	case payloads > 1:
		return nil, apperr.InvalidParam("text")
	case r.StickerID < 0:
		return nil, apperr.InvalidParam("sticker_id")
	}

	return &model.Message{
		FromID:     from,
		ToID:       r.ToID,
		Text:       r.Text,
		Attachment: r.Attachment,
		StickerID:  r.StickerID,
	}, nil
}

// Dialogs returns the latest message of each conversation, newest first.
func (s *Service) Dialogs(ctx context.Context, userID int64) ([]model.MessageView, error) {
	messages, err := s.messages.Dialogs(ctx, userID, s.dialogsLimit)
	if err != nil {
		return nil, err
	}
	return model.Views(userID, messages), nil
}

func (s *Service) History(ctx context.Context, userID, peerID, before int64, count int) ([]model.MessageView, error) {
	if count <= 0 {
		count = DefaultHistoryCount
	}
	if count > MaxHistoryCount {
		count = MaxHistoryCount
	}

	messages, err := s.messages.History(ctx, userID, peerID, before, count)
	if err != nil {
		return nil, err
	}
	return model.Views(userID, messages), nil
}
