package messaging

import (
	"context"
	"testing"
	"time"

	"haine/internal/apperr"
	"haine/internal/metrics"
	"haine/internal/repository/memory"
	"haine/internal/service/notify"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type knownUsers map[int64]bool

func (k knownUsers) RequireUser(_ context.Context, id int64) error {
	if !k[id] {
		return apperr.UserNotFound(id)
	}
	return nil
}

func newService() (*Service, *notify.Hub, *metrics.Metrics) {
	hub := notify.NewHub()
	m := metrics.NewNop()
	s := NewService(memory.New().Messages(), knownUsers{1: true, 2: true, 3: true}, hub, m, 0)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, hub, m
}

func TestSendValidation(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()

	_, err := s.Send(ctx, 1, SendRequest{ToID: 2})
	assert.True(t, apperr.Is(err, apperr.CodeEmptyMessage))

	_, err = s.Send(ctx, 1, SendRequest{ToID: 2, Text: "   "})
	assert.True(t, apperr.Is(err, apperr.CodeEmptyMessage))

	_, err = s.Send(ctx, 1, SendRequest{ToID: 2, Text: "hi", StickerID: 3})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParam))

	_, err = s.Send(ctx, 1, SendRequest{ToID: 2, StickerID: -1})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParam))

	_, err = s.Send(ctx, 1, SendRequest{ToID: 42, Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.CodeUserNotFound))
}

func TestSendNotifiesBothParties(t *testing.T) {
	s, hub, m := newService()
	ctx := context.Background()

	sender, cancelSender := hub.Subscribe(1)
	defer cancelSender()
	recipient, cancelRecipient := hub.Subscribe(2)
	defer cancelRecipient()

	id, err := s.Send(ctx, 1, SendRequest{ToID: 2, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	for _, ch := range []<-chan struct{}{sender, recipient} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("no wakeup")
		}
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent))
}

func TestSendPayloadKinds(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()

	_, err := s.Send(ctx, 1, SendRequest{ToID: 2, Attachment: "files/abc"})
	require.NoError(t, err)
	_, err = s.Send(ctx, 1, SendRequest{ToID: 2, StickerID: 7})
	require.NoError(t, err)

	views, err := s.History(ctx, 2, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(7), views[0].StickerID)
	assert.Equal(t, "files/abc", views[1].Attachment)
	assert.False(t, views[0].Out)
	assert.Equal(t, int64(1), views[0].PeerID)
	assert.Equal(t, int64(1700000000), views[0].Time)
}

func TestSendDropsBlankTextBesidePayload(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()

	_, err := s.Send(ctx, 1, SendRequest{ToID: 2, Text: " \t\n", Attachment: "files/abc"})
	require.NoError(t, err)
	_, err = s.Send(ctx, 1, SendRequest{ToID: 2, Text: "  ", StickerID: 3})
	require.NoError(t, err)

	views, err := s.History(ctx, 2, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, "", v.Text)
	}
	assert.Equal(t, int64(3), views[0].StickerID)
	assert.Equal(t, "files/abc", views[1].Attachment)
}

func TestDialogs(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()

	for _, tc := range []struct {
		from, to int64
	}{{1, 2}, {3, 1}, {2, 1}, {2, 3}} {
		_, err := s.Send(ctx, tc.from, SendRequest{ToID: tc.to, Text: "x"})
		require.NoError(t, err)
	}

	views, err := s.Dialogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(3), views[0].ID)
	assert.Equal(t, int64(2), views[0].PeerID)
	assert.False(t, views[0].Out)
	assert.Equal(t, int64(2), views[1].ID)
	assert.Equal(t, int64(3), views[1].PeerID)
}

func TestHistoryCountBounds(t *testing.T) {
	s, _, _ := newService()
	ctx := context.Background()

	for i := 0; i < MaxHistoryCount+10; i++ {
		_, err := s.Send(ctx, 1, SendRequest{ToID: 2, Text: "x"})
		require.NoError(t, err)
	}

	views, err := s.History(ctx, 1, 2, 0, 1000)
	require.NoError(t, err)
	assert.Len(t, views, MaxHistoryCount)

	views, err = s.History(ctx, 1, 2, 0, 0)
	require.NoError(t, err)
	assert.Len(t, views, DefaultHistoryCount)
	assert.True(t, views[0].Out)
}
