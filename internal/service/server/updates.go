package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"haine/internal/model"
	"haine/internal/service/updates"
	"haine/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

func cursorFrom(r *http.Request) (updates.Cursor, error) {
	var cur updates.Cursor
	var err error

	if cur.NextMessageFrom, err = requireInt(r, "next_message_from"); err != nil {
		return cur, err
	}
	if cur.NextExchangeFrom, err = requireInt(r, "next_exchange_from"); err != nil {
		return cur, err
	}
	return cur, cur.Validate()
}

func (s *HttpServer) PollUpdates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur, err := cursorFrom(r)
		if err != nil {
			writeError(w, err)
			return
		}

		upd, err := s.poller.Poll(r.Context(), userID(r.Context()), cur)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("poll abandoned by client", zap.Int64("user", userID(r.Context())))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, upd)
	}
}

// StreamUpdates upgrades to a websocket and pushes every non-empty batch
// as {"result": {messages, exchanges}} until the client goes away.
func (s *HttpServer) StreamUpdates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur, err := cursorFrom(r)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		uid := userID(r.Context())
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go s.readUntilClosed(conn, cancel)
		go s.keepAlive(ctx, conn)

		err = s.poller.Stream(ctx, uid, cur, func(upd *model.Updates) error {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(result{Result: upd})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("update stream ended", zap.Int64("user", uid), zap.Error(err))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed"),
				time.Now().Add(writeWait))
		}
	}
}

// readUntilClosed drains client frames; the stream ends when the
// connection drops or the client closes it.
func (s *HttpServer) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			return
		}
	}
}

func (s *HttpServer) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
