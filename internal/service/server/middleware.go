package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"haine/internal/apperr"
	"haine/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const authHeader = "auth"

type ctxKey int

const userIDKey ctxKey = iota

func userID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// authorized resolves the auth token before calling next. Browsers cannot
// set headers on websocket upgrades, so the token may also come as a query
// parameter.
func (s *HttpServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(authHeader)
		if token == "" {
			token = r.URL.Query().Get(authHeader)
		}

		id, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	}
}

// limited throttles next per client address.
func (s *HttpServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.Allow(clientAddr(r), time.Now()) {
			writeError(w, apperr.TooManyRequests())
			return
		}
		next(w, r)
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the recorder.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// observe logs every request and counts it by route template and status.
func (s *HttpServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(started)),
		)
	})
}
