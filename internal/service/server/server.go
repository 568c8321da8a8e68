package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"haine/internal/apperr"
	"haine/internal/metrics"
	"haine/internal/service/auth"
	"haine/internal/service/exchange"
	"haine/internal/service/messaging"
	"haine/internal/service/prime"
	"haine/internal/service/updates"
	"haine/internal/utils/log"
	"haine/internal/utils/ratelimit"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type (
	Deps struct {
		Auth        *auth.Service
		Messaging   *messaging.Service
		Coordinator *exchange.Coordinator
		Poller      *updates.Poller
		Primes      *prime.Provider
		Metrics     *metrics.Metrics
		Gatherer    prometheus.Gatherer
		AuthLimiter *ratelimit.KeyLimiter
	}

	HttpServer struct {
		addr        string
		auth        *auth.Service
		messaging   *messaging.Service
		coordinator *exchange.Coordinator
		poller      *updates.Poller
		primes      *prime.Provider
		metrics     *metrics.Metrics
		gatherer    prometheus.Gatherer
		authLimiter *ratelimit.KeyLimiter
		upgrader    websocket.Upgrader
	}
)

func NewHttpServer(addr string, d Deps) *HttpServer {
	return &HttpServer{
		addr:        addr,
		auth:        d.Auth,
		messaging:   d.Messaging,
		coordinator: d.Coordinator,
		poller:      d.Poller,
		primes:      d.Primes,
		metrics:     d.Metrics,
		gatherer:    d.Gatherer,
		authLimiter: d.AuthLimiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/auth.signUp", s.limited(s.SignUp())).Methods(http.MethodPost)
	r.HandleFunc("/auth.logIn", s.limited(s.LogIn())).Methods(http.MethodPost)
	r.HandleFunc("/user.get/{user_id:[0-9]+}", s.authorized(s.GetUser())).Methods(http.MethodGet)

	r.HandleFunc("/messages.send", s.authorized(s.SendMessage())).Methods(http.MethodPost)
	r.HandleFunc("/messages.getDialogs", s.authorized(s.GetDialogs())).Methods(http.MethodGet)
	r.HandleFunc("/messages.getHistory", s.authorized(s.GetHistory())).Methods(http.MethodGet)

	r.HandleFunc("/updates.poll", s.authorized(s.PollUpdates())).Methods(http.MethodGet)
	r.HandleFunc("/updates.stream", s.authorized(s.StreamUpdates())).Methods(http.MethodGet)

	r.HandleFunc("/exchange.commit", s.authorized(s.CommitExchange())).Methods(http.MethodPost)
	r.HandleFunc("/dh.getParams", s.GetDHParams()).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.NotFound())
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.MethodNotAllowed())
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
