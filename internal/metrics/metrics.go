package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "haine"

// Poll outcomes.
const (
	PollData     = "data"
	PollTimeout  = "timeout"
	PollError    = "error"
	PollCanceled = "canceled"
)

// Exchange transitions.
const (
	ExchangeProposed  = "proposed"
	ExchangeResponded = "responded"
)

type Metrics struct {
	PollResults     *prometheus.CounterVec
	PollWait        prometheus.Histogram
	ActivePolls     prometheus.Gauge
	ExchangeCommits *prometheus.CounterVec
	MessagesSent    prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_results_total",
			Help:      "Long-poll requests by outcome.",
		}, []string{"outcome"}),
		PollWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_wait_seconds",
			Help:      "Time a long-poll request was held open.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 20, 40},
		}),
		ActivePolls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_polls",
			Help:      "Long-poll requests currently waiting.",
		}),
		ExchangeCommits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_commits_total",
			Help:      "Key-exchange commits by transition.",
		}, []string{"transition"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages appended to the ledger.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// NewNop returns collectors registered nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
