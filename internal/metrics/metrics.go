package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perpgate"

// Collector groups the client's prometheus series. A nil *Collector is valid
// and records nothing.
type Collector struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	streamEvents   *prometheus.CounterVec
	rateLimitWaits *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing nil uses a private registry,
// which keeps repeated construction in tests from panicking.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		// requests by endpoint and HTTP status; status "error" means no response
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of exchange REST requests",
			},
			[]string{"exchange", "endpoint", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Exchange REST round trip time in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"exchange", "endpoint"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Classified exchange errors by kind",
			},
			[]string{"exchange", "kind"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"exchange"},
		),
		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "events_total",
				Help:      "User data stream events by type",
			},
			[]string{"exchange", "event"},
		),
		rateLimitWaits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for request weight",
				Buckets:   []float64{0, 0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"exchange"},
		),
	}
}

// ObserveRequest records one round trip. status 0 is recorded as "error".
func (c *Collector) ObserveRequest(exchange, endpoint string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.requests.WithLabelValues(exchange, endpoint, label).Inc()
	c.duration.WithLabelValues(exchange, endpoint).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveError(exchange, kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(exchange, kind).Inc()
}

func (c *Collector) SetBreakerState(exchange string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(exchange).Set(float64(state))
}

func (c *Collector) ObserveStreamEvent(exchange, event string) {
	if c == nil {
		return
	}
	c.streamEvents.WithLabelValues(exchange, event).Inc()
}

func (c *Collector) ObserveRateLimitWait(exchange string, waited time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWaits.WithLabelValues(exchange).Observe(waited.Seconds())
}
