package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors
	Registry = prometheus.NewRegistry()

	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "admission",
			Name:      "bids_total",
			Help:      "Bid submissions by outcome.",
		},
		[]string{"outcome"},
	)

	gateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "admission",
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for the per-auction gate.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
		},
	)

	extensionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "admission",
			Name:      "extensions_total",
			Help:      "Anti-snipe extensions applied.",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweeper passes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	sweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "sweep_errors_total",
			Help:      "Auctions the sweeper failed to transition.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		bidsTotal,
		gateWait,
		extensionsTotal,
		transitionsTotal,
		sweepDuration,
		sweepErrors,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBid counts a submission outcome (accepted, validation, conflict, busy, ...)
func RecordBid(outcome string) {
	bidsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGateWait records how long admission waited for the gate
func ObserveGateWait(d time.Duration) {
	gateWait.Observe(d.Seconds())
}

// RecordExtension counts one anti-snipe extension
func RecordExtension() {
	extensionsTotal.Inc()
}

// RecordTransition counts a lifecycle transition into status
func RecordTransition(status string) {
	transitionsTotal.WithLabelValues(status).Inc()
}

// ObserveSweep records one sweeper pass
func ObserveSweep(d time.Duration, failed int) {
	sweepDuration.Observe(d.Seconds())
	if failed > 0 {
		sweepErrors.Add(float64(failed))
	}
}

// Instrument records request counts and latency per chi route pattern
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
