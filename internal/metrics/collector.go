package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sample is one recorded request.
type Sample struct {
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Status     int           `json:"status"`
	DurationMS float64       `json:"duration_ms"`
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"-"`
}

// Collector gathers request metrics. It is explicitly constructed and
// injected rather than process-global: each instance owns its prometheus
// registry and a bounded ring buffer of recent samples, so tests and
// services never share hidden state.
type Collector struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewCollector(bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupbuy_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groupbuy_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, latency)

	return &Collector{
		samples:  make([]Sample, bufferSize),
		registry: registry,
		requests: requests,
		latency:  latency,
	}
}

// Record stores one sample, overwriting the oldest once the buffer fills.
func (c *Collector) Record(sample Sample) {
	sample.DurationMS = float64(sample.Duration) / float64(time.Millisecond)

	c.requests.WithLabelValues(sample.Method, sample.Path, strconv.Itoa(sample.Status)).Inc()
	c.latency.WithLabelValues(sample.Path).Observe(sample.Duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[c.next] = sample
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.full = true
	}
}

// Recent returns the buffered samples, oldest first.
func (c *Collector) Recent() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.full {
		out := make([]Sample, c.next)
		copy(out, c.samples[:c.next])
		return out
	}
	out := make([]Sample, 0, len(c.samples))
	out = append(out, c.samples[c.next:]...)
	out = append(out, c.samples[:c.next]...)
	return out
}

// Len reports how many samples are buffered.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return len(c.samples)
	}
	return c.next
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware records every request routed through it.
func (c *Collector) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			c.Record(Sample{
				Method:   r.Method,
				Path:     route,
				Status:   recorder.status,
				Duration: time.Since(start),
				At:       start,
			})
		})
	}
}

// PrometheusHandler exposes this collector's registry.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecentHandler serves the ring buffer as JSON for quick inspection.
func (c *Collector) RecentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Recent())
	})
}
