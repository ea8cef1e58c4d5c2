// Package metrics counts backend round-trips and open chat sessions and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint names used as the endpoint label.
const (
	EndpointUpload = "upload"
	EndpointAsk    = "ask"
)

// Uploads can take minutes on large PDFs.
var latencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Collector is the process-wide registry served by the Telegram gateway.
var Collector = NewCollector()

// ActiveSessions counts sessions held by session managers.
var ActiveSessions = Collector.Sessions()

// Counter is a monotonically increasing counter.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the latency distribution with cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // counts[i] = observations <= bounds[i]
	count  int64
	sum    float64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]int64, len(b))}
}

// Observe records one value in seconds.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// endpointStats holds the series for one backend endpoint.
type endpointStats struct {
	requests Counter
	failures Counter
	latency  *Histogram
}

// Registry holds the papernav series: per-endpoint request, failure and
// latency series plus the active session gauge.
type Registry struct {
	start     time.Time
	sessions  Gauge
	endpoints map[string]*endpointStats
}

// NewCollector returns a registry with the upload and ask endpoints.
func NewCollector() *Registry {
	r := &Registry{start: time.Now(), endpoints: make(map[string]*endpointStats)}
	for _, name := range []string{EndpointUpload, EndpointAsk} {
		r.endpoints[name] = &endpointStats{latency: newHistogram(latencyBuckets)}
	}
	return r
}

func (r *Registry) Sessions() *Gauge { return &r.sessions }

func (r *Registry) stats(endpoint string) *endpointStats {
	s, ok := r.endpoints[endpoint]
	if !ok {
		panic(fmt.Sprintf("metrics: unknown endpoint %q", endpoint))
	}
	return s
}

// Observe records one finished call to endpoint.
func (r *Registry) Observe(endpoint string, elapsed time.Duration, err error) {
	s := r.stats(endpoint)
	s.requests.Inc()
	s.latency.Observe(elapsed.Seconds())
	if err != nil {
		s.failures.Inc()
	}
}

// Handler renders the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.write(w)
	}
}

func (r *Registry) write(w io.Writer) {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	header(w, "papernav_uptime_seconds", "gauge", "Time since start in seconds")
	fmt.Fprintf(w, "papernav_uptime_seconds %d\n", int64(time.Since(r.start).Seconds()))

	header(w, "papernav_active_sessions", "gauge", "Chat sessions currently open")
	fmt.Fprintf(w, "papernav_active_sessions %d\n", r.sessions.Value())

	header(w, "papernav_backend_requests_total", "counter", "Total requests sent to the document backend")
	for _, name := range names {
		fmt.Fprintf(w, "papernav_backend_requests_total{endpoint=%q} %d\n", name, r.endpoints[name].requests.Value())
	}

	header(w, "papernav_backend_failures_total", "counter", "Backend requests that failed or returned non-2xx")
	for _, name := range names {
		fmt.Fprintf(w, "papernav_backend_failures_total{endpoint=%q} %d\n", name, r.endpoints[name].failures.Value())
	}

	header(w, "papernav_backend_latency_seconds", "histogram", "Backend round-trip latency in seconds")
	for _, name := range names {
		h := r.endpoints[name].latency
		h.mu.Lock()
		for i, le := range h.bounds {
			fmt.Fprintf(w, "papernav_backend_latency_seconds_bucket{endpoint=%q,le=\"%g\"} %d\n", name, le, h.counts[i])
		}
		fmt.Fprintf(w, "papernav_backend_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", name, h.count)
		fmt.Fprintf(w, "papernav_backend_latency_seconds_sum{endpoint=%q} %f\n", name, h.sum)
		fmt.Fprintf(w, "papernav_backend_latency_seconds_count{endpoint=%q} %d\n", name, h.count)
		h.mu.Unlock()
	}
}

func header(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// Requests returns the request counter for a backend endpoint.
func Requests(endpoint string) *Counter { return &Collector.stats(endpoint).requests }

// Failures returns the failure counter for a backend endpoint.
func Failures(endpoint string) *Counter { return &Collector.stats(endpoint).failures }

// ObserveRequest records one finished backend call.
func ObserveRequest(endpoint string, elapsed time.Duration, err error) {
	Collector.Observe(endpoint, elapsed, err)
}
