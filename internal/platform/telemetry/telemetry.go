// Package telemetry records request metrics for the desk API and the calls
// it makes to the billing API, and serves them in the Prometheus text
// exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only the +Inf bucket counts it.
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled histogram store, keyed by (method, route, status)
// ---------------------------------------------------------------------------

type labeledHistogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func newLabeledHistogramStore() *labeledHistogramStore {
	return &labeledHistogramStore{items: make(map[string]*histogram)}
}

func (s *labeledHistogramStore) getOrCreate(key string, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok = s.items[key]
	if !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	return h
}

func (s *labeledHistogramStore) get(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

// sortedKeys keeps the exposition output stable.
func (s *labeledHistogramStore) sortedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LabelsKey builds the map key for a labeled histogram.
func LabelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// DurationBuckets are the histogram boundaries, in seconds, for request
// durations.
var DurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Provider holds the metric state of one process.
type Provider struct {
	server *labeledHistogramStore
	api    *labeledHistogramStore
	active int64
	// transport failures reaching the billing API, by route
	apiFailures sync.Map
}

func NewProvider() *Provider {
	return &Provider{
		server: newLabeledHistogramStore(),
		api:    newLabeledHistogramStore(),
	}
}

// ServerHistogram returns the desk API histogram for the labels, or nil.
func (p *Provider) ServerHistogram(method, route, status string) *histogram {
	return p.server.get(LabelsKey(method, route, status))
}

// APIHistogram returns the billing API histogram for the labels, or nil.
func (p *Provider) APIHistogram(method, route, status string) *histogram {
	return p.api.get(LabelsKey(method, route, status))
}

// ActiveRequests is the number of desk API requests in progress.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

// APIFailures is the number of billing API calls on route that never got an
// answer.
func (p *Provider) APIFailures(method, route string) int64 {
	v, ok := p.apiFailures.Load(method + "|" + route)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// ObserveAPICall records one billing API call. A status of 0 means the call
// failed before a response arrived.
func (p *Provider) ObserveAPICall(method, route string, status int, d time.Duration) {
	if status == 0 {
		v, _ := p.apiFailures.LoadOrStore(method+"|"+route, new(int64))
		atomic.AddInt64(v.(*int64), 1)
		return
	}
	key := LabelsKey(method, route, strconv.Itoa(status))
	p.api.getOrCreate(key, DurationBuckets).Observe(d.Seconds())
}

// MetricsMiddleware records the duration of every desk API request by
// method, route pattern and status.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(status))
			p.server.getOrCreate(key, DurationBuckets).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the metrics at /metrics.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistogramMetric(&b, "http_server_request_duration_seconds",
			"Duration of desk API requests in seconds.", p.server)

		b.WriteString("# HELP http_server_active_requests Number of active desk API requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		writeHistogramMetric(&b, "billing_api_request_duration_seconds",
			"Duration of billing API calls in seconds.", p.api)

		b.WriteString("# HELP billing_api_failures_total Billing API calls that got no response.\n")
		b.WriteString("# TYPE billing_api_failures_total counter\n")
		var failures []string
		p.apiFailures.Range(func(k, _ interface{}) bool {
			failures = append(failures, k.(string))
			return true
		})
		sort.Strings(failures)
		for _, k := range failures {
			parts := strings.SplitN(k, "|", 2)
			fmt.Fprintf(&b, "billing_api_failures_total{method=%q,route=%q} %d\n",
				parts[0], parts[1], p.APIFailures(parts[0], parts[1]))
		}

		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHistogramMetric(b *strings.Builder, name, help string, store *labeledHistogramStore) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, key := range store.sortedKeys() {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeSingleHistogram(b, name, labels, store.get(key))
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
