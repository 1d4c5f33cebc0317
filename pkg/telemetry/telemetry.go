// Package telemetry records request metrics for the RPC dispatch path:
// counts by method/result and latency, plus rate-limit rejections.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes the prometheus collectors the dispatcher updates on
// every request.
type Recorder struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec
	storeStats   *prometheus.GaugeVec
}

// NewRecorder builds and registers the collectors against reg. Passing a
// fresh prometheus.NewRegistry() keeps tests hermetic; internal/app also
// passes its own prometheus.NewRegistry(), which it serves on /metrics.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmstore_requests_total",
			Help: "RPC requests by method and result kind.",
		}, []string{"method", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarmstore_request_duration_seconds",
			Help:    "RPC dispatch latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmstore_rate_limited_total",
			Help: "Requests rejected by the token-bucket limiter, by pool.",
		}, []string{"pool"}),
		storeStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmstore_store_stats",
			Help: "MessageStore get_stats() values.",
		}, []string{"stat"}),
	}
	reg.MustRegister(r.requests, r.duration, r.rateLimited, r.storeStats)
	return r
}

// Observe records the outcome of one dispatched request.
func (r *Recorder) Observe(method, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, result).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RateLimited records a rejection from the named limiter pool.
func (r *Recorder) RateLimited(pool string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(pool).Inc()
}

// SetStoreStats publishes the latest get_stats() snapshot.
func (r *Recorder) SetStoreStats(messageCount, pageCount int64) {
	if r == nil {
		return
	}
	r.storeStats.WithLabelValues("message_count").Set(float64(messageCount))
	r.storeStats.WithLabelValues("page_count").Set(float64(pageCount))
}
