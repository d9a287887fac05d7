// Package metrics exposes Prometheus collectors for ingestion jobs and
// search queries. It keeps its own registry so tests and embedders of the
// package don't collide on the global one.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/paperrag/internal/jobs"
)

const namespace = "paperrag"

// Collector records job transitions and query timings
type Collector struct {
	registry *prometheus.Registry

	jobsByStatus  *prometheus.GaugeVec
	jobsFinished  *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	mu       sync.Mutex
	statuses map[string]jobs.Status
}

// New creates a Collector with a fresh registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Tracked ingestion jobs by status.",
		}, []string{"status"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Ingestion jobs that reached a terminal status.",
		}, []string{"status"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Search queries by mode and outcome.",
		}, []string{"mode", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Search latency by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"mode"}),
		statuses: make(map[string]jobs.Status),
	}
	c.registry.MustRegister(c.jobsByStatus, c.jobsFinished, c.queries, c.queryDuration)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobChanged implements jobs.Observer
func (c *Collector) JobChanged(job jobs.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.statuses[job.PaperID]
	if seen && prev == job.Status {
		return
	}
	if seen {
		c.jobsByStatus.WithLabelValues(string(prev)).Dec()
	}
	c.jobsByStatus.WithLabelValues(string(job.Status)).Inc()
	c.statuses[job.PaperID] = job.Status

	if job.Status.Terminal() {
		c.jobsFinished.WithLabelValues(string(job.Status)).Inc()
	}
}

// JobRemoved implements jobs.Observer
func (c *Collector) JobRemoved(paperID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.statuses[paperID]; ok {
		c.jobsByStatus.WithLabelValues(string(prev)).Dec()
		delete(c.statuses, paperID)
	}
}

// QueryCompleted implements searcher.Observer
func (c *Collector) QueryCompleted(mode string, duration time.Duration, results int, cacheHit bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case cacheHit:
		outcome = "cache_hit"
	case results == 0:
		outcome = "empty"
	}
	c.queries.WithLabelValues(mode, outcome).Inc()
	c.queryDuration.WithLabelValues(mode).Observe(duration.Seconds())
}
