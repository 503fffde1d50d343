// Package metrics exposes Prometheus telemetry for sync runs, agent
// requests, tool invocations and the in-process caches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semsync/cache"
	"github.com/c360studio/semsync/connector"
)

// Metrics bundles the collectors for one process. Construct once and
// share; all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns  *prometheus.CounterVec
	syncItems *prometheus.CounterVec

	tokenRefreshes *prometheus.CounterVec

	agentIterations prometheus.Histogram
	toolInvocations *prometheus.CounterVec
}

// New creates the process metrics, registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semsync_sync_runs_total",
			Help: "Completed sync runs by connector and outcome.",
		}, []string{"connector", "status"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semsync_sync_items_total",
			Help: "Items handled by sync runs, by connector and result.",
		}, []string{"connector", "result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semsync_token_refreshes_total",
			Help: "Credential refresh attempts by service and result.",
		}, []string{"service", "result"}),
		agentIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "semsync_agent_iterations",
			Help:    "Agent loop iterations per request.",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 15},
		}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semsync_tool_invocations_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	m.registry.MustRegister(m.syncRuns, m.syncItems, m.tokenRefreshes, m.agentIterations, m.toolInvocations)
	return m
}

// ObserveCaches registers a collector that snapshots cache stats on
// every scrape.
func (m *Metrics) ObserveCaches(caches *cache.Manager) {
	m.registry.MustRegister(&cacheCollector{caches: caches})
}

// ObserveReport records one finished sync run.
func (m *Metrics) ObserveReport(report *connector.Report) {
	if report == nil {
		return
	}
	m.syncRuns.WithLabelValues(report.Connector, report.Status).Inc()
	m.syncItems.WithLabelValues(report.Connector, "processed").Add(float64(report.Processed))
	m.syncItems.WithLabelValues(report.Connector, "failed").Add(float64(report.Failed))
	m.syncItems.WithLabelValues(report.Connector, "purged").Add(float64(report.Purged))
}

// ObserveTokenRefresh records one credential refresh attempt.
func (m *Metrics) ObserveTokenRefresh(service string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshes.WithLabelValues(service, result).Inc()
}

// ObserveAgentRun records the iteration count of one agent request.
func (m *Metrics) ObserveAgentRun(iterations int) {
	m.agentIterations.Observe(float64(iterations))
}

// ObserveToolInvocation records one tool call outcome.
func (m *Metrics) ObserveToolInvocation(tool string, failed, cached bool) {
	outcome := "ok"
	switch {
	case failed:
		outcome = "failed"
	case cached:
		outcome = "cached"
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// cacheCollector snapshots cache.Manager stats at scrape time.
type cacheCollector struct {
	caches *cache.Manager
}

var (
	cacheSizeDesc = prometheus.NewDesc("semsync_cache_entries",
		"Current entries per cache.", []string{"cache"}, nil)
	cacheHitsDesc = prometheus.NewDesc("semsync_cache_hits_total",
		"Cache hits per cache.", []string{"cache"}, nil)
	cacheMissesDesc = prometheus.NewDesc("semsync_cache_misses_total",
		"Cache misses per cache.", []string{"cache"}, nil)
	cacheEvictionsDesc = prometheus.NewDesc("semsync_cache_evictions_total",
		"Cache evictions per cache.", []string{"cache"}, nil)
)

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheSizeDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheEvictionsDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	for name, stats := range c.caches.Stats() {
		ch <- prometheus.MustNewConstMetric(cacheSizeDesc, prometheus.GaugeValue, float64(stats.Size), name)
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(stats.Hits), name)
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(stats.Misses), name)
		ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(stats.Evictions), name)
	}
}
