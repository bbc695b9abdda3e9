// Package metrics exposes sync pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"catalog_syncer/internal/domain"
)

// Collector records pipeline events. It satisfies service.Recorder.
type Collector struct {
	pagesFetched    *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	videos          *prometheus.CounterVec
	videoErrors     *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	deactivated     prometheus.Counter
	viewRefresh     *prometheus.CounterVec
	cacheInvalidate prometheus.Counter
}

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_pages_fetched_total",
			Help: "Pages fetched from the catalog API.",
		}, []string{"worker"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_fetch_failures_total",
			Help: "Page fetches that failed after retries.",
		}, []string{"worker"}),
		videos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_videos_total",
			Help: "Videos applied to the store by outcome.",
		}, []string{"worker", "outcome"}),
		videoErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_video_errors_total",
			Help: "Videos that could not be persisted.",
		}, []string{"worker"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_fetch_latency_seconds",
			Help:    "Latency of successful page fetches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		deactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_videos_deactivated_total",
			Help: "Videos deactivated by the deletion feed.",
		}),
		viewRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_view_refresh_total",
			Help: "Materialized view refreshes by result.",
		}, []string{"result"}),
		cacheInvalidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_cache_invalidations_total",
			Help: "Cache keys removed after catalog writes.",
		}),
	}

	reg.MustRegister(
		c.pagesFetched,
		c.fetchFailures,
		c.videos,
		c.videoErrors,
		c.fetchLatency,
		c.deactivated,
		c.viewRefresh,
		c.cacheInvalidate,
	)

	return c
}

func (c *Collector) PageFetched(worker string, took time.Duration) {
	c.pagesFetched.WithLabelValues(worker).Inc()
	c.fetchLatency.WithLabelValues(worker).Observe(took.Seconds())
}

func (c *Collector) FetchFailed(worker string) {
	c.fetchFailures.WithLabelValues(worker).Inc()
}

func (c *Collector) PageApplied(worker string, stats domain.PageStats) {
	c.videos.WithLabelValues(worker, domain.OutcomeInserted.String()).Add(float64(stats.New))
	c.videos.WithLabelValues(worker, domain.OutcomeUpdated.String()).Add(float64(stats.Updated))
	c.videos.WithLabelValues(worker, domain.OutcomeSkipped.String()).Add(float64(stats.Skipped))
	if stats.Errors > 0 {
		c.videoErrors.WithLabelValues(worker).Add(float64(stats.Errors))
	}
}

func (c *Collector) Deactivated(n int) {
	c.deactivated.Add(float64(n))
}

func (c *Collector) ViewRefreshed(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.viewRefresh.WithLabelValues(result).Inc()
}

func (c *Collector) CacheInvalidated(keys int) {
	c.cacheInvalidate.Add(float64(keys))
}
