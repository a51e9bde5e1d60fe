// Package metrics provides Prometheus metrics for the index filesystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Filesystem operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitindexfs_operations_total",
			Help: "Total number of filesystem operations by result",
		},
		[]string{"op", "status"},
	)

	// Object store metrics
	objectFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitindexfs_object_fetches_total",
			Help: "Total number of object fetches from the repository",
		},
		[]string{"status"},
	)

	objectFetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitindexfs_object_fetch_bytes_total",
			Help: "Total bytes loaded from the repository",
		},
	)

	// Content cache metrics
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitindexfs_cache_hits_total",
			Help: "Opens served from already cached content",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitindexfs_cache_misses_total",
			Help: "Opens that required an object fetch",
		},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitindexfs_open_handles",
			Help: "Number of currently open file handles",
		},
	)

	cachedObjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitindexfs_cached_objects",
			Help: "Number of objects held in the content cache",
		},
	)

	cachedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitindexfs_cached_bytes",
			Help: "Bytes held in the content cache",
		},
	)

	// Tree metrics
	treeNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gitindexfs_tree_nodes",
			Help: "Number of nodes in the mounted tree",
		},
		[]string{"kind"},
	)
)

// RecordOperation records the outcome of a filesystem operation.
func RecordOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(op, status).Inc()
}

// RecordFetch records an object fetch.
func RecordFetch(bytes int, err error) {
	if err != nil {
		objectFetchesTotal.WithLabelValues("error").Inc()
		return
	}
	objectFetchesTotal.WithLabelValues("ok").Inc()
	objectFetchBytes.Add(float64(bytes))
}

// RecordCacheHit records an open served from the cache.
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records an open that had to load content.
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// SetOpenHandles sets the open handle gauge.
func SetOpenHandles(n int) {
	openHandles.Set(float64(n))
}

// SetCacheSize sets the cache gauges.
func SetCacheSize(objects int, bytes int64) {
	cachedObjects.Set(float64(objects))
	cachedBytes.Set(float64(bytes))
}

// SetTreeSize sets the tree node gauges.
func SetTreeSize(dirs, files int) {
	treeNodes.WithLabelValues("dir").Set(float64(dirs))
	treeNodes.WithLabelValues("file").Set(float64(files))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
