// Package metrics provides Prometheus metrics for the podcast importer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "podcasts"

var (
	// ImportsTotal counts finished import runs by terminal state.
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Total number of finished import runs",
		},
		[]string{"status"},
	)

	// CatalogRequestsTotal counts catalog calls by operation and outcome.
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Total number of requests sent to the podcast catalog",
		},
		[]string{"operation", "status"},
	)

	// PollRounds observes how many poll rounds an import needed.
	PollRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_rounds",
			Help:      "Distribution of poll rounds per import run",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
	)

	// SubscriptionsTotal counts processed subscribe requests.
	SubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Total number of processed subscribe requests",
		},
		[]string{"status"},
	)

	// RefreshedPodcastsTotal counts podcasts updated by the refresh pipeline.
	RefreshedPodcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshed_podcasts_total",
			Help:      "Total number of podcasts updated by refresh",
		},
	)

	// DispatchChunks observes the number of chunks per dispatched batch.
	DispatchChunks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_chunks",
			Help:      "Distribution of chunk counts per batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"operation"},
	)
)

// RecordImport records a finished import run.
func RecordImport(status string, pollRounds int) {
	ImportsTotal.WithLabelValues(status).Inc()
	PollRounds.Observe(float64(pollRounds))
}

// RecordCatalogRequest records one catalog call.
func RecordCatalogRequest(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CatalogRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordSubscription records one processed subscribe request.
func RecordSubscription(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SubscriptionsTotal.WithLabelValues(status).Inc()
}

// RecordDispatch records a batch split into chunks.
func RecordDispatch(operation string, items, chunkSize int) {
	if items == 0 || chunkSize <= 0 {
		return
	}
	DispatchChunks.WithLabelValues(operation).Observe(float64((items + chunkSize - 1) / chunkSize))
}
