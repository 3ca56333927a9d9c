package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline metrics.
var (
	IngestionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_jobs_total",
			Help:      "Ingestion attempts by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: sync / async / url; outcome: processed / empty / failed
	)

	IngestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "End-to-end ingestion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	ChunksCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_committed_total",
			Help:      "Chunks committed to the in-memory store",
		},
	)

	StoreChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_chunks",
			Help:      "Chunks currently held by the in-memory store",
		},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by outcome",
		},
		[]string{"mode", "outcome"}, // outcome: answered / refused / degraded / failed
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		},
	)

	IngestionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_queue_depth",
			Help:      "Jobs waiting in the ingestion queue",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestionJobsTotal)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(ChunksCommittedTotal)
	prometheus.MustRegister(StoreChunks)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(RetrievalResults)
	prometheus.MustRegister(IngestionQueueDepth)
	pipelineMetricsRegistered = true
}
