package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exist from package load so callers never see a nil vector;
// Init registers them with the default registry exactly once.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Total number of page fetch attempts.",
		},
		[]string{"status", "error_type"}, // status: success, failure
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of single fetch attempts.",
			Buckets: []float64{0.5, 1, 5, 10, 15, 30, 60, 120},
		},
		[]string{"domain", "renderer"},
	)

	FetchTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_tasks_total",
			Help: "Fetch tasks by terminal status.",
		},
		[]string{"status"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corpus_records_total",
			Help: "Extracted corpus records by outcome.",
		},
		[]string{"outcome"}, // inserted, duplicate
	)

	ExtractErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extract_errors_total",
			Help: "Extraction errors by kind.",
		},
		[]string{"kind"},
	)

	CheckpointWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_operations_total",
			Help: "Checkpoint saves and loads by result.",
		},
		[]string{"op", "result"},
	)

	TrainEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainer_epoch",
		Help: "Last completed training epoch.",
	})

	TrainLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainer_train_loss",
		Help: "Mean training loss of the last epoch.",
	})

	ValScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trainer_val_score",
		Help: "Validation accuracy of the last epoch.",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default Prometheus registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			FetchAttemptsTotal,
			FetchDuration,
			FetchTasksTotal,
			RecordsTotal,
			ExtractErrorsTotal,
			CheckpointWritesTotal,
			TrainEpoch,
			TrainLoss,
			ValScore,
		)
	})
}
