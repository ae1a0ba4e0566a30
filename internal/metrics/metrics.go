package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WarehouseAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusforecast_warehouse_api_calls_total",
			Help: "Total warehouse feed API calls",
		},
		[]string{"endpoint", "status"},
	)

	WarehouseAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusforecast_warehouse_api_latency_seconds",
			Help:    "Warehouse feed API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusforecast_observations_ingested_total",
			Help: "Total sales observations successfully ingested",
		},
		[]string{"source"},
	)

	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusforecast_training_runs_total",
			Help: "Total training pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusforecast_training_duration_seconds",
			Help:    "End-to-end training pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ModelPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusforecast_model_promotions_total",
			Help: "Total model promotion attempts by result",
		},
		[]string{"result"},
	)

	ForecastRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusforecast_forecast_requests_total",
			Help: "Total forecast lookups by outcome",
		},
		[]string{"outcome"},
	)

	ForecastRowsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexusforecast_forecast_rows_scored_total",
			Help: "Total forecast rows produced by scoring",
		},
	)
)
