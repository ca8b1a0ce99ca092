package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IBGEAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_ibge_api_calls_total",
			Help: "Total IBGE API calls",
		},
		[]string{"endpoint", "status"},
	)

	IBGEAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cityscope_ibge_api_latency_seconds",
			Help:    "IBGE API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ETLRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_etl_records_total",
			Help: "ETL records processed by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	ETLStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cityscope_etl_stage_duration_seconds",
			Help:    "ETL stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_http_requests_total",
			Help: "HTTP requests served by route and status code",
		},
		[]string{"route", "code"},
	)
)
