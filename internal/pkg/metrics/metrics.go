// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitroom_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitroom_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"method", "route"})

	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitroom_ledger_mutations_total",
		Help: "Ledger mutations by entry kind and outcome (applied, duplicate, rejected)",
	}, []string{"kind", "outcome"})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitroom_generations_total",
		Help: "Try-on generation requests by terminal state",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitroom_inference_duration_seconds",
		Help:    "Latency of try-on provider calls",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitroom_billing_reconciliations_total",
		Help: "Billing reconciliations by outcome",
	}, []string{"outcome"})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitroom_realtime_connections",
		Help: "Open balance websocket connections on this instance",
	})
)
