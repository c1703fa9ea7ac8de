package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SectorStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sector_status_transitions_total",
			Help: "Sector count status changes",
		},
		[]string{"from", "to"},
	)

	CountSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "count_submissions_total",
			Help: "Accepted count submissions by counting mode",
		},
		[]string{"mode"},
	)

	RecountRoundsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recount_rounds_opened_total",
			Help: "Recount rounds opened after a finalize found differences",
		},
	)

	SectorSelfHeals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sector_self_heal_total",
			Help: "Sectors completed automatically because a recount resolved every difference",
		},
	)
)

// ObserveTransition records a status change; no-op when the status did not change
func ObserveTransition(from, to string) {
	if from == to {
		return
	}
	SectorStatusTransitions.WithLabelValues(from, to).Inc()
}
