package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatres_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatres_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatres_tx_retries_total",
			Help: "Transactions retried after a transient storage failure",
		},
		[]string{"operation"},
	)

	HoldsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatres_holds_created_total",
			Help: "Holds created",
		},
	)

	HoldConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatres_hold_conflicts_total",
			Help: "Hold attempts rejected because a seat was not available",
		},
	)

	HoldsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatres_holds_closed_total",
			Help: "Holds that reached a terminal status",
		},
		[]string{"status"},
	)

	BookingsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatres_bookings_confirmed_total",
			Help: "Bookings created",
		},
	)

	Cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatres_cancellations_total",
			Help: "Cancellation attempts by result",
		},
		[]string{"result"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatres_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatres_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatres_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
