package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markethold_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_reservations_created_total",
			Help: "Reservations successfully created",
		},
	)

	ReservationsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_reservations_cancelled_total",
			Help: "Reservations cancelled with refund",
		},
	)

	ReservationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_reservations_expired_total",
			Help: "Reservations expired and refunded by the sweeper",
		},
	)

	Compensations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_compensations_total",
			Help: "Compensating credits applied after a lost insert race",
		},
	)

	CompensationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_compensation_failures_total",
			Help: "Refund or compensating credit attempts that failed",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "markethold_db_tx_seconds",
			Help:    "Duration of bulk-reserve DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markethold_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markethold_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
