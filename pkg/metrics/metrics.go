// Package metrics defines the Prometheus metrics exposed by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion worker metrics
var (
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_ingest_messages_total",
			Help: "Total number of incoming messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	IngestReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listserv_ingest_reconnects_total",
			Help: "Total number of mailbox reconnect attempts",
		},
	)

	IngestPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listserv_ingest_poll_duration_seconds",
			Help:    "Duration of a single inbox poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Distribution metrics
var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_deliveries_total",
			Help: "Total number of outbound deliveries attempted, by result",
		},
		[]string{"result"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listserv_delivery_duration_seconds",
			Help:    "Duration of a single outbound delivery in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Moderation metrics
var (
	MessagesHeldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listserv_messages_held_total",
			Help: "Total number of messages held for moderation",
		},
	)

	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listserv_redemptions_total",
			Help: "Total number of moderation token redemption attempts, by outcome",
		},
		[]string{"outcome"},
	)
)

// Database connection pool metrics
var (
	DBPoolTotalConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listserv_db_pool_total_conns",
			Help: "Total number of connections in the database pool",
		},
	)

	DBPoolIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listserv_db_pool_idle_conns",
			Help: "Number of idle connections in the database pool",
		},
	)

	DBPoolInUseConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listserv_db_pool_in_use_conns",
			Help: "Number of connections in use in the database pool",
		},
	)
)
