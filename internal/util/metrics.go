package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of payment orders created",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders moved to SUCCESS",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders moved to FAILED",
	}, []string{"trade_status"})

	WebhookNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_notifications_total",
		Help: "Total number of webhook deliveries by outcome",
	}, []string{"outcome"})

	WebhookDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicates_total",
		Help: "Total number of webhook deliveries already seen per the redis marker",
	})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook notification processing",
		Buckets: prometheus.DefBuckets,
	})

	CreditsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_credits_applied_total",
		Help: "Total number of paid-balance credits applied",
	})

	UsageConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_usage_consumed_total",
		Help: "Total number of committed usage consumptions",
	})

	InsufficientBalanceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_insufficient_balance_total",
		Help: "Total number of consumptions rejected for insufficient balance",
	})

	BalanceCASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_cas_conflicts_total",
		Help: "Total number of optimistic-lock conflicts on balance updates",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
