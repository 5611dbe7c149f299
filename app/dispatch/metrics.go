package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages handed to a provider, partitioned by channel and source of the send
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_sent_total",
			Help: "Total messages accepted by a provider",
		},
		[]string{"channel", "source"},
	)

	// Messages that exhausted retries or failed permanently
	messagesFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_failed_total",
			Help: "Total messages that failed to send",
		},
		[]string{"channel", "source"},
	)

	// Messages suppressed before any provider call (opt-out, blocked, no destination)
	messagesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_skipped_total",
			Help: "Total messages skipped without a send attempt",
		},
		[]string{"channel", "source"},
	)

	// Sends postponed because the tenant's window budget was spent
	throttleDeferralsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_throttle_deferrals_total",
			Help: "Total sends deferred by the throttle gate",
		},
	)

	// Campaigns reaching a terminal state, partitioned by outcome
	campaignsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_campaigns_finished_total",
			Help: "Total campaigns reaching a terminal status",
		},
		[]string{"status"},
	)

	// Automations fired into campaigns
	automationsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_automations_fired_total",
			Help: "Total automation executions",
		},
	)

	// Full scheduler tick duration
	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_tick_duration_seconds",
			Help:    "Dispatch scheduler tick latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
