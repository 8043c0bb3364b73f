package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funds_ledger_postings_total",
		Help: "Ledger transactions committed, by direction",
	}, []string{"type"})

	WebhookCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funds_webhook_callbacks_total",
		Help: "Gateway callbacks processed, by mapped internal status",
	}, []string{"status"})

	WebhookCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funds_webhook_credits_total",
		Help: "Wallet credit attempts triggered by gateway callbacks, by outcome",
	}, []string{"outcome"})

	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funds_money_request_transitions_total",
		Help: "Money request lifecycle transitions, by target status",
	}, []string{"status"})

	CacheMirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funds_cache_mirror_failures_total",
		Help: "Balance mirror writes that failed and were skipped",
	})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funds_event_publish_failures_total",
		Help: "Post-commit events that could not be published",
	})

	GatewayCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "funds_gateway_call_duration_seconds",
		Help:    "Outbound settlement provider call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})
)

// Outcome labels shared by counters with an outcome dimension.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
