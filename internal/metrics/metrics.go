// Package metrics holds the prometheus collectors updated by the engine.
//
// Exposed series:
//   - autotrader_provider_attempts_total{provider,outcome}
//   - autotrader_provider_fallbacks_total{from,to}
//   - autotrader_provider_quota_usage{provider}
//   - autotrader_decisions_total{outcome}
//   - autotrader_trades_total{action,status}
//   - autotrader_orders_triggered_total{type}
//   - autotrader_bot_state{state}
//   - autotrader_queue_pending
//   - autotrader_scan_duration_seconds
//
// Collectors are registered in init() and served by the host at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_provider_attempts_total",
			Help: "Provider dispatch attempts by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: success|error|quota
	)

	providerFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_provider_fallbacks_total",
			Help: "Provider switches performed by the dispatcher",
		},
		[]string{"from", "to"},
	)

	providerQuota = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrader_provider_quota_usage",
			Help: "Requests consumed in the current quota window",
		},
		[]string{"provider"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_decisions_total",
			Help: "Decisions recorded by outcome",
		},
		[]string{"outcome"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_trades_total",
			Help: "Queued trades reaching a terminal status",
		},
		[]string{"action", "status"},
	)

	ordersTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_orders_triggered_total",
			Help: "Protective orders triggered by type",
		},
		[]string{"type"},
	)

	// One labeled series per state flipped between 0 and 1.
	botState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrader_bot_state",
			Help: "Bot state indicator",
		},
		[]string{"state"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autotrader_queue_pending",
			Help: "Trades waiting in the execution queue",
		},
	)

	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autotrader_scan_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

var botStates = []string{"STOPPED", "RUNNING", "PAUSED", "ERROR"}

func init() {
	prometheus.MustRegister(providerAttempts, providerFallbacks, providerQuota)
	prometheus.MustRegister(decisions, trades, ordersTriggered)
	prometheus.MustRegister(botState, queuePending, scanDuration)
}

func ProviderAttempt(provider, outcome string) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
}

func ProviderFallback(from, to string) {
	providerFallbacks.WithLabelValues(from, to).Inc()
}

func QuotaUsage(provider string, used int) {
	providerQuota.WithLabelValues(provider).Set(float64(used))
}

func Decision(outcome string) {
	decisions.WithLabelValues(outcome).Inc()
}

func TradeFinished(action, status string) {
	trades.WithLabelValues(action, status).Inc()
}

func OrderTriggered(kind string) {
	ordersTriggered.WithLabelValues(kind).Inc()
}

// BotState marks state as the active one.
func BotState(state string) {
	for _, s := range botStates {
		v := 0.0
		if s == state {
			v = 1
		}
		botState.WithLabelValues(s).Set(v)
	}
}

func QueuePending(n int) {
	queuePending.Set(float64(n))
}

func ObserveScan(seconds float64) {
	scanDuration.Observe(seconds)
}
