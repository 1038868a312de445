package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Spend outcomes used as the result label.
const (
	SpendResultOK           = "ok"
	SpendResultInsufficient = "insufficient"
	SpendResultDuplicate    = "duplicate"
	SpendResultError        = "error"
)

// LedgerMetrics holds the Prometheus collectors for ledger activity. A nil
// *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	Registry *prometheus.Registry

	spends         *prometheus.CounterVec
	creditsSpent   *prometheus.CounterVec
	creditsGranted *prometheus.CounterVec
	realCost       *prometheus.CounterVec
	trackOnly      *prometheus.CounterVec
	spendDuration  prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
}

func NewLedgerMetrics() *LedgerMetrics {
	m := &LedgerMetrics{
		Registry: prometheus.NewRegistry(),
		spends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_credit_spends_total",
			Help: "SpendCredits calls by transaction type and outcome.",
		}, []string{"type", "result"}),
		creditsSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_credits_spent_total",
			Help: "Credits debited by transaction type.",
		}, []string{"type"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_credits_granted_total",
			Help: "Credits added by transaction type.",
		}, []string{"type"}),
		realCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_real_cost_usd_total",
			Help: "Provider cost in USD recorded on the ledger.",
		}, []string{"type", "provider"}),
		trackOnly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_track_only_total",
			Help: "Zero-credit rows recorded for real cost only.",
		}, []string{"type"}),
		spendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aistory_spend_duration_seconds",
			Help:    "Latency of the atomic spend unit.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aistory_cost_cache_lookups_total",
			Help: "Cost summary cache lookups by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.spends,
		m.creditsSpent,
		m.creditsGranted,
		m.realCost,
		m.trackOnly,
		m.spendDuration,
		m.cacheLookups,
	)
	return m
}

// RegisterRuntimeGauges exposes database pool, SSE and queue state.
func (m *LedgerMetrics) RegisterRuntimeGauges(db *gorm.DB, hub *SSEHub, queue func() TaskQueue) {
	if m == nil {
		return
	}
	start := time.Now()

	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aistory_uptime_seconds",
			Help: "Time since server start in seconds.",
		}, func() float64 { return time.Since(start).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aistory_sse_active_clients",
			Help: "Number of active ledger SSE connections.",
		}, func() float64 { return float64(hub.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aistory_queue_async_enabled",
			Help: "Whether the asynq task queue is in use (1=yes, 0=no).",
		}, func() float64 {
			if q := queue(); q != nil && q.IsAsync() {
				return 1
			}
			return 0
		}),
	)

	if sqlDB, err := db.DB(); err == nil {
		m.Registry.MustRegister(collectors.NewDBStatsCollector(sqlDB, "aistory"))
	}
}

func (m *LedgerMetrics) ObserveSpend(txType, result string, amount int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.spends.WithLabelValues(txType, result).Inc()
	m.spendDuration.Observe(elapsed.Seconds())
	if result == SpendResultOK && amount > 0 {
		m.creditsSpent.WithLabelValues(txType).Add(float64(amount))
	}
}

func (m *LedgerMetrics) ObserveGrant(txType string, amount int64) {
	if m == nil {
		return
	}
	m.creditsGranted.WithLabelValues(txType).Add(float64(amount))
}

func (m *LedgerMetrics) ObserveRealCost(txType string, provider *string, cost decimal.NullDecimal) {
	if m == nil || !cost.Valid {
		return
	}
	m.realCost.WithLabelValues(txType, providerLabel(provider)).Add(cost.Decimal.InexactFloat64())
}

func (m *LedgerMetrics) ObserveTrack(txType string) {
	if m == nil {
		return
	}
	m.trackOnly.WithLabelValues(txType).Inc()
}

func (m *LedgerMetrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func providerLabel(provider *string) string {
	if provider == nil || *provider == "" {
		return UnknownProvider
	}
	return *provider
}
