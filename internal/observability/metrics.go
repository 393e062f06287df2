package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	TxProcessed        *prometheus.CounterVec
	TxRejected         *prometheus.CounterVec
	TxDuration         *prometheus.HistogramVec
	TradesExecuted     *prometheus.CounterVec
	VolumeTraded       *prometheus.CounterVec
	OrdersResting      *prometheus.GaugeVec
	Liquidations       *prometheus.CounterVec
	ADLTriggered       prometheus.Counter
	InsuranceBalance   *prometheus.GaugeVec
	FundingRateBps     *prometheus.GaugeVec
	RecoveryRestored   *prometheus.CounterVec
	RecoveryDropped    *prometheus.CounterVec
	CommittedVersion   prometheus.Gauge
}

// NewMetrics registers all collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TxProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "tx_processed_total",
			Help:      "Transactions applied and committed, by kind.",
		}, []string{"kind"}),
		TxRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "tx_rejected_total",
			Help:      "Transactions rejected with no state effect, by kind.",
		}, []string{"kind"}),
		TxDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perpcore",
			Name:      "tx_duration_seconds",
			Help:      "Transaction apply latency, by kind.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 4, 10),
		}, []string{"kind"}),
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "trades_executed_total",
			Help:      "Maker fills executed, by market.",
		}, []string{"market"}),
		VolumeTraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "volume_traded_base_units",
			Help:      "Base units traded, by market.",
		}, []string{"market"}),
		OrdersResting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpcore",
			Name:      "orders_resting",
			Help:      "Orders currently resting on the book, by market.",
		}, []string{"market"}),
		Liquidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "liquidations_total",
			Help:      "Liquidations settled, by market and outcome.",
		}, []string{"market", "outcome"}),
		ADLTriggered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "adl_triggered_total",
			Help:      "Liquidations that escalated to auto-deleveraging.",
		}),
		InsuranceBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpcore",
			Name:      "insurance_fund_balance",
			Help:      "Insurance fund balance, by asset.",
		}, []string{"asset"}),
		FundingRateBps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpcore",
			Name:      "funding_rate_bps",
			Help:      "Last applied funding rate in basis points, by market.",
		}, []string{"market"}),
		RecoveryRestored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "recovery_orders_restored_total",
			Help:      "Orders restored to the book during recovery, by market.",
		}, []string{"market"}),
		RecoveryDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpcore",
			Name:      "recovery_orders_dropped_total",
			Help:      "Inconsistent index entries dropped during recovery, by market.",
		}, []string{"market"}),
		CommittedVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "perpcore",
			Name:      "committed_version",
			Help:      "Last committed store version.",
		}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry, for tests.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
