package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TradesSettled counts committed settlements by side (buy/sell)
var TradesSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stratledger_trades_settled_total",
		Help: "Total number of trades settled by the engine",
	},
	[]string{"side"},
)

// TradesRejected counts rejected trade intents by rejection kind
var TradesRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stratledger_trades_rejected_total",
		Help: "Total number of trade intents rejected by the engine",
	},
	[]string{"reason"},
)

// SettlementLatency records latency distribution for settlements
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "stratledger_settlement_latency_seconds",
		Help:    "Latency in seconds to settle individual trades",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(TradesSettled, TradesRejected, SettlementLatency)
}
