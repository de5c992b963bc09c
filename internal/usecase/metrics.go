package usecase

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martingale_orders_total",
			Help: "Ladder orders submitted, by strategy, level and result.",
		},
		[]string{"strategy", "level", "result"},
	)

	mtxLadderLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "martingale_ladder_level",
			Help: "Current ladder level per account and symbol (0 when idle).",
		},
		[]string{"account", "symbol"},
	)

	mtxCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martingale_closes_total",
			Help: "Position close attempts by result.",
		},
		[]string{"result"},
	)

	mtxExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "martingale_ladder_exhausted_total",
			Help: "Symbols stopped because a loss arrived at the last ladder level.",
		},
	)

	mtxLeverageDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "martingale_leverage_degraded_total",
			Help: "Set-leverage calls that failed and were tolerated.",
		},
	)

	mtxSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martingale_stop_sweeps_total",
			Help: "Stop-all sweeps by kind (stop_all|emergency).",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxLadderLevel, mtxCloses, mtxExhausted, mtxLeverageDegraded, mtxSweeps)
}
