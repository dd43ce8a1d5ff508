// Package metrics exposes the Prometheus metrics the bot updates during
// operation, served at /metrics in live mode:
//   - bot_positions_opened_total{mode,side}
//   - bot_positions_closed_total{mode,reason}
//   - bot_persist_writes_total{kind}
//   - bot_persist_drops_total{kind}
//   - bot_sim_units_total{outcome}
//   - bot_retry_rounds_total
//   - bot_equity_usdt
//   - bot_governor_in_flight
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PositionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_positions_opened_total",
			Help: "Positions opened",
		},
		[]string{"mode", "side"},
	)

	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_positions_closed_total",
			Help: "Positions closed, split by close reason",
		},
		[]string{"mode", "reason"},
	)

	PersistWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_persist_writes_total",
			Help: "Persistence tasks written by kind (state|history)",
		},
		[]string{"kind"},
	)

	// PersistDrops counts tasks abandoned because the queue stayed full
	// past the enqueue timeout. Non-zero values mean the durable copy is
	// lagging the in-memory ledger.
	PersistDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_persist_drops_total",
			Help: "Persistence tasks dropped on queue overflow",
		},
		[]string{"kind"},
	)

	SimUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_sim_units_total",
			Help: "Simulation units executed, split by outcome (win|loss|flat|timeout|error)",
		},
		[]string{"outcome"},
	)

	RetryRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_retry_rounds_total",
			Help: "Feedback retry rounds executed",
		},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usdt",
			Help: "Current equity snapshot in USDT",
		},
	)

	GovernorInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_governor_in_flight",
			Help: "Simulation workers currently admitted by the governor",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PositionsOpened,
		PositionsClosed,
		PersistWrites,
		PersistDrops,
		SimUnits,
		RetryRounds,
		Equity,
		GovernorInFlight,
	)
}
