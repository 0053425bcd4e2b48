// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_commands_total",
		Help: "Commands handled, labeled by verb and outcome",
	}, []string{"command", "outcome"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tipbot_command_duration_seconds",
		Help:    "Latency distribution of command handling",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"command"})

	ChainTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_chain_transfers_total",
		Help: "On-chain transfers submitted, labeled by kind (sweep, withdraw) and outcome",
	}, []string{"kind", "outcome"})

	LedgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_ledger_writes_total",
		Help: "Ledger counter updates, labeled by field and outcome",
	}, []string{"field", "outcome"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_sweep_runs_total",
		Help: "Scheduled sweep ticks, labeled by result (ran, suspended)",
	}, []string{"result"})

	ActivePackets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tipbot_active_packets",
		Help: "Packets currently open for claims",
	})
)

// Outcome maps an error to a label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
