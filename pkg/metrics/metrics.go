package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LedgerAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorledger",
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Ledger append attempts by transaction type and result.",
	}, []string{"type", "result"})

	IntegrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "creatorledger",
		Subsystem: "ledger",
		Name:      "integrity_failures_total",
		Help:      "Wallet chains that failed verification.",
	})

	PayoutRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorledger",
		Subsystem: "payout",
		Name:      "runs_total",
		Help:      "Revenue share runs by mode and final status.",
	}, []string{"mode", "status"})

	PayoutLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorledger",
		Subsystem: "payout",
		Name:      "lines_total",
		Help:      "Creator payout lines by final line status.",
	}, []string{"status"})

	RewardsComputed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorledger",
		Subsystem: "reward",
		Name:      "computed_total",
		Help:      "Reward computations by result.",
	}, []string{"result"})
)

var registerOnce sync.Once

// Register adds the collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			LedgerAppends,
			IntegrityFailures,
			PayoutRuns,
			PayoutLines,
			RewardsComputed,
		)
	})
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
