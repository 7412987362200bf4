// Package metrics records engine counters on a custom registry so the
// /metrics endpoint only exposes what the daemon itself produces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var (
	// RefreshCycles counts completed account refresh cycles.
	RefreshCycles = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "refresh_cycles_total",
		Help:      "Number of completed account refresh cycles",
	})

	// StaleRefreshesDiscarded counts refresh results dropped because a
	// newer refresh superseded them.
	StaleRefreshesDiscarded = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "stale_refreshes_discarded_total",
		Help:      "Number of refresh results discarded as stale",
	})

	// PrunedEntries counts pending entries removed by the reconciler,
	// labelled by entry kind.
	PrunedEntries = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "pruned_entries_total",
		Help:      "Number of pending entries pruned after being subsumed by confirmed state",
	}, []string{"kind"})

	// BalanceUnderflows counts projected balances clamped to zero.
	BalanceUnderflows = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "walletd",
		Name:      "balance_underflows_total",
		Help:      "Number of projected balances clamped to zero",
	})
)

// Registry returns the registry all walletd metrics are registered on.
func Registry() *prometheus.Registry {
	return registry
}
