package db

import "github.com/prometheus/client_golang/prometheus"

var (
	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_store_commits_total",
		Help: "Number of committed write transactions.",
	})
	conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_store_conflicts_total",
		Help: "Number of transactions rejected by read-set validation.",
	})
	retriesExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_store_retries_exhausted_total",
		Help: "Number of updates that gave up after the configured retry limit.",
	})
)

func init() {
	prometheus.MustRegister(commitsTotal)
	prometheus.MustRegister(conflictsTotal)
	prometheus.MustRegister(retriesExhaustedTotal)
}
