package live

import "github.com/prometheus/client_golang/prometheus"

var (
	subscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "convodb_live_subscriptions",
		Help: "Number of open live query subscriptions.",
	})
	recomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_live_recomputes_total",
		Help: "Number of live query evaluations.",
	})
	deliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_live_deliveries_total",
		Help: "Number of results pushed to subscribers.",
	})
	queryErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "convodb_live_query_errors_total",
		Help: "Number of live query evaluations that returned an error.",
	})
)

func init() {
	prometheus.MustRegister(subscriptionsGauge, recomputesTotal, deliveriesTotal, queryErrorsTotal)
}
