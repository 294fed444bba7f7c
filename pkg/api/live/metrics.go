package live

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "convodb_live_connections",
		Help: "Open websocket connections.",
	})
	subscribesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convodb_live_subscribe_total",
		Help: "Subscriptions opened over websocket, by query.",
	}, []string{"query"})
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "convodb_live_frames_total",
		Help: "Frames written to websocket clients, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(connectionsGauge, subscribesTotal, framesTotal)
}
