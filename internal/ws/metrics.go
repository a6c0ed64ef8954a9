package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventline_ws_connections_opened_total",
		Help: "Websocket connections accepted.",
	})
	metricConnectionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventline_ws_connections_superseded_total",
		Help: "Connections replaced by a newer connection for the same identity.",
	})
	metricHeartbeatsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventline_queue_entries_expired_total",
		Help: "Queue entries dropped for missed heartbeats.",
	})
	metricMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ventline_matches_total",
		Help: "Pairs matched out of the queue.",
	})
)

// RegisterGauges exposes live queue depth and active call count.
func (s *Server) RegisterGauges() {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ventline_queue_depth",
		Help: "Participants currently waiting.",
	}, func() float64 { return float64(s.queue.Len()) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ventline_active_calls",
		Help: "Calls currently live.",
	}, func() float64 { return float64(s.coord.ActiveCalls()) })
}
