package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	WagersSubmittedTotal *prometheus.CounterVec
	WagersTerminalTotal  *prometheus.CounterVec
	ResolutionLatency    *prometheus.HistogramVec
	PollErrorsTotal      *prometheus.CounterVec
	ActiveWatches        prometheus.Gauge
	NetworkSwitchTotal   *prometheus.CounterVec
	RefundsTotal         *prometheus.CounterVec
	StatusRefreshTotal   *prometheus.CounterVec
}

// Global Metrics Instance, 为 nil 时所有埋点都是空操作
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		WagersSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_submitted_total",
			Help: "Wagers whose submission transaction was confirmed",
		}, []string{"kind"}),
		WagersTerminalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_terminal_total",
			Help: "Wagers reaching a terminal state",
		}, []string{"kind", "state"}),
		ResolutionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_resolution_seconds",
			Help:    "Time from Pending to Resolved",
			Buckets: []float64{3, 6, 12, 30, 60, 120, 180},
		}, []string{"kind", "channel"}),
		PollErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_poll_errors_total",
			Help: "Failed resolution polls",
		}, []string{"kind"}),
		ActiveWatches: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wager_active_watches",
			Help: "Wagers currently being watched",
		}),
		NetworkSwitchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_network_switch_total",
			Help: "Network guard switch attempts",
		}, []string{"result"}),
		RefundsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_refunds_total",
			Help: "Refund transactions by kind and result",
		}, []string{"kind", "result"}),
		StatusRefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_status_refresh_total",
			Help: "Status aggregator refreshes",
		}, []string{"result"}),
	}
}

func (m *BusinessMetrics) Submitted(kind string) {
	if m == nil {
		return
	}
	m.WagersSubmittedTotal.WithLabelValues(kind).Inc()
}

func (m *BusinessMetrics) Terminal(kind, state string) {
	if m == nil {
		return
	}
	m.WagersTerminalTotal.WithLabelValues(kind, state).Inc()
}

func (m *BusinessMetrics) Resolved(kind, channel string, took time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionLatency.WithLabelValues(kind, channel).Observe(took.Seconds())
}

func (m *BusinessMetrics) PollError(kind string) {
	if m == nil {
		return
	}
	m.PollErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *BusinessMetrics) WatchStarted() {
	if m == nil {
		return
	}
	m.ActiveWatches.Inc()
}

func (m *BusinessMetrics) WatchStopped() {
	if m == nil {
		return
	}
	m.ActiveWatches.Dec()
}

func (m *BusinessMetrics) NetworkSwitch(result string) {
	if m == nil {
		return
	}
	m.NetworkSwitchTotal.WithLabelValues(result).Inc()
}

func (m *BusinessMetrics) Refund(kind, result string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(kind, result).Inc()
}

func (m *BusinessMetrics) StatusRefresh(result string) {
	if m == nil {
		return
	}
	m.StatusRefreshTotal.WithLabelValues(result).Inc()
}
