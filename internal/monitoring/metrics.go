package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 一轮对话的结束方式
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
)

// ClientMetrics 聊天客户端侧的指标。零值指针可安全调用。
type ClientMetrics struct {
	SessionsActive prometheus.Gauge
	Turns          *prometheus.CounterVec
	Frames         *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
}

// NewClientMetrics 在给定注册表上创建客户端指标
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	factory := promauto.With(reg)
	return &ClientMetrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatclient_sessions_active",
			Help: "Number of chat sessions with an open connection",
		}),
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclient_turns_total",
				Help: "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclient_frames_total",
				Help: "Inbound frames by type",
			},
			[]string{"type"},
		),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatclient_turn_duration_seconds",
			Help:    "Time from session creation to turn outcome",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// SessionOpened 记录连接建立
func (m *ClientMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed 记录连接关闭
func (m *ClientMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordFrame 记录收到的一帧
func (m *ClientMetrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	if frameType == "" {
		frameType = "untyped"
	}
	m.Frames.WithLabelValues(frameType).Inc()
}

// RecordTurn 记录一轮对话的结果与耗时
func (m *ClientMetrics) RecordTurn(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// ServerMetrics 桩服务端指标
type ServerMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
	Turns           *prometheus.CounterVec
}

// NewServerMetrics 在给定注册表上创建服务端指标
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stubserver_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stubserver_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stubserver_ws_connections",
			Help: "Number of open chat WebSocket connections",
		}),
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stubserver_turns_total",
				Help: "Chat turns served by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *ServerMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn 记录服务端完成的一轮对话
func (m *ServerMetrics) RecordTurn(protocol, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(protocol, outcome).Inc()
}

// ConnectionOpened 记录 WebSocket 连接建立
func (m *ServerMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// ConnectionClosed 记录 WebSocket 连接关闭
func (m *ServerMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
