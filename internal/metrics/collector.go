// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fgan1/fogbow-manager/request"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 请求生命周期指标
	requestTransitions *prometheus.CounterVec
	provisioningTotal  *prometheus.CounterVec

	// 编排循环指标
	loopTicksTotal   *prometheus.CounterVec
	loopTickDuration *prometheus.HistogramVec
	tokenRenewals    *prometheus.CounterVec

	// 联邦指标
	peerCallsTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 请求生命周期指标
	c.requestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_state_transitions_total",
			Help:      "Total number of request state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.provisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_attempts_total",
			Help:      "Total number of provisioning attempts by target and outcome",
		},
		[]string{"target", "outcome"}, // target: local, remote, served
	)

	// 编排循环指标
	c.loopTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_ticks_total",
			Help:      "Total number of orchestration loop ticks",
		},
		[]string{"loop", "result"}, // result: keep, idle
	)

	c.loopTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_tick_duration_seconds",
			Help:      "Orchestration loop tick duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"loop"},
	)

	c.tokenRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_renewals_total",
			Help:      "Total number of request token renewals",
		},
		[]string{"status"},
	)

	// 联邦指标
	c.peerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_calls_total",
			Help:      "Total number of calls to federation members",
		},
		[]string{"operation", "outcome"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔄 编排指标记录
// =============================================================================

// RecordTransition 记录请求状态转换
func (c *Collector) RecordTransition(from, to request.State) {
	c.requestTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordProvisioning 记录一次供给尝试
func (c *Collector) RecordProvisioning(target, outcome string) {
	c.provisioningTotal.WithLabelValues(target, outcome).Inc()
}

// RecordLoopTick 记录循环 tick
func (c *Collector) RecordLoopTick(loop string, d time.Duration, keep bool) {
	result := "idle"
	if keep {
		result = "keep"
	}
	c.loopTicksTotal.WithLabelValues(loop, result).Inc()
	c.loopTickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// RecordTokenRenewal 记录 token 续签结果
func (c *Collector) RecordTokenRenewal(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	c.tokenRenewals.WithLabelValues(status).Inc()
}

// RecordPeerCall 记录联邦成员调用
func (c *Collector) RecordPeerCall(op, outcome string) {
	c.peerCallsTotal.WithLabelValues(op, outcome).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
