// Package metrics 提供提案引擎的 Prometheus 指标
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/proposalengine/pkg/logger"
)

const namespace = "trading"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 业务指标
	ProposalsBuilt  *prometheus.CounterVec
	BuildFailures   *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	OrderLegs       *prometheus.CounterVec
	Rollbacks       prometheus.Counter
	ExchangeLatency *prometheus.HistogramVec
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ProposalsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "proposals_built_total",
			Help:      "Proposals built, by origin",
		}, []string{"origin"}),
		BuildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "proposal_build_failures_total",
			Help:      "Proposal build failures, by error code",
		}, []string{"code"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "executions_total",
			Help:      "Proposal executions, by result status",
		}, []string{"status"}),
		OrderLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "order_legs_total",
			Help:      "Order legs submitted, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "rollbacks_total",
			Help:      "Executions rolled back after a fatal leg",
		}),
		ExchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "exchange_call_duration_seconds",
			Help:      "Exchange REST call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"call", "outcome"}),
	}
}

// Register 注册所有指标；reg 为空时使用默认注册器
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProposalsBuilt,
		m.BuildFailures,
		m.Executions,
		m.OrderLegs,
		m.Rollbacks,
		m.ExchangeLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}
	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// ObserveExchangeCall 记录一次交易所调用
func (m *Metrics) ObserveExchangeCall(call string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ExchangeLatency.WithLabelValues(call, outcome).Observe(time.Since(start).Seconds())
}

// RecordLeg 记录一条订单腿的结果
func (m *Metrics) RecordLeg(kind, outcome string) {
	if m == nil {
		return
	}
	m.OrderLegs.WithLabelValues(kind, outcome).Inc()
}

// RecordExecution 记录一次执行结果
func (m *Metrics) RecordExecution(status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(status).Inc()
	if status == "rolled_back" {
		m.Rollbacks.Inc()
	}
}

// RecordBuild 记录提案构建结果，code 为空表示成功
func (m *Metrics) RecordBuild(origin, code string) {
	if m == nil {
		return
	}
	if code == "" {
		m.ProposalsBuilt.WithLabelValues(origin).Inc()
		return
	}
	m.BuildFailures.WithLabelValues(code).Inc()
}

// StartHTTPServer 启动 Prometheus HTTP 服务器，返回的 server 用于优雅关停
func StartHTTPServer(port int, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "Prometheus HTTP server error", "error", err)
		}
	}()
	return srv
}
