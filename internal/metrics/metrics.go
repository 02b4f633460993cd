package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackdoc_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 流程引擎指标
var (
	// ProcessesStartedTotal 启动的流程总数
	ProcessesStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_processes_started_total",
			Help: "启动的流程总数",
		},
		[]string{"tenant_id"},
	)

	// ProcessesCompletedTotal 完成的流程总数
	ProcessesCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_processes_completed_total",
			Help: "完成的流程总数",
		},
		[]string{"tenant_id"},
	)

	// ExecutionActionsTotal 执行动作总数
	ExecutionActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_execution_actions_total",
			Help: "执行动作总数",
		},
		[]string{"verb", "tenant_id"},
	)
)

// 签名指标
var (
	// SignatureDecisionsTotal 签名决定总数
	SignatureDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_signature_decisions_total",
			Help: "多方签名决定总数",
		},
		[]string{"action", "tenant_id"},
	)

	// FinalizationsTotal 定稿总数
	FinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_finalizations_total",
			Help: "签名定稿总数",
		},
		[]string{"status", "tenant_id"},
	)

	// FinalizationDuration 定稿耗时（秒）
	FinalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackdoc_finalization_duration_seconds",
			Help:    "签名定稿耗时分布",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// VerificationLookupsTotal 公开校验查询总数
	VerificationLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackdoc_verification_lookups_total",
			Help: "公开校验查询总数",
		},
		[]string{"result"},
	)
)

// GinMiddleware 采集请求计数与延迟
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		APIRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
