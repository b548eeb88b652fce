package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchAttemptsTotal 入会 dispatch 尝试总数计数器
	// Labels: status (dispatched/failed/missed/abandoned)
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetingproxy_dispatch_attempts_total",
			Help: "Total number of bot dispatch attempts by outcome",
		},
		[]string{"status"},
	)

	// ClassificationsTotal 发言分类结果总数计数器
	// Labels: outcome (answered/taken_back/ignored)
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetingproxy_classifications_total",
			Help: "Total number of classified utterances by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineErrorsTotal 回复流水线错误总数计数器
	// Labels: stage (generation/synthesis/delivery/persistence)
	PipelineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetingproxy_pipeline_errors_total",
			Help: "Total number of response pipeline errors by stage",
		},
		[]string{"stage"},
	)

	// ActiveSessions 活跃会话数量规
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetingproxy_active_sessions",
			Help: "Number of bot sessions currently tracked in memory",
		},
	)

	// GenerationDuration 生成服务调用耗时直方图（秒）
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meetingproxy_generation_duration_seconds",
			Help:    "Generation service call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
)

// RecordDispatch 记录一次 dispatch 结果
func RecordDispatch(status string) {
	DispatchAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordClassification 记录一次发言分类结果
func RecordClassification(outcome string) {
	ClassificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordPipelineError 记录回复流水线错误
func RecordPipelineError(stage string) {
	PipelineErrorsTotal.WithLabelValues(stage).Inc()
}

// SetActiveSessions 设置活跃会话数
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// RecordGenerationDuration 记录生成服务调用耗时（秒）
func RecordGenerationDuration(seconds float64) {
	GenerationDuration.Observe(seconds)
}
