package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标：
// - dipexpand_op_total{comp,stage,result}
// - dipexpand_error_total{comp,code}
// - dipexpand_op_duration_ms{comp,stage}
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dipexpand",
		Name:      "op_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dipexpand",
		Name:      "error_total",
		Help:      "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dipexpand",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})
)

func init() {
	registry.MustRegister(
		opTotal, errorTotal, opDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry 返回进程级指标注册表。
func Registry() *prometheus.Registry { return registry }

// MetricsHandler 暴露 /metrics。
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}
