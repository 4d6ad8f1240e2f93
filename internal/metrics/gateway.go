package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aihub",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "AI 网关调用总数，按功能与结果分类。",
		},
		[]string{"feature", "outcome"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aihub",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "AI 网关调用耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"feature"},
	)
)

// ObserveGatewayCall 记录一次 AI 网关调用的结果与耗时。
func ObserveGatewayCall(feature, outcome string, elapsed time.Duration) {
	gatewayCallTotal.WithLabelValues(feature, outcome).Inc()
	gatewayCallDuration.WithLabelValues(feature).Observe(elapsed.Seconds())
}
