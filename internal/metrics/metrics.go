package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warden"

const (
	OutcomeRan     = "ran"
	OutcomeDropped = "dropped"
)

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "采样次数，按结果区分",
		},
		[]string{"result"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "写入的告警数量",
		},
		[]string{"severity", "source"},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "predictions_total",
			Help:      "异常检测次数",
		},
		[]string{"anomaly"},
	)

	cleanupItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "items_total",
			Help:      "清理的条目数",
		},
		[]string{"outcome"},
	)

	maintenanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "passes_total",
			Help:      "维护触发次数，dropped 表示已有维护在运行",
		},
		[]string{"outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "一次采样分析周期的耗时",
			Buckets:   []float64{0.5, 1, 1.5, 2, 3, 5, 10, 30},
		},
	)

	resourceUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_usage_percent",
			Help:      "最近一次采样的资源使用率",
		},
		[]string{"resource"},
	)
)

// Register 注册所有指标，重复注册忽略
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		alertsTotal,
		predictionsTotal,
		cleanupItems,
		maintenanceTotal,
		cycleDuration,
		resourceUsage,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample 记录一次采样
func ObserveSample(ok bool, cpu, ram, disk float64) {
	if !ok {
		samplesTotal.WithLabelValues("error").Inc()
		return
	}
	samplesTotal.WithLabelValues("ok").Inc()
	resourceUsage.WithLabelValues("cpu").Set(cpu)
	resourceUsage.WithLabelValues("ram").Set(ram)
	resourceUsage.WithLabelValues("disk").Set(disk)
}

// ObserveAlert 记录一条已写入的告警
func ObserveAlert(severity, source string) {
	if source == "" {
		source = "unknown"
	}
	alertsTotal.WithLabelValues(severity, source).Inc()
}

// ObservePrediction 记录一次异常检测
func ObservePrediction(anomaly bool) {
	if anomaly {
		predictionsTotal.WithLabelValues("true").Inc()
		return
	}
	predictionsTotal.WithLabelValues("false").Inc()
}

// ObserveCleanup 记录清理结果
func ObserveCleanup(removed, skipped, errors int) {
	cleanupItems.WithLabelValues("removed").Add(float64(removed))
	cleanupItems.WithLabelValues("skipped").Add(float64(skipped))
	cleanupItems.WithLabelValues("error").Add(float64(errors))
}

// ObserveMaintenance 记录维护触发结果
func ObserveMaintenance(outcome string) {
	if outcome != OutcomeDropped {
		outcome = OutcomeRan
	}
	maintenanceTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle 记录周期耗时
func ObserveCycle(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	cycleDuration.Observe(duration.Seconds())
}
