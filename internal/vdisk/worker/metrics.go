package worker

import (
	"time"

	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vdisk"

// 任务执行结果
const (
	resultOK     = "ok"
	resultRetry  = "retry"
	resultFailed = "failed"
)

// Collector 是 prometheus.Collector，统计任务执行次数和耗时
type Collector struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

// NewCollector 创建 Collector
func NewCollector() *Collector {
	return &Collector{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_total",
				Help:      "The number of executed tasks by result.",
			}, []string{"type", "action", "result"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "task_duration_seconds",
				Help:      "The time taken to execute a task.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 3600},
			}, []string{"type", "action"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.tasksTotal.Describe(ch)
	c.taskDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.tasksTotal.Collect(ch)
	c.taskDuration.Collect(ch)
}

func (c *Collector) observe(typ entity.TaskType, action, result string, elapsed time.Duration) {
	c.tasksTotal.WithLabelValues(string(typ), action, result).Inc()
	c.taskDuration.WithLabelValues(string(typ), action).Observe(elapsed.Seconds())
}
