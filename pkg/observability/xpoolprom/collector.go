package xpoolprom

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omeyang/xworker/pkg/util/xpool"
)

// DefaultNamespace 是指标名的默认前缀。
const DefaultNamespace = "xpool"

// ErrNilSource 表示 NewCollector 的 source 为 nil。
var ErrNilSource = errors.New("xpoolprom: nil stats source")

// StatsSource 是可以提供运行状态快照的 pool，
// *xpool.ThreadPool 和 *xpool.TaskPool 都满足该接口。
type StatsSource interface {
	Stats() xpool.Stats
}

// Option 定义 Collector 配置选项。
type Option func(*config)

type config struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace 设置指标名前缀，默认 "xpool"。空字符串被忽略。
func WithNamespace(ns string) Option {
	return func(c *config) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithConstLabels 为所有指标附加固定标签，通常用于区分多个 pool（如 pool="ingest"）。
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *config) {
		c.constLabels = labels
	}
}

// Collector 在每次抓取时读取 Stats 快照并导出为 Prometheus 指标。
// 采用拉模式，不在任务热路径上增加开销。
type Collector struct {
	src StatsSource

	workers   *prometheus.Desc
	maxTasks  *prometheus.Desc
	queued    *prometheus.Desc
	active    *prometheus.Desc
	stopped   *prometheus.Desc
	submitted *prometheus.Desc
	completed *prometheus.Desc
	failed    *prometheus.Desc
	rejected  *prometheus.Desc
	resets    *prometheus.Desc
}

// NewCollector 创建 src 的 Collector，需由调用方注册到 prometheus.Registerer。
func NewCollector(src StatsSource, opts ...Option) (*Collector, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	cfg := config{namespace: DefaultNamespace}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.namespace, "", name), help, nil, cfg.constLabels)
	}
	return &Collector{
		src:       src,
		workers:   desc("workers", "Number of worker goroutines in the pool."),
		maxTasks:  desc("max_tasks", "Maximum number of queued tasks, 0 if unbounded."),
		queued:    desc("queue_depth", "Current number of tasks waiting in the queue."),
		active:    desc("active_tasks", "Current number of tasks being executed."),
		stopped:   desc("stopped", "1 if the pool has been shut down."),
		submitted: desc("tasks_submitted_total", "Total number of tasks accepted into the queue."),
		completed: desc("tasks_completed_total", "Total number of tasks that completed successfully."),
		failed:    desc("tasks_failed_total", "Total number of tasks that returned an error or panicked."),
		rejected:  desc("tasks_rejected_total", "Total number of submissions that were not enqueued."),
		resets:    desc("resets_total", "Total number of completed worker resets."),
	}, nil
}

// Describe 实现 prometheus.Collector。
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.maxTasks
	ch <- c.queued
	ch <- c.active
	ch <- c.stopped
	ch <- c.submitted
	ch <- c.completed
	ch <- c.failed
	ch <- c.rejected
	ch <- c.resets
}

// Collect 实现 prometheus.Collector。
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.workers, float64(s.Workers))
	gauge(c.maxTasks, float64(s.MaxTasks))
	gauge(c.queued, float64(s.Queued))
	gauge(c.active, float64(s.Active))
	stopped := 0.0
	if s.Stopped {
		stopped = 1
	}
	gauge(c.stopped, stopped)
	counter(c.submitted, s.Submitted)
	counter(c.completed, s.Completed)
	counter(c.failed, s.Failed)
	counter(c.rejected, s.Rejected)
	counter(c.resets, s.Resets)
}

var _ prometheus.Collector = (*Collector)(nil)
