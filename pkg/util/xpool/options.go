package xpool

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option 定义 ThreadPool/TaskPool 可选配置函数类型。
type Option func(*options)

type options struct {
	logger         *slog.Logger
	name           string
	onEnter        func()
	onExit         func()
	maxTasks       int // 仅 TaskPool 使用；0 表示取 worker 数
	logPanicValue  bool
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger 设置自定义日志记录器。
// 默认使用 slog.Default()。传入 nil 将被忽略，保持使用默认值。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName 设置 pool 名称，用于在多实例场景下区分日志和指标来源。
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithOnEnter 设置 worker 启动钩子，每个 worker 启动后、处理任务前调用一次。
// 多个 worker 的钩子并发执行，不保证顺序。Reset 重建 worker 时会再次调用。
func WithOnEnter(fn func()) Option {
	return func(o *options) {
		o.onEnter = fn
	}
}

// WithOnExit 设置 worker 退出钩子，每个 worker 退出循环后调用一次。
// 多个 worker 的钩子并发执行，不保证顺序。
func WithOnExit(fn func()) Option {
	return func(o *options) {
		o.onExit = fn
	}
}

// WithMaxTasks 设置 TaskPool 的最大排队任务数。
// 默认等于 worker 数；小于 1 的值按 1 处理。对 ThreadPool 无效。
func WithMaxTasks(n int) Option {
	if n < 1 {
		n = 1
	}
	return func(o *options) {
		o.maxTasks = n
	}
}

// WithLogPanicValue 启用 panic 日志中的完整 panic 值输出。
// 默认仅记录 panic 值的类型，避免敏感信息进入日志。
func WithLogPanicValue() Option {
	return func(o *options) {
		o.logPanicValue = true
	}
}

// WithMeterProvider 设置指标使用的 MeterProvider。
// 默认使用 otel.GetMeterProvider()。传入 nil 将被忽略。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

// WithTracerProvider 设置任务执行 span 使用的 TracerProvider。
// 默认使用 otel.GetTracerProvider()。传入 nil 将被忽略。
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.tracerProvider = provider
		}
	}
}
