package xpoolconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/omeyang/xworker/pkg/util/xpool"
)

// 默认配置值。
const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 7
	DefaultLogMaxAgeDays   = 30

	maxWorkers = 1 << 16
)

// Config 是 xworker 应用的完整配置。
type Config struct {
	Pool    PoolConfig    `koanf:"pool" json:"pool"`
	Log     LogConfig     `koanf:"log" json:"log"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics"`
}

// PoolConfig 对应 xpool.TaskPool 的构造参数。
type PoolConfig struct {
	// Name 用于日志和指标标签
	Name string `koanf:"name" json:"name"`
	// Workers worker 数量，范围 [1, 65536]
	Workers int `koanf:"workers" json:"workers"`
	// MaxTasks 最大排队任务数，0 表示等于 Workers
	MaxTasks int `koanf:"max_tasks" json:"max_tasks"`
	// EnqueueTimeout 生产者等待入队的最长时间，0 表示无限等待
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout" json:"enqueue_timeout"`
	// ShutdownTimeout 关闭时等待 worker 退出的最长时间，0 表示一直等待
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	// LogPanicValue 是否在日志中输出完整 panic 值
	LogPanicValue bool `koanf:"log_panic_value" json:"log_panic_value"`
}

// LogConfig 日志输出配置。File 为空时输出到 stderr。
type LogConfig struct {
	Level      string `koanf:"level" json:"level"`
	Format     string `koanf:"format" json:"format"`
	File       string `koanf:"file" json:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress" json:"compress"`
}

// MetricsConfig Prometheus 指标暴露配置。Addr 为空时不启动 HTTP 服务。
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr"`
	Path string `koanf:"path" json:"path"`
}

// Default 返回默认配置。
func Default() Config {
	return Config{
		Pool: PoolConfig{
			Name:            "xworker",
			Workers:         runtime.GOMAXPROCS(0),
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Validate 检查配置，返回所有问题的汇总错误（errors.Join），均包装 ErrInvalidConfig。
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.Pool.Workers < 1 || c.Pool.Workers > maxWorkers {
		add("pool.workers must be in [1, %d], got %d", maxWorkers, c.Pool.Workers)
	}
	if c.Pool.MaxTasks < 0 {
		add("pool.max_tasks must be >= 0, got %d", c.Pool.MaxTasks)
	}
	if c.Pool.EnqueueTimeout < 0 {
		add("pool.enqueue_timeout must be >= 0, got %s", c.Pool.EnqueueTimeout)
	}
	if c.Pool.ShutdownTimeout < 0 {
		add("pool.shutdown_timeout must be >= 0, got %s", c.Pool.ShutdownTimeout)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		add("log rotation limits must be >= 0")
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return errors.Join(errs...)
}

// Options 将 PoolConfig 转换为 xpool 选项。logger 为 nil 时使用 xpool 默认值。
func (c PoolConfig) Options(logger *slog.Logger) []xpool.Option {
	opts := []xpool.Option{
		xpool.WithName(c.Name),
		xpool.WithLogger(logger),
	}
	if c.MaxTasks > 0 {
		opts = append(opts, xpool.WithMaxTasks(c.MaxTasks))
	}
	if c.LogPanicValue {
		opts = append(opts, xpool.WithLogPanicValue())
	}
	return opts
}

// ShutdownContext 返回用于关闭 pool 的 context。
// ShutdownTimeout 为 0 时不设截止时间，等待所有 worker 退出。
func (c PoolConfig) ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.ShutdownTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.ShutdownTimeout)
}

// ParseLevel 解析日志级别，支持 debug/info/warn/warning/error（大小写不敏感）。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}
