package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xworker/pkg/config/xpoolconf"
	"github.com/omeyang/xworker/pkg/util/xpool"
)

// usageError 表示参数或配置错误，退出码 2。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// isCLIUsageError 识别 urfave/cli 产生的参数解析错误。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, p := range []string{
		"flag provided but not defined",
		"flag needs an argument",
		"invalid value",
		"Required flag",
		"No help topic",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func createCommands(stdout, stderr io.Writer) []*cli.Command {
	return []*cli.Command{
		createRunCommand(stdout, stderr),
		createConfigCommand(stdout),
		createCheckCommand(stdout),
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "配置文件路径（.yaml/.yml/.json）",
	}
}

// poolFlags 覆盖配置文件中的同名字段，仅在显式设置时生效。
func poolFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "worker 数量"},
		&cli.IntFlag{Name: "max-tasks", Aliases: []string{"k"}, Usage: "最大排队任务数（0 表示等于 worker 数）"},
		&cli.DurationFlag{Name: "enqueue-timeout", Usage: "poll-for/wait-until 策略的入队超时"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "Prometheus 指标监听地址，如 :9090"},
		&cli.StringFlag{Name: "log-level", Usage: "日志级别 (debug/info/warn/error)"},
		&cli.StringFlag{Name: "log-format", Usage: "日志格式 (text/json)"},
		&cli.StringFlag{Name: "log-file", Usage: "日志文件路径（按大小轮转），默认 stderr"},
	}
}

// loadConfig 读取配置文件（可选）并应用命令行覆盖，返回校验后的配置。
func loadConfig(cmd *cli.Command) (xpoolconf.Config, error) {
	cfg := xpoolconf.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := xpoolconf.Load(path)
		if err != nil {
			return cfg, &usageError{err: err}
		}
		cfg = loaded
	}

	if cmd.IsSet("workers") {
		cfg.Pool.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("max-tasks") {
		cfg.Pool.MaxTasks = cmd.Int("max-tasks")
	}
	if cmd.IsSet("enqueue-timeout") {
		cfg.Pool.EnqueueTimeout = cmd.Duration("enqueue-timeout")
	}
	if cmd.IsSet("metrics-addr") {
		cfg.Metrics.Addr = cmd.String("metrics-addr")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("log-file") {
		cfg.Log.File = cmd.String("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, &usageError{err: err}
	}
	return cfg, nil
}

func createRunCommand(stdout, stderr io.Writer) *cli.Command {
	flags := append(poolFlags(),
		&cli.IntFlag{Name: "tasks", Aliases: []string{"n"}, Usage: "提交的任务总数", Value: 1000},
		&cli.IntFlag{Name: "producers", Aliases: []string{"p"}, Usage: "并发生产者数量", Value: 4},
		&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "入队策略 (wait/poll-for/wait-until)", Value: strategyWait},
		&cli.DurationFlag{Name: "task-duration", Usage: "每个任务的模拟耗时", Value: time.Millisecond},
		&cli.IntFlag{Name: "fail-every", Usage: "每 N 个任务失败一次（0 不失败）"},
		&cli.IntFlag{Name: "reset-after", Usage: "每提交 N 个任务重置一次 worker（0 不重置）"},
	)
	return &cli.Command{
		Name:  "run",
		Usage: "运行合成负载并输出汇总",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			params := loadParams{
				Tasks:          cmd.Int("tasks"),
				Producers:      cmd.Int("producers"),
				Strategy:       cmd.String("strategy"),
				EnqueueTimeout: cfg.Pool.EnqueueTimeout,
				TaskDuration:   cmd.Duration("task-duration"),
				FailEvery:      cmd.Int("fail-every"),
				ResetAfter:     cmd.Int("reset-after"),
			}
			if err := params.validate(); err != nil {
				return &usageError{err: err}
			}
			return cmdRun(ctx, cfg, cmd.String("config"), params, stdout, stderr)
		},
	}
}

// cmdRun 创建 pool、启动指标服务和配置监视，运行负载并输出汇总。
func cmdRun(ctx context.Context, cfg xpoolconf.Config, configPath string, params loadParams, stdout, stderr io.Writer) error {
	levelVar := new(slog.LevelVar)
	logger, closeLog, err := newLogger(cfg.Log, levelVar, stderr)
	if err != nil {
		return &usageError{err: err}
	}
	defer func() { _ = closeLog() }()

	if configPath != "" {
		stop, err := watchLogLevel(configPath, levelVar, logger)
		if err != nil {
			logger.Warn("config watch disabled", slog.Any("error", err))
		} else {
			defer stop()
		}
	}

	mp, reader := newMeterProvider()
	defer func() { _ = mp.Shutdown(context.Background()) }()

	opts := append(cfg.Pool.Options(logger), xpool.WithMeterProvider(mp))
	pool, err := xpool.NewTaskPool(cfg.Pool.Workers, opts...)
	if err != nil {
		return &usageError{err: err}
	}
	logger.Info("pool started",
		slog.Int("workers", pool.Workers()),
		slog.Int("max_tasks", pool.MaxTasks()),
		slog.String("strategy", params.Strategy),
	)

	eg, egCtx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(egCtx)
	defer stopServe()

	if cfg.Metrics.Addr != "" {
		reg, err := newRegistry(pool, cfg.Pool.Name)
		if err != nil {
			return errors.Join(err, pool.Close())
		}
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return errors.Join(fmt.Errorf("listen %s: %w", cfg.Metrics.Addr, err), pool.Close())
		}
		eg.Go(func() error { return serveMetrics(serveCtx, ln, cfg.Metrics.Path, reg, logger) })
	}

	var sum summary
	eg.Go(func() error {
		defer stopServe()
		var err error
		sum, err = newLoadRunner(pool, params, logger).run(egCtx)
		return err
	})
	runErr := eg.Wait()

	shutdownCtx, cancel := cfg.Pool.ShutdownContext(context.Background())
	defer cancel()
	closeErr := pool.Shutdown(shutdownCtx)

	sum.AvgTaskDuration, sum.AvgEnqueueWait, err = histogramMeans(context.Background(), reader)
	if err != nil {
		logger.Warn("metrics summary unavailable", slog.Any("error", err))
	}
	sum.write(stdout)

	return errors.Join(runErr, closeErr)
}

// watchLogLevel 监视配置文件，日志级别变化时更新 levelVar。
func watchLogLevel(path string, levelVar *slog.LevelVar, logger *slog.Logger) (func(), error) {
	w, err := xpoolconf.Watch(path, func(cfg xpoolconf.Config, err error) {
		if err != nil {
			logger.Warn("config reload failed", slog.Any("error", err))
			return
		}
		level, err := xpoolconf.ParseLevel(cfg.Log.Level)
		if err != nil {
			return
		}
		if level != levelVar.Level() {
			levelVar.Set(level)
			logger.Info("log level reloaded", slog.String("level", level.String()))
		}
	})
	if err != nil {
		return nil, err
	}
	w.Start()
	return func() { _ = w.Stop() }, nil
}

func createConfigCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "输出生效配置（JSON）",
		Flags: poolFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return printConfig(stdout, cfg)
		},
	}
}

// printConfig 以 JSON 输出配置，时长使用可读格式。
func printConfig(w io.Writer, cfg xpoolconf.Config) error {
	view := map[string]any{
		"pool": map[string]any{
			"name":             cfg.Pool.Name,
			"workers":          cfg.Pool.Workers,
			"max_tasks":        cfg.Pool.MaxTasks,
			"enqueue_timeout":  cfg.Pool.EnqueueTimeout.String(),
			"shutdown_timeout": cfg.Pool.ShutdownTimeout.String(),
			"log_panic_value":  cfg.Pool.LogPanicValue,
		},
		"log":     cfg.Log,
		"metrics": cfg.Metrics,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func createCheckCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "校验配置文件",
		Flags: []cli.Flag{configFlag()},
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if path == "" {
				return usageErrorf("--config is required")
			}
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: ok\n", path)
			return nil
		},
	}
}

// setupSignalHandler 第一次 SIGINT/SIGTERM 取消 ctx，第二次强制退出（退出码 130）。
func setupSignalHandler(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
			return
		}
		<-sigCh
		os.Exit(130)
	}()
}
