package main

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omeyang/xworker/pkg/config/xpoolconf"
)

// newLogger 按配置创建日志记录器，级别由 levelVar 控制以支持热更新。
// File 非空时写入按大小轮转的日志文件，否则写入 stderr。
// 返回的 cleanup 关闭日志文件，可重复调用。
func newLogger(cfg xpoolconf.LogConfig, levelVar *slog.LevelVar, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := xpoolconf.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	levelVar.Set(level)

	out := stderr
	cleanup := func() error { return nil }
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = rotator
		cleanup = rotator.Close
	}

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), cleanup, nil
}
