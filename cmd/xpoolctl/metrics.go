package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/omeyang/xworker/pkg/observability/xpoolprom"
)

const (
	metricTaskDuration = "xpool.task.duration"
	metricEnqueueWait  = "xpool.enqueue.wait"
)

// newRegistry 创建包含 pool 指标和 Go 运行时指标的 Prometheus registry。
func newRegistry(src xpoolprom.StatsSource, poolName string) (*prometheus.Registry, error) {
	c, err := xpoolprom.NewCollector(src, xpoolprom.WithConstLabels(prometheus.Labels{"pool": poolName}))
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("register pool collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	return reg, nil
}

// serveMetrics 在 ln 上暴露 /metrics，直到 ctx 结束。
func serveMetrics(ctx context.Context, ln net.Listener, path string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("metrics server started", slog.String("addr", ln.Addr().String()), slog.String("path", path))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// newMeterProvider 创建用于汇总任务耗时的 OTel MeterProvider。
func newMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// histogramMeans 从 reader 读取任务耗时和入队等待时间的平均值。
func histogramMeans(ctx context.Context, reader *sdkmetric.ManualReader) (task, wait time.Duration, err error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return 0, 0, fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case metricTaskDuration:
				task = meanSeconds(m.Data)
			case metricEnqueueWait:
				wait = meanSeconds(m.Data)
			}
		}
	}
	return task, wait, nil
}

func meanSeconds(data metricdata.Aggregation) time.Duration {
	h, ok := data.(metricdata.Histogram[float64])
	if !ok {
		return 0
	}
	var (
		sum   float64
		count uint64
	)
	for _, dp := range h.DataPoints {
		sum += dp.Sum
		count += dp.Count
	}
	if count == 0 {
		return 0
	}
	return time.Duration(sum / float64(count) * float64(time.Second))
}
