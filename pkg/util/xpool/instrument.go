package xpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/omeyang/xworker/xpool"

	metricTasksSubmitted = "xpool.tasks.submitted"
	metricTasksCompleted = "xpool.tasks.completed"
	metricTasksRejected  = "xpool.tasks.rejected"
	metricTaskDuration   = "xpool.task.duration"
	metricEnqueueWait    = "xpool.enqueue.wait"
	metricQueueDepth     = "xpool.queue.depth"

	spanTask  = "xpool.task"
	spanReset = "xpool.reset"
)

// 任务结果状态。
const (
	statusOK    = "ok"
	statusError = "error"
	statusPanic = "panic"
)

// 提交被拒绝的原因。
const (
	reasonStopped  = "stopped"
	reasonDeadline = "deadline"
	reasonCanceled = "canceled"
	reasonWaiter   = "waiter"
)

var (
	attrStatus = attribute.Key("status")
	attrReason = attribute.Key("reason")
)

type instruments struct {
	tracer    trace.Tracer
	poolAttr  attribute.KeyValue
	submitted metric.Int64Counter
	completed metric.Int64Counter
	rejected  metric.Int64Counter
	duration  metric.Float64Histogram
	wait      metric.Float64Histogram
	reg       metric.Registration
}

func newInstruments(o options, depth func() int64) (*instruments, error) {
	meter := o.meterProvider.Meter(instrumentationName)
	inst := &instruments{
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		poolAttr: attribute.String("pool", o.name),
	}

	var err error
	if inst.submitted, err = meter.Int64Counter(metricTasksSubmitted,
		metric.WithDescription("tasks accepted into the queue"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("xpool: create counter failed: %w", err)
	}
	if inst.completed, err = meter.Int64Counter(metricTasksCompleted,
		metric.WithDescription("tasks executed by workers"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("xpool: create counter failed: %w", err)
	}
	if inst.rejected, err = meter.Int64Counter(metricTasksRejected,
		metric.WithDescription("submissions that were not enqueued"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("xpool: create counter failed: %w", err)
	}
	if inst.duration, err = meter.Float64Histogram(metricTaskDuration,
		metric.WithDescription("task execution duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("xpool: create histogram failed: %w", err)
	}
	if inst.wait, err = meter.Float64Histogram(metricEnqueueWait,
		metric.WithDescription("time producers spent waiting to enqueue"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("xpool: create histogram failed: %w", err)
	}

	gauge, err := meter.Int64ObservableGauge(metricQueueDepth,
		metric.WithDescription("tasks waiting in the queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xpool: create gauge failed: %w", err)
	}
	poolAttr := metric.WithAttributes(inst.poolAttr)
	inst.reg, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, depth(), poolAttr)
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("xpool: register gauge callback failed: %w", err)
	}
	return inst, nil
}

func (i *instruments) startTask() trace.Span {
	_, span := i.tracer.Start(context.Background(), spanTask,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(i.poolAttr),
	)
	return span
}

func (i *instruments) endTask(span trace.Span, status string, elapsed time.Duration, err error) {
	ctx := context.Background()
	i.completed.Add(ctx, 1, metric.WithAttributes(i.poolAttr, attrStatus.String(status)))
	i.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(i.poolAttr, attrStatus.String(status)))
	endSpan(span, err)
}

func (i *instruments) startReset() trace.Span {
	_, span := i.tracer.Start(context.Background(), spanReset,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(i.poolAttr),
	)
	return span
}

func (i *instruments) endReset(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// enqueued 记录一次提交的结果和等待耗时。
func (i *instruments) enqueued(waited time.Duration, err error) {
	ctx := context.Background()
	if err != nil {
		i.rejected.Add(ctx, 1, metric.WithAttributes(i.poolAttr, attrReason.String(rejectReason(err))))
		return
	}
	i.submitted.Add(ctx, 1, metric.WithAttributes(i.poolAttr))
	i.wait.Record(ctx, waited.Seconds(), metric.WithAttributes(i.poolAttr))
}

// close 注销队列深度回调。
func (i *instruments) close() {
	// Unregister 只在 SDK 内部状态异常时失败，此时 pool 已关闭，无需处理
	_ = i.reg.Unregister()
}

func statusOf(err error) string {
	var pe *PanicError
	switch {
	case err == nil:
		return statusOK
	case errors.As(err, &pe):
		return statusPanic
	default:
		return statusError
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPoolStopped):
		return reasonStopped
	case errors.Is(err, context.DeadlineExceeded):
		return reasonDeadline
	case errors.Is(err, context.Canceled):
		return reasonCanceled
	default:
		return reasonWaiter
	}
}
