package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xworker/pkg/util/xpool"
)

// 入队策略。
const (
	strategyWait      = "wait"
	strategyPollFor   = "poll-for"
	strategyWaitUntil = "wait-until"
)

var errSyntheticFailure = errors.New("synthetic task failure")

// loadParams 描述一次合成负载。
type loadParams struct {
	Tasks          int
	Producers      int
	Strategy       string
	EnqueueTimeout time.Duration
	TaskDuration   time.Duration
	FailEvery      int // 每 FailEvery 个任务失败一次，0 表示不失败
	ResetAfter     int // 每提交 ResetAfter 个任务执行一次 Reset，0 表示不重置
}

func (p loadParams) validate() error {
	switch {
	case p.Tasks < 0:
		return fmt.Errorf("--tasks must be >= 0, got %d", p.Tasks)
	case p.Producers < 1:
		return fmt.Errorf("--producers must be >= 1, got %d", p.Producers)
	case p.TaskDuration < 0:
		return fmt.Errorf("--task-duration must be >= 0, got %s", p.TaskDuration)
	case p.FailEvery < 0:
		return fmt.Errorf("--fail-every must be >= 0, got %d", p.FailEvery)
	case p.ResetAfter < 0:
		return fmt.Errorf("--reset-after must be >= 0, got %d", p.ResetAfter)
	}
	switch p.Strategy {
	case strategyWait:
	case strategyPollFor, strategyWaitUntil:
		if p.EnqueueTimeout <= 0 {
			return fmt.Errorf("--strategy %s requires a positive --enqueue-timeout", p.Strategy)
		}
	default:
		return fmt.Errorf("unknown --strategy %q (want wait, poll-for or wait-until)", p.Strategy)
	}
	return nil
}

// summary 汇总一次负载的结果。
type summary struct {
	Submitted   int64
	Completed   int64
	Failed      int64
	NotEnqueued int64
	Resets      int64
	MaxDepth    int64
	Interrupted bool
	Elapsed     time.Duration

	AvgTaskDuration time.Duration
	AvgEnqueueWait  time.Duration
}

func (s summary) write(w io.Writer) {
	fmt.Fprintf(w, "submitted:     %d\n", s.Submitted)
	fmt.Fprintf(w, "completed:     %d\n", s.Completed)
	fmt.Fprintf(w, "failed:        %d\n", s.Failed)
	fmt.Fprintf(w, "not enqueued:  %d\n", s.NotEnqueued)
	fmt.Fprintf(w, "resets:        %d\n", s.Resets)
	fmt.Fprintf(w, "max depth:     %d\n", s.MaxDepth)
	fmt.Fprintf(w, "avg task:      %s\n", s.AvgTaskDuration)
	fmt.Fprintf(w, "avg wait:      %s\n", s.AvgEnqueueWait)
	fmt.Fprintf(w, "elapsed:       %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Interrupted {
		fmt.Fprintln(w, "interrupted:   true")
	}
}

// loadRunner 通过多个生产者向 pool 提交合成任务。
type loadRunner struct {
	pool   *xpool.TaskPool
	params loadParams
	logger *slog.Logger

	next     atomic.Int64
	inflight atomic.Int64
	maxDepth atomic.Int64
	notEnq   atomic.Int64
	resets   atomic.Int64

	mu   sync.Mutex
	futs []*xpool.Future[int]
}

func newLoadRunner(pool *xpool.TaskPool, params loadParams, logger *slog.Logger) *loadRunner {
	return &loadRunner{pool: pool, params: params, logger: logger}
}

// run 运行负载直到所有任务提交完毕或 ctx 结束，然后等待已入队任务的结果。
// ctx 结束不视为错误，summary.Interrupted 为 true。
func (r *loadRunner) run(ctx context.Context) (summary, error) {
	start := time.Now()

	eg, egCtx := errgroup.WithContext(ctx)
	for range r.params.Producers {
		eg.Go(func() error { return r.produce(egCtx) })
	}
	err := eg.Wait()

	s := summary{
		NotEnqueued: r.notEnq.Load(),
		Resets:      r.resets.Load(),
		Interrupted: ctx.Err() != nil,
	}

	r.mu.Lock()
	futs := r.futs
	r.mu.Unlock()
	s.Submitted = int64(len(futs))
	// 已入队的任务一定会执行完成
	for _, fut := range futs {
		if _, ferr := fut.Get(); ferr != nil {
			s.Failed++
		} else {
			s.Completed++
		}
	}
	s.MaxDepth = r.maxDepth.Load()
	s.Elapsed = time.Since(start)

	if err != nil && !errors.Is(err, context.Canceled) {
		return s, err
	}
	return s, nil
}

func (r *loadRunner) produce(ctx context.Context) error {
	for {
		id := int(r.next.Add(1))
		if id > r.params.Tasks || ctx.Err() != nil {
			return nil
		}

		task, fut := xpool.NewTask(r.work(id))
		err := r.submit(ctx, task)
		r.observeDepth()
		switch {
		case err == nil:
			r.inflight.Add(1)
			r.mu.Lock()
			r.futs = append(r.futs, fut)
			r.mu.Unlock()
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, xpool.ErrNotEnqueued) && errors.Is(err, context.DeadlineExceeded):
			r.notEnq.Add(1)
			r.logger.Debug("task not enqueued", slog.Int("task", id), slog.Any("error", err))
		default:
			return fmt.Errorf("submit task %d: %w", id, err)
		}

		if r.params.ResetAfter > 0 && id%r.params.ResetAfter == 0 {
			if err := r.pool.Reset(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("reset after task %d: %w", id, err)
			}
			r.resets.Add(1)
		}
	}
}

func (r *loadRunner) submit(ctx context.Context, task xpool.Task) error {
	switch r.params.Strategy {
	case strategyPollFor:
		// 限制已入队但未完成的任务数，完成时通过 Notify 唤醒
		limit := int64(2 * r.pool.MaxTasks())
		pollCtx, cancel := context.WithTimeout(ctx, r.params.EnqueueTimeout)
		defer cancel()
		return r.pool.PollContext(pollCtx, func() bool { return r.inflight.Load() < limit }, task)
	case strategyWaitUntil:
		waitCtx, cancel := context.WithDeadline(ctx, time.Now().Add(r.params.EnqueueTimeout))
		defer cancel()
		return r.pool.WaitContext(waitCtx, task)
	default:
		return r.pool.WaitContext(ctx, task)
	}
}

func (r *loadRunner) work(id int) func() (int, error) {
	return func() (int, error) {
		defer func() {
			r.inflight.Add(-1)
			r.pool.Notify()
		}()
		r.observeDepth()
		if r.params.TaskDuration > 0 {
			time.Sleep(r.params.TaskDuration)
		}
		if r.params.FailEvery > 0 && id%r.params.FailEvery == 0 {
			return id, fmt.Errorf("task %d: %w", id, errSyntheticFailure)
		}
		return id, nil
	}
}

func (r *loadRunner) observeDepth() {
	n := int64(r.pool.Len())
	for {
		cur := r.maxDepth.Load()
		if n <= cur || r.maxDepth.CompareAndSwap(cur, n) {
			return
		}
	}
}
