package xpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// TaskPool 是带容量上限的 worker pool：排队任务数永远不超过 MaxTasks。
//
// 队列已满时，生产者按所选策略阻塞：Wait 系列一直等到有空位，
// Poll 系列额外要求调用方的 poller 条件成立，并可设置超时。
// 超时或取消时任务不会入队，返回的错误同时满足
// errors.Is(err, ErrNotEnqueued) 和 errors.Is(err, ctx.Err())。
type TaskPool struct {
	pool     *ThreadPool
	maxTasks int
	resetSem chan struct{}

	resetting bool // 由 pool.mu 保护
}

// NewTaskPool 创建包含 max(n, 1) 个 worker 的 TaskPool。
// 最大排队任务数默认等于 worker 数，可通过 WithMaxTasks 修改。
func NewTaskPool(n int, opts ...Option) (*TaskPool, error) {
	n = max(n, 1)
	o := applyOptions(opts)
	maxTasks := o.maxTasks
	if maxTasks < 1 {
		maxTasks = n
	}

	pool, err := newThreadPool(n, o)
	if err != nil {
		return nil, err
	}
	return &TaskPool{
		pool:     pool,
		maxTasks: maxTasks,
		resetSem: make(chan struct{}, 1),
	}, nil
}

// MaxTasks 返回最大排队任务数。
func (t *TaskPool) MaxTasks() int {
	return t.maxTasks
}

// CanEnqueue 报告当前是否可以入队：队列未满且没有进行中的 Reset。
// 只能在 Waiter 内使用本 pool 的 Guard 调用。
func (t *TaskPool) CanEnqueue(g *Guard) bool {
	g.mustHeld()
	if g.p != t.pool {
		panic("xpool: guard belongs to another pool")
	}
	return g.p.queue.len() < t.maxTasks && !t.resetting
}

// WaitToEnqueue 在 CanEnqueue 为 false 时反复调用 w，直到有空位后入队。
//
// w 应通过 Guard.Wait 等待；不等待就返回 nil 的 w 会在持锁状态下忙等。
// w 返回错误时任务不入队并返回该错误；pool 关闭时返回 ErrPoolStopped。
func (t *TaskPool) WaitToEnqueue(w Waiter, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if w == nil {
		return ErrNilWaiter
	}
	return t.pool.enqueue(func(g *Guard) error {
		for !t.CanEnqueue(g) {
			if g.Stopped() {
				return ErrPoolStopped
			}
			if err := w(g); err != nil {
				return err
			}
		}
		return nil
	}, task, t.maxTasks)
}

// Poll 等待 poller() 为 true 且队列有空位后入队，没有超时。
// poller 在持有 pool 锁时被调用，不得调用本 pool 的任何方法。
// 外部条件变化后应调用 Notify 唤醒等待者。
func (t *TaskPool) Poll(poller func() bool, task Task) error {
	return t.PollContext(context.Background(), poller, task)
}

// PollFor 同 Poll，最多等待 d。
func (t *TaskPool) PollFor(poller func() bool, d time.Duration, task Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.PollContext(ctx, poller, task)
}

// PollUntil 同 Poll，最多等待到 deadline。
func (t *TaskPool) PollUntil(poller func() bool, deadline time.Time, task Task) error {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return t.PollContext(ctx, poller, task)
}

// PollContext 同 Poll，等待直到 ctx 结束。
//
// 条件已经成立时直接入队，即使 ctx 已过期。等待失败后会再检查一次条件，
// 成立则照常入队；否则任务不入队，返回的错误包装了 ErrNotEnqueued 和失败原因
// （ctx.Err() 或 ErrPoolStopped）。
func (t *TaskPool) PollContext(ctx context.Context, poller func() bool, task Task) error {
	switch {
	case ctx == nil:
		return ErrNilContext
	case poller == nil:
		return ErrNilPoller
	case task == nil:
		return ErrNilTask
	}

	ready := func(g *Guard) bool { return poller() && t.CanEnqueue(g) }
	err := t.pool.enqueue(func(g *Guard) error {
		for !ready(g) {
			if err := g.Wait(ctx); err != nil {
				if !errors.Is(err, ErrPoolStopped) && ready(g) {
					return nil
				}
				return err
			}
		}
		return nil
	}, task, t.maxTasks)
	if err != nil {
		return notEnqueued(err)
	}
	return nil
}

func always() bool { return true }

// Wait 阻塞直到队列有空位后入队。
func (t *TaskPool) Wait(task Task) error {
	return t.PollContext(context.Background(), always, task)
}

// WaitContext 同 Wait，等待直到 ctx 结束。
func (t *TaskPool) WaitContext(ctx context.Context, task Task) error {
	return t.PollContext(ctx, always, task)
}

// WaitFor 同 Wait，最多等待 d。
func (t *TaskPool) WaitFor(d time.Duration, task Task) error {
	return t.PollFor(always, d, task)
}

// WaitUntil 同 Wait，最多等待到 deadline。
func (t *TaskPool) WaitUntil(deadline time.Time, task Task) error {
	return t.PollUntil(always, deadline, task)
}

// Enqueue 等价于 Wait，使 TaskPool 满足 Enqueuer。
func (t *TaskPool) Enqueue(task Task) error {
	return t.Wait(task)
}

// Reset 等待队列清空、执行中的任务完成，然后用同样数量、同样钩子的
// 新一代 worker 替换现有 worker。
//
// Reset 期间新的提交会阻塞，在 Reset 结束后继续入队。多个 Reset 串行执行。
// ctx 在排空阶段结束时放弃本次 Reset（worker 不变）并返回 ctx.Err()。
// pool 已关闭时返回 ErrPoolStopped。
func (t *TaskPool) Reset(ctx context.Context) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	select {
	case t.resetSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.resetSem }()

	p := t.pool
	span := p.inst.startReset()
	defer func() { p.inst.endReset(span, err) }()

	if err = t.drain(ctx); err != nil {
		return err
	}

	p.logger.Info("xpool: resetting workers", slog.Int("workers", p.workers))
	err = p.restart()

	p.mu.Lock()
	t.resetting = false
	p.progress.broadcast()
	p.mu.Unlock()

	if err == nil {
		p.logger.Info("xpool: workers reset", slog.Int("workers", p.workers))
	}
	return err
}

// drain 设置 resetting 并等待队列清空、所有任务完成。
// 失败时清除 resetting 并唤醒被阻塞的生产者。
func (t *TaskPool) drain(ctx context.Context) error {
	p := t.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	t.resetting = true
	for p.queue.len() > 0 || p.active > 0 {
		err := p.progress.wait(ctx, &p.mu)
		if err == nil && p.stopped {
			err = ErrPoolStopped
		}
		if err != nil {
			t.resetting = false
			p.progress.broadcast()
			return err
		}
	}
	return nil
}

// Len 返回当前排队任务数。
func (t *TaskPool) Len() int { return t.pool.Len() }

// Workers 返回 worker 数量。
func (t *TaskPool) Workers() int { return t.pool.Workers() }

// Stats 返回当前运行状态快照。
func (t *TaskPool) Stats() Stats {
	s := t.pool.Stats()
	s.MaxTasks = t.maxTasks
	return s
}

// Notify 唤醒所有等待中的生产者，用于 poller 依赖的外部条件发生变化时。
func (t *TaskPool) Notify() { t.pool.Notify() }

// WaitIdle 阻塞直到队列为空且没有正在执行的任务，或 ctx 结束。
func (t *TaskPool) WaitIdle(ctx context.Context) error { return t.pool.WaitIdle(ctx) }

// Shutdown 关闭 pool，语义同 ThreadPool.Shutdown。
func (t *TaskPool) Shutdown(ctx context.Context) error { return t.pool.Shutdown(ctx) }

// Close 等价于 Shutdown(context.Background())。
func (t *TaskPool) Close() error { return t.pool.Close() }

// Done 返回所有 worker 退出后关闭的 channel。
func (t *TaskPool) Done() <-chan struct{} { return t.pool.Done() }

var (
	_ Enqueuer  = (*TaskPool)(nil)
	_ io.Closer = (*TaskPool)(nil)
)
