package xpool

import "context"

// Waiter 在持有 pool 锁的情况下被调用，用于在入队前等待某个条件。
//
// Waiter 只能通过 Guard.Wait 暂时释放锁；Guard.Wait 返回时总是已重新持有锁，
// 因此 Waiter 返回时必然仍持有锁。锁不可重入：Waiter 内不得调用同一个 pool
// 的任何加锁方法（Enqueue、Len、Stats 等），否则会死锁。
//
// Waiter 返回非 nil 错误时任务不会入队，该错误原样返回给调用方。
type Waiter func(g *Guard) error

// Guard 表示调用方当前持有的 pool 锁，仅在 Waiter 执行期间有效。
// Waiter 返回后继续使用 Guard 会 panic。
type Guard struct {
	p    *ThreadPool
	held bool
}

func (g *Guard) mustHeld() {
	if !g.held {
		panic("xpool: guard used outside its waiter")
	}
}

// Len 返回当前队列长度（不加锁，调用方已持有锁）。
func (g *Guard) Len() int {
	g.mustHeld()
	return g.p.queue.len()
}

// Stopped 报告 pool 是否已开始关闭。
func (g *Guard) Stopped() bool {
	g.mustHeld()
	return g.p.stopped
}

// Wait 释放锁并等待 pool 的进度信号，返回前重新持有锁。
//
// 进度信号在以下时机广播：worker 取出任务（释放一个队列位置）、任务执行完成、
// Reset 结束、pool 关闭、调用 Notify。可能发生虚假唤醒，调用方需在循环中
// 重新检查条件。ctx 结束时返回 ctx.Err()；pool 已关闭时返回 ErrPoolStopped。
func (g *Guard) Wait(ctx context.Context) error {
	g.mustHeld()
	if ctx == nil {
		return ErrNilContext
	}
	if g.p.stopped {
		return ErrPoolStopped
	}
	if err := g.p.progress.wait(ctx, &g.p.mu); err != nil {
		return err
	}
	if g.p.stopped {
		return ErrPoolStopped
	}
	return nil
}
