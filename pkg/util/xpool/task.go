package xpool

import (
	"context"
	"runtime/debug"
	"sync/atomic"
)

// Task 是进入队列的最小执行单元。
// 返回的 error 仅用于 pool 的日志和指标统计；任务结果通过 Future 传递。
type Task func() error

// Enqueuer 是可以无条件提交 Task 的 pool。
// ThreadPool.Enqueue 立即入队；TaskPool.Enqueue 阻塞等待队列容量。
type Enqueuer interface {
	Enqueue(task Task) error
}

// Future 是任务结果的一次性句柄。
// 结果由执行任务的 worker 写入恰好一次，调用方可以阻塞读取任意多次。
// 放弃 Future 是安全的：任务仍会执行，结果被丢弃。
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve 写入结果并唤醒所有读取者。只能调用一次。
func (f *Future[T]) resolve(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Get 阻塞直到结果可用，返回任务的返回值和错误。
// 任务 panic 时返回 *PanicError。
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.val, f.err
}

// GetContext 阻塞直到结果可用或 ctx 结束。
// ctx 先结束时返回 ctx.Err()，Future 本身不受影响，之后仍可再次读取。
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	var zero T
	if ctx == nil {
		return zero, ErrNilContext
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Done 返回结果就绪时关闭的 channel，便于在 select 中使用。
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready 报告结果是否已就绪（非阻塞）。
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// NewTask 将 fn 打包为 Task，并返回与之一一对应的 Future。
// 参数通过闭包绑定。Task 只会执行 fn 一次，重复调用返回 ErrTaskReused。
// fn 为 nil 时返回 nil Task（入队会得到 ErrNilTask），Future 立即以 ErrNilTask 完成。
func NewTask[T any](fn func() (T, error)) (Task, *Future[T]) {
	fut := newFuture[T]()
	if fn == nil {
		var zero T
		fut.resolve(zero, ErrNilTask)
		return nil, fut
	}
	var ran atomic.Bool
	task := func() (err error) {
		if !ran.CompareAndSwap(false, true) {
			return ErrTaskReused
		}
		var val T
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
			fut.resolve(val, err)
		}()
		val, err = fn()
		return err
	}
	return task, fut
}

// NewAction 是 NewTask 的无返回值形式。
func NewAction(fn func()) (Task, *Future[struct{}]) {
	if fn == nil {
		return NewTask[struct{}](nil)
	}
	return NewTask(func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
}

// Submit 打包 fn 并通过 p.Enqueue 提交，返回结果句柄。
// 入队失败时返回 nil Future 和错误，fn 不会执行。
func Submit[T any](p Enqueuer, fn func() (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	task, fut := NewTask(fn)
	if err := p.Enqueue(task); err != nil {
		return nil, err
	}
	return fut, nil
}
