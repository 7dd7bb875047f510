package xpool

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkers 表示 worker 数量无效。
	ErrInvalidWorkers = errors.New("xpool: invalid worker count")

	// ErrNilTask 表示提交的任务为 nil。
	ErrNilTask = errors.New("xpool: task cannot be nil")

	// ErrNilWaiter 表示 WaitToEnqueue 的 waiter 为 nil。
	ErrNilWaiter = errors.New("xpool: waiter cannot be nil")

	// ErrNilPoller 表示 Poll 系列方法的 poller 为 nil。
	ErrNilPoller = errors.New("xpool: poller cannot be nil")

	// ErrNilContext 表示 context 参数为 nil。
	ErrNilContext = errors.New("xpool: nil context")

	// ErrPoolStopped 表示 pool 已关闭，无法提交任务或重置。
	ErrPoolStopped = errors.New("xpool: pool is stopped")

	// ErrNotEnqueued 表示等待入队失败（超时、取消或 pool 关闭），任务未进入队列。
	// 通常与 context.DeadlineExceeded / context.Canceled / ErrPoolStopped 一起包装返回。
	ErrNotEnqueued = errors.New("xpool: task not enqueued")

	// ErrTaskPanicked 表示任务执行时发生 panic。
	// 通过 Future 获取结果时返回 *PanicError，可用 errors.Is 匹配本错误。
	ErrTaskPanicked = errors.New("xpool: task panicked")

	// ErrTaskReused 表示同一个 Task 被执行了不止一次，重复执行被忽略。
	ErrTaskReused = errors.New("xpool: task already executed")

	// ErrHookFailed 表示 worker 的 onEnter/onExit 钩子发生 panic。
	// 由 Shutdown/Close 汇总返回，不影响关闭流程本身。
	ErrHookFailed = errors.New("xpool: worker hook failed")
)

// PanicError 记录任务 panic 的值和堆栈。
type PanicError struct {
	// Value 是 recover() 返回的原始值。
	Value any
	// Stack 是 panic 发生时的 goroutine 堆栈。
	Stack []byte
}

// Error 实现 error 接口。
func (e *PanicError) Error() string {
	return fmt.Sprintf("xpool: task panicked: %v", e.Value)
}

// Unwrap 使 errors.Is(err, ErrTaskPanicked) 成立。
// 若 panic 值本身是 error，也可通过 errors.Is/As 匹配到它。
func (e *PanicError) Unwrap() []error {
	if err, ok := e.Value.(error); ok {
		return []error{ErrTaskPanicked, err}
	}
	return []error{ErrTaskPanicked}
}

// notEnqueued 将等待失败的原因包装为 ErrNotEnqueued。
func notEnqueued(cause error) error {
	return fmt.Errorf("%w: %w", ErrNotEnqueued, cause)
}

// invariant 在内部不变量被破坏时 panic。
// 这类错误只可能源于实现缺陷，不作为运行时错误返回。
func invariant(ok bool, msg string) {
	if !ok {
		panic("xpool: invariant violated: " + msg)
	}
}
