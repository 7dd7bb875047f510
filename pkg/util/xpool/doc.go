// Package xpool 提供固定 worker 数量的任务池，以及带容量上限、支持背压的任务池。
//
// 两种 pool：
//   - ThreadPool：N 个 worker 共享一个无界 FIFO 队列，Enqueue 从不因容量阻塞
//   - TaskPool：在 ThreadPool 之上限制排队任务数（MaxTasks），队列满时生产者阻塞，
//     提供 Wait/Poll 两族等待策略，支持超时、取消和 Reset
//
// 任务通过 NewTask/NewAction/Submit 打包，结果经 Future 返回：
//
//	task, fut := xpool.NewTask(func() (int, error) { return compute(x) })
//	if err := pool.WaitFor(time.Second, task); err != nil {
//		// errors.Is(err, xpool.ErrNotEnqueued)：任务没有入队，fut 永远不会完成
//	}
//	v, err := fut.Get()
//
// # 等待策略
//
// TaskPool 的所有等待都在 pool 的进度信号上进行。以下时机会广播该信号：
// worker 取出任务、任务执行完成、Reset 结束、pool 关闭、调用 Notify。
//
//   - Wait/WaitContext/WaitFor/WaitUntil：等到队列有空位
//   - Poll/PollContext/PollFor/PollUntil：等到 poller() 为 true 且队列有空位。
//     poller 在持锁状态下调用，外部条件变化后需调用 Notify
//   - WaitToEnqueue：自定义 Waiter，通过 Guard.Wait 等待
//
// 超时或取消时任务一定不会入队，返回的错误同时匹配 ErrNotEnqueued 和
// context.DeadlineExceeded（或 context.Canceled）。条件在截止时间前已成立时
// 照常入队。
//
// # 关闭
//
// Close 等价于 Shutdown(context.Background())。关闭后新的提交返回 ErrPoolStopped，
// 阻塞中的生产者被唤醒并返回 ErrPoolStopped。worker 会先执行完已入队的任务再退出，
// 因此已入队任务的 Future 一定会完成。Shutdown(ctx) 超时后，可通过 Done() 等待
// worker 最终退出。
//
// worker 钩子（WithOnEnter/WithOnExit）的 panic 被恢复并记录日志，
// 最终由 Shutdown/Close 以 ErrHookFailed 汇总返回。
//
// # 注意事项
//
//   - Close/Shutdown/Reset 不可在任务或钩子内调用，否则会死锁
//   - Waiter 和 poller 持锁运行，不可调用同一 pool 的方法
//   - 任务 panic 不会影响 worker；panic 日志默认仅记录值的类型，
//     可通过 WithLogPanicValue() 记录完整值
//   - 指标和 span 通过 OpenTelemetry 上报（WithMeterProvider/WithTracerProvider），
//     默认使用全局 Provider
package xpool
