package xpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const maxWorkers = 1 << 16 // 65536

// Stats 是 pool 运行状态的快照。
type Stats struct {
	Workers   int    // worker 数量
	MaxTasks  int    // 最大排队任务数，ThreadPool 为 0（不限制）
	Queued    int    // 当前排队任务数
	Active    int    // 正在执行的任务数
	Submitted uint64 // 成功入队的任务总数
	Completed uint64 // 成功完成的任务总数
	Failed    uint64 // 返回错误或 panic 的任务总数
	Rejected  uint64 // 未能入队的提交总数
	Resets    uint64 // 完成的 Reset 次数
	Stopped   bool   // 是否已开始关闭
}

// ThreadPool 是固定 worker 数量、无界 FIFO 队列的 worker pool。
//
// 所有 worker 共享一个由互斥锁保护的队列：生产者入队后唤醒一个空闲 worker，
// worker 取出任务后释放锁再执行，长任务不会阻塞提交或其他 worker。
// 所有公开方法都是并发安全的。
type ThreadPool struct {
	workers int
	opts    options
	logger  *slog.Logger
	inst    *instruments

	mu       sync.Mutex
	cond     *sync.Cond // 队列非空、pool 关闭或当前代 worker 退役
	progress signal     // 队列位置释放、任务完成、Reset 结束、关闭、Notify
	queue    taskQueue
	stopped  bool
	gen      uint64
	wg       *sync.WaitGroup // 当前代 worker
	active   int
	hookErrs []error

	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
	resets    uint64

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

// NewThreadPool 创建并启动包含 n 个 worker 的 ThreadPool。
//
// n 的有效范围为 [1, 65536]，超出范围返回 ErrInvalidWorkers。
// 返回前所有 worker 的 onEnter 钩子都已执行完毕。
func NewThreadPool(n int, opts ...Option) (*ThreadPool, error) {
	return newThreadPool(n, applyOptions(opts))
}

func newThreadPool(n int, o options) (*ThreadPool, error) {
	if n < 1 || n > maxWorkers {
		return nil, fmt.Errorf("%w: must be in [1, %d], got %d", ErrInvalidWorkers, maxWorkers, n)
	}

	logger := o.logger
	if o.name != "" {
		logger = logger.With(slog.String("pool", o.name))
	}

	p := &ThreadPool{
		workers: n,
		opts:    o,
		logger:  logger,
		wg:      new(sync.WaitGroup),
		done:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	inst, err := newInstruments(o, func() int64 { return int64(p.Len()) })
	if err != nil {
		return nil, err
	}
	p.inst = inst

	p.mu.Lock()
	ready := p.spawn(p.wg, p.gen)
	p.mu.Unlock()
	ready.Wait()
	return p, nil
}

// spawn 启动一代 worker，返回在所有 onEnter 钩子结束后归零的 WaitGroup。
// 调用方需持有锁。
func (p *ThreadPool) spawn(wg *sync.WaitGroup, gen uint64) *sync.WaitGroup {
	ready := new(sync.WaitGroup)
	ready.Add(p.workers)
	wg.Add(p.workers)
	for id := range p.workers {
		go p.worker(wg, ready, gen, id)
	}
	return ready
}

func (p *ThreadPool) worker(wg, ready *sync.WaitGroup, gen uint64, id int) {
	defer wg.Done()

	p.runHook("enter", p.opts.onEnter, id)
	ready.Done()
	defer p.runHook("exit", p.opts.onExit, id)

	for {
		task, ok := p.next(gen)
		if !ok {
			return
		}
		p.execute(task)
	}
}

// next 等待并取出下一个任务。
// 只有在队列为空且 pool 关闭（或本代 worker 退役）时才返回 false，
// 因此关闭前已入队的任务都会被执行。
func (p *ThreadPool) next(gen uint64) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.len() == 0 && !p.stopped && p.gen == gen {
		p.cond.Wait()
	}
	if p.queue.len() == 0 {
		return nil, false
	}
	task := p.queue.pop()
	p.active++
	// 取出任务即释放了一个队列位置，唤醒等待容量的生产者
	p.progress.broadcast()
	return task, true
}

func (p *ThreadPool) execute(task Task) {
	span := p.inst.startTask()
	start := time.Now()
	err := runTask(task)
	elapsed := time.Since(start)

	p.mu.Lock()
	p.active--
	invariant(p.active >= 0, "negative active task count")
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.progress.broadcast()
	p.mu.Unlock()

	status := statusOf(err)
	p.inst.endTask(span, status, elapsed, err)

	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		p.logPanic("xpool: task panic recovered", pe)
	case err != nil && !errors.Is(err, ErrTaskReused):
		p.logger.Debug("xpool: task failed", slog.Any("error", err))
	}
}

// runTask 执行任务并将未被 NewTask 捕获的 panic 转为 *PanicError。
func runTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task()
}

func (p *ThreadPool) runHook(kind string, hook func(), id int) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			p.mu.Lock()
			p.hookErrs = append(p.hookErrs, fmt.Errorf("on%s hook of worker %d: %w", kind, id, pe))
			p.mu.Unlock()
			p.logPanic("xpool: worker hook panic recovered", pe, slog.String("hook", kind), slog.Int("worker", id))
		}
	}()
	hook()
}

func (p *ThreadPool) logPanic(msg string, pe *PanicError, attrs ...slog.Attr) {
	// 默认只记录类型，避免敏感信息泄露
	if p.opts.logPanicValue {
		attrs = append(attrs, slog.Any("panic", pe.Value))
	} else {
		attrs = append(attrs, slog.String("panic_type", fmt.Sprintf("%T", pe.Value)))
	}
	attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	p.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Enqueue 将任务追加到队列尾部并唤醒一个空闲 worker。
// ThreadPool 没有容量限制，Enqueue 从不因容量阻塞。
// pool 已关闭时返回 ErrPoolStopped。
func (p *ThreadPool) Enqueue(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	return p.enqueue(noWait, task, 0)
}

// WaitToEnqueue 持有锁调用 w，w 成功返回后将任务入队。
//
// w 可以通过 Guard.Wait 等待任意条件（期间锁被暂时释放）。
// w 返回错误时任务不入队并返回该错误；pool 已关闭时返回 ErrPoolStopped。
// 这是 TaskPool 注入容量检查的扩展点，也可用于自定义准入策略。
func (p *ThreadPool) WaitToEnqueue(w Waiter, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if w == nil {
		return ErrNilWaiter
	}
	return p.enqueue(w, task, 0)
}

func noWait(*Guard) error { return nil }

// enqueue 是所有入队路径的公共实现。limit > 0 时在入队后断言队列长度不超过 limit。
func (p *ThreadPool) enqueue(w Waiter, task Task, limit int) error {
	start := time.Now()
	err := p.enqueueLocked(w, task, limit)
	p.inst.enqueued(time.Since(start), err)
	return err
}

func (p *ThreadPool) enqueueLocked(w Waiter, task Task, limit int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.rejected++
		return ErrPoolStopped
	}

	g := Guard{p: p, held: true}
	err := w(&g)
	g.held = false
	if err != nil {
		p.rejected++
		return err
	}
	if p.stopped {
		p.rejected++
		return ErrPoolStopped
	}

	p.queue.push(task)
	if limit > 0 {
		invariant(p.queue.len() <= limit, "queue length exceeds max tasks")
	}
	p.submitted++
	p.cond.Signal()
	return nil
}

// Len 返回当前排队（尚未被 worker 取出）的任务数。
func (p *ThreadPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// Workers 返回 worker 数量。
func (p *ThreadPool) Workers() int {
	return p.workers
}

// Stats 返回当前运行状态快照。
func (p *ThreadPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Queued:    p.queue.len(),
		Active:    p.active,
		Submitted: p.submitted,
		Completed: p.completed,
		Failed:    p.failed,
		Rejected:  p.rejected,
		Resets:    p.resets,
		Stopped:   p.stopped,
	}
}

// Notify 唤醒所有在 Guard.Wait 中等待的生产者。
// 当 Waiter/poller 依赖的外部条件发生变化时调用。
func (p *ThreadPool) Notify() {
	p.mu.Lock()
	p.progress.broadcast()
	p.mu.Unlock()
}

// WaitIdle 阻塞直到队列为空且没有正在执行的任务，或 ctx 结束。
// 不阻止新的提交；返回后 pool 可能立即再次变忙。
func (p *ThreadPool) WaitIdle(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.len() > 0 || p.active > 0 {
		if err := p.progress.wait(ctx, &p.mu); err != nil {
			return err
		}
	}
	return nil
}

// restart 退役当前代 worker 并启动新一代（相同数量、相同钩子）。
// 退役的 worker 会先处理完队列中的剩余任务再退出。
func (p *ThreadPool) restart() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.gen++
	old := p.wg
	p.cond.Broadcast()
	p.mu.Unlock()

	old.Wait()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	wg := new(sync.WaitGroup)
	p.wg = wg
	ready := p.spawn(wg, p.gen)
	p.resets++
	p.mu.Unlock()

	ready.Wait()
	return nil
}

// Shutdown 关闭 pool：拒绝新提交，唤醒所有 worker 和等待中的生产者，
// 等待 worker 处理完队列中的剩余任务后退出。
//
// ctx 到期时立即返回 ctx.Err()，剩余 worker 在后台继续运行直到队列耗尽，
// 可通过 Done() 等待其最终完成。worker 钩子 panic 会以 ErrHookFailed 汇总返回。
// Shutdown 可重复调用，后续调用等待同一次关闭完成。
//
// 不可在任务或钩子内部调用 Shutdown/Close，否则会死锁。
func (p *ThreadPool) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	p.closeOnce.Do(p.stop)
	select {
	case <-p.done:
		return p.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 等价于 Shutdown(context.Background())。
func (p *ThreadPool) Close() error {
	return p.Shutdown(context.Background())
}

// Done 返回所有 worker 退出后关闭的 channel。
func (p *ThreadPool) Done() <-chan struct{} {
	return p.done
}

func (p *ThreadPool) stop() {
	p.mu.Lock()
	invariant(!p.stopped, "stop flag already set")
	p.stopped = true
	wg := p.wg
	p.cond.Broadcast()
	p.progress.broadcast()
	p.mu.Unlock()

	p.logger.Debug("xpool: shutting down", slog.Int("workers", p.workers))

	go func() {
		wg.Wait()

		p.mu.Lock()
		errs := p.hookErrs
		p.mu.Unlock()
		if len(errs) > 0 {
			p.closeErr = fmt.Errorf("%w: %w", ErrHookFailed, errors.Join(errs...))
		}
		p.inst.close()
		close(p.done)
	}()
}

// 编译期接口检查。
var (
	_ Enqueuer  = (*ThreadPool)(nil)
	_ io.Closer = (*ThreadPool)(nil)
)
