package xpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThreadPool_InvalidWorkers(t *testing.T) {
	for _, n := range []int{0, -1, maxWorkers + 1} {
		p, err := NewThreadPool(n)
		assert.ErrorIs(t, err, ErrInvalidWorkers, "n=%d", n)
		assert.Nil(t, p)
	}
}

func TestThreadPool_Basic(t *testing.T) {
	p := newTestThreadPool(t, 4)
	assert.Equal(t, 4, p.Workers())

	var processed atomic.Int32
	for range 100 {
		require.NoError(t, p.Enqueue(func() error {
			processed.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.WaitIdle(context.Background()))
	assert.Equal(t, int32(100), processed.Load())

	s := p.Stats()
	assert.Equal(t, uint64(100), s.Submitted)
	assert.Equal(t, uint64(100), s.Completed)
	assert.Zero(t, s.Queued)
	assert.Zero(t, s.Active)
	assert.Zero(t, s.MaxTasks)
}

func TestThreadPool_FIFOSingleWorker(t *testing.T) {
	p := newTestThreadPool(t, 1)
	g := newGate()
	require.NoError(t, p.Enqueue(g.task()))
	g.waitStarted(t)

	var (
		mu    sync.Mutex
		order []int
	)
	for i := range 50 {
		require.NoError(t, p.Enqueue(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	assert.Equal(t, 50, p.Len())
	g.open()
	require.NoError(t, p.Close())

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadPool_NilArguments(t *testing.T) {
	p := newTestThreadPool(t, 1)
	assert.ErrorIs(t, p.Enqueue(nil), ErrNilTask)
	assert.ErrorIs(t, p.WaitToEnqueue(nil, noop), ErrNilWaiter)
	assert.ErrorIs(t, p.WaitToEnqueue(noWait, nil), ErrNilTask)
	//nolint:staticcheck // 测试 nil context
	assert.ErrorIs(t, p.Shutdown(nil), ErrNilContext)
	//nolint:staticcheck // 测试 nil context
	assert.ErrorIs(t, p.WaitIdle(nil), ErrNilContext)
}

func TestThreadPool_CloseIdleDoesNotBlock(t *testing.T) {
	p, err := NewThreadPool(8, WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Shutdown returned")
	}
}

func TestThreadPool_CloseIdempotent(t *testing.T) {
	p := newTestThreadPool(t, 2)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, p.Shutdown(context.Background()))

	assert.ErrorIs(t, p.Enqueue(noop), ErrPoolStopped)
	assert.True(t, p.Stats().Stopped)
	assert.Equal(t, uint64(1), p.Stats().Rejected)
}

func TestThreadPool_CloseDrainsQueue(t *testing.T) {
	p := newTestThreadPool(t, 1)
	g := newGate()
	require.NoError(t, p.Enqueue(g.task()))
	g.waitStarted(t)

	futs := make([]*Future[int], 0, 10)
	for i := range 10 {
		fut, err := Submit(p, func() (int, error) { return i, nil })
		require.NoError(t, err)
		futs = append(futs, fut)
	}

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	// Close 之后提交被拒绝，已入队的任务仍会执行
	require.Eventually(t, func() bool { return p.Stats().Stopped }, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, p.Enqueue(noop), ErrPoolStopped)

	g.open()
	require.NoError(t, <-closed)
	for i, fut := range futs {
		v, err := fut.Get()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestThreadPool_ShutdownTimeout(t *testing.T) {
	p := newTestThreadPool(t, 1)
	g := newGate()
	require.NoError(t, p.Enqueue(g.task()))
	g.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-p.Done():
		t.Fatal("Done should not be closed while a task is running")
	default:
	}

	g.open()
	<-p.Done()
	require.NoError(t, p.Close())
}

func TestThreadPool_Hooks(t *testing.T) {
	const n = 6
	var entered, exited atomic.Int32
	p := newTestThreadPool(t, n,
		WithOnEnter(func() { entered.Add(1) }),
		WithOnExit(func() { exited.Add(1) }),
	)

	// 构造返回前所有 onEnter 已执行
	assert.Equal(t, int32(n), entered.Load())
	assert.Zero(t, exited.Load())

	// 任务观察到的计数一定是 n
	fut, err := Submit(p, func() (int32, error) { return entered.Load(), nil })
	require.NoError(t, err)
	v, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(n), v)

	require.NoError(t, p.Close())
	assert.Equal(t, int32(n), exited.Load())
}

func TestThreadPool_HookPanic(t *testing.T) {
	p, err := NewThreadPool(2,
		WithLogger(discardLogger()),
		WithOnEnter(func() { panic("enter failed") }),
		WithOnExit(func() { panic(errors.New("exit failed")) }),
	)
	require.NoError(t, err)

	// 钩子 panic 不影响 worker 处理任务
	fut, err := Submit(p, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = fut.Get()
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHookFailed)
	assert.ErrorIs(t, err, ErrTaskPanicked)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)

	// 再次关闭返回同样的结果
	assert.ErrorIs(t, p.Close(), ErrHookFailed)
}

func TestThreadPool_TaskPanicDoesNotKillWorker(t *testing.T) {
	p := newTestThreadPool(t, 1, WithLogPanicValue())

	require.NoError(t, p.Enqueue(func() error { panic("raw panic") }))
	fut, err := Submit(p, func() (string, error) { panic("wrapped panic") })
	require.NoError(t, err)
	ok, err := Submit(p, func() (string, error) { return "still alive", nil })
	require.NoError(t, err)

	_, err = fut.Get()
	assert.ErrorIs(t, err, ErrTaskPanicked)
	v, err := ok.Get()
	require.NoError(t, err)
	assert.Equal(t, "still alive", v)

	require.NoError(t, p.WaitIdle(context.Background()))
	s := p.Stats()
	assert.Equal(t, uint64(2), s.Failed)
	assert.Equal(t, uint64(1), s.Completed)
}

func TestThreadPool_WaitToEnqueueWaiterError(t *testing.T) {
	p := newTestThreadPool(t, 1)
	errDenied := errors.New("denied")

	ran := false
	err := p.WaitToEnqueue(func(*Guard) error { return errDenied }, func() error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, errDenied)
	require.NoError(t, p.Close())
	assert.False(t, ran)
	assert.Equal(t, uint64(1), p.Stats().Rejected)
	assert.Zero(t, p.Stats().Submitted)
}

func TestThreadPool_WaitToEnqueueNotify(t *testing.T) {
	p := newTestThreadPool(t, 1)
	var open atomic.Bool
	var waiting atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- p.WaitToEnqueue(func(g *Guard) error {
			for !open.Load() {
				waiting.Store(true)
				if err := g.Wait(context.Background()); err != nil {
					return err
				}
			}
			return nil
		}, noop)
	}()

	require.Eventually(t, waiting.Load, 5*time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("WaitToEnqueue returned before the condition was met")
	case <-time.After(20 * time.Millisecond):
	}

	open.Store(true)
	p.Notify()
	require.NoError(t, <-done)
	require.NoError(t, p.WaitIdle(context.Background()))
	assert.Equal(t, uint64(1), p.Stats().Completed)
}

func TestThreadPool_CloseWakesWaiters(t *testing.T) {
	p := newTestThreadPool(t, 1)
	var waiting atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- p.WaitToEnqueue(func(g *Guard) error {
			for {
				waiting.Store(true)
				if err := g.Wait(context.Background()); err != nil {
					return err
				}
			}
		}, noop)
	}()

	require.Eventually(t, waiting.Load, 5*time.Second, time.Millisecond)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, <-done, ErrPoolStopped)
}

func TestThreadPool_GuardOutsideWaiter(t *testing.T) {
	p := newTestThreadPool(t, 1)
	var leaked *Guard
	require.NoError(t, p.WaitToEnqueue(func(g *Guard) error {
		leaked = g
		assert.False(t, g.Stopped())
		assert.Equal(t, 0, g.Len())
		return nil
	}, noop))

	assert.PanicsWithValue(t, "xpool: guard used outside its waiter", func() { leaked.Len() })
	assert.Panics(t, func() { _ = leaked.Wait(context.Background()) })
}

func TestThreadPool_GuardWaitNilContext(t *testing.T) {
	p := newTestThreadPool(t, 1)
	err := p.WaitToEnqueue(func(g *Guard) error {
		//nolint:staticcheck // 测试 nil context
		return g.Wait(nil)
	}, noop)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestThreadPool_WaitIdleContext(t *testing.T) {
	p := newTestThreadPool(t, 1)
	g := newGate()
	require.NoError(t, p.Enqueue(g.task()))
	g.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.WaitIdle(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, p.Stats().Active)

	g.open()
	require.NoError(t, p.WaitIdle(context.Background()))
}

func TestThreadPool_ConcurrentProducers(t *testing.T) {
	p := newTestThreadPool(t, 4)
	var processed atomic.Int64

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 200 {
				assert.NoError(t, p.Enqueue(func() error {
					processed.Add(1)
					return nil
				}))
			}
		})
	}
	wg.Wait()
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1600), processed.Load())
}

func TestThreadPool_Restart(t *testing.T) {
	var entered atomic.Int32
	p := newTestThreadPool(t, 3, WithOnEnter(func() { entered.Add(1) }))

	require.NoError(t, p.restart())
	assert.Equal(t, int32(6), entered.Load())
	assert.Equal(t, uint64(1), p.Stats().Resets)

	fut, err := Submit(p, func() (bool, error) { return true, nil })
	require.NoError(t, err)
	v, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.restart(), ErrPoolStopped)
}
