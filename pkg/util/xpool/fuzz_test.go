package xpool

import (
	"math"
	"testing"
	"time"
)

func FuzzNewTaskPool(f *testing.F) {
	f.Add(1, 1)
	f.Add(0, 0)
	f.Add(-1, -1)
	f.Add(16, 3)
	f.Add(math.MaxInt, 1) // 极端 workers
	f.Add(1, math.MaxInt) // 极端 maxTasks
	f.Add(maxWorkers+1, 1)
	f.Add(math.MinInt, math.MinInt)

	f.Fuzz(func(t *testing.T, workers, maxTasks int) {
		// 避免 fuzz 时创建过多 goroutine
		if workers > 64 && workers <= maxWorkers {
			workers = 64
		}
		p, err := NewTaskPool(workers, WithMaxTasks(maxTasks), WithLogger(discardLogger()))
		if err != nil {
			// 参数无效时应返回错误而非 panic
			return
		}
		defer p.Close()

		if p.MaxTasks() < 1 || p.Workers() < 1 {
			t.Fatalf("invalid pool: workers=%d maxTasks=%d", p.Workers(), p.MaxTasks())
		}
		for range 10 {
			_ = p.WaitFor(time.Millisecond, noop)
		}
		if l := p.Len(); l > p.MaxTasks() {
			t.Fatalf("queue length %d exceeds max tasks %d", l, p.MaxTasks())
		}
	})
}
