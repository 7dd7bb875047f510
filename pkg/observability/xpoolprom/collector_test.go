package xpoolprom

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xworker/pkg/util/xpool"
)

type fixedSource xpool.Stats

func (f fixedSource) Stats() xpool.Stats { return xpool.Stats(f) }

func TestNewCollector_NilSource(t *testing.T) {
	c, err := NewCollector(nil)
	assert.ErrorIs(t, err, ErrNilSource)
	assert.Nil(t, c)
}

func TestCollector_Collect(t *testing.T) {
	src := fixedSource{
		Workers:   4,
		MaxTasks:  8,
		Queued:    3,
		Active:    2,
		Submitted: 10,
		Completed: 6,
		Failed:    1,
		Rejected:  5,
		Resets:    1,
		Stopped:   true,
	}
	c, err := NewCollector(src, WithConstLabels(prometheus.Labels{"pool": "test"}))
	require.NoError(t, err)

	expected := `
# HELP xpool_active_tasks Current number of tasks being executed.
# TYPE xpool_active_tasks gauge
xpool_active_tasks{pool="test"} 2
# HELP xpool_max_tasks Maximum number of queued tasks, 0 if unbounded.
# TYPE xpool_max_tasks gauge
xpool_max_tasks{pool="test"} 8
# HELP xpool_queue_depth Current number of tasks waiting in the queue.
# TYPE xpool_queue_depth gauge
xpool_queue_depth{pool="test"} 3
# HELP xpool_resets_total Total number of completed worker resets.
# TYPE xpool_resets_total counter
xpool_resets_total{pool="test"} 1
# HELP xpool_stopped 1 if the pool has been shut down.
# TYPE xpool_stopped gauge
xpool_stopped{pool="test"} 1
# HELP xpool_tasks_completed_total Total number of tasks that completed successfully.
# TYPE xpool_tasks_completed_total counter
xpool_tasks_completed_total{pool="test"} 6
# HELP xpool_tasks_failed_total Total number of tasks that returned an error or panicked.
# TYPE xpool_tasks_failed_total counter
xpool_tasks_failed_total{pool="test"} 1
# HELP xpool_tasks_rejected_total Total number of submissions that were not enqueued.
# TYPE xpool_tasks_rejected_total counter
xpool_tasks_rejected_total{pool="test"} 5
# HELP xpool_tasks_submitted_total Total number of tasks accepted into the queue.
# TYPE xpool_tasks_submitted_total counter
xpool_tasks_submitted_total{pool="test"} 10
# HELP xpool_workers Number of worker goroutines in the pool.
# TYPE xpool_workers gauge
xpool_workers{pool="test"} 4
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollector_Namespace(t *testing.T) {
	c, err := NewCollector(fixedSource{Workers: 1}, WithNamespace("ingest"), WithNamespace(""))
	require.NoError(t, err)

	assert.Equal(t, 10, testutil.CollectAndCount(c))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "ingest_workers"))
	assert.Zero(t, testutil.CollectAndCount(c, "xpool_workers"))
}

func TestCollector_LivePool(t *testing.T) {
	pool, err := xpool.NewTaskPool(2, xpool.WithMaxTasks(4))
	require.NoError(t, err)

	c, err := NewCollector(pool)
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	for range 5 {
		require.NoError(t, pool.Wait(func() error { return nil }))
	}
	require.NoError(t, pool.WaitIdle(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 10)

	assert.InDelta(t, 5, testutil.ToFloat64(onlyMetric(t, c, "xpool_tasks_completed_total")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(onlyMetric(t, c, "xpool_max_tasks")), 0)

	require.NoError(t, pool.Close())
	assert.InDelta(t, 1, testutil.ToFloat64(onlyMetric(t, c, "xpool_stopped")), 0)
}

// onlyMetric 返回只导出名为 name 的指标的 Collector，供 testutil.ToFloat64 使用。
func onlyMetric(t *testing.T, c *Collector, name string) prometheus.Collector {
	t.Helper()
	return filterCollector{c: c, name: name}
}

type filterCollector struct {
	c    *Collector
	name string
}

func (f filterCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(f, ch)
}

func (f filterCollector) Collect(ch chan<- prometheus.Metric) {
	all := make(chan prometheus.Metric, 16)
	f.c.Collect(all)
	close(all)
	for m := range all {
		if strings.Contains(m.Desc().String(), `fqName: "`+f.name+`"`) {
			ch <- m
		}
	}
}
