package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xworker/pkg/config/xpoolconf"
	"github.com/omeyang/xworker/pkg/util/xpool"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestPool(t *testing.T, n int, opts ...xpool.Option) *xpool.TaskPool {
	t.Helper()
	pool, err := xpool.NewTaskPool(n, append([]xpool.Option{xpool.WithLogger(discard)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestLoadParams_Validate(t *testing.T) {
	valid := loadParams{Tasks: 10, Producers: 1, Strategy: strategyWait}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		mutate func(*loadParams)
	}{
		{"negative_tasks", func(p *loadParams) { p.Tasks = -1 }},
		{"no_producers", func(p *loadParams) { p.Producers = 0 }},
		{"negative_duration", func(p *loadParams) { p.TaskDuration = -time.Second }},
		{"negative_fail_every", func(p *loadParams) { p.FailEvery = -1 }},
		{"negative_reset_after", func(p *loadParams) { p.ResetAfter = -1 }},
		{"unknown_strategy", func(p *loadParams) { p.Strategy = "spin" }},
		{"poll_for_no_timeout", func(p *loadParams) { p.Strategy = strategyPollFor }},
		{"wait_until_no_timeout", func(p *loadParams) { p.Strategy = strategyWaitUntil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.validate())
		})
	}
}

func TestLoadRunner_FailuresAndResets(t *testing.T) {
	pool := newTestPool(t, 2)
	params := loadParams{
		Tasks:      40,
		Producers:  3,
		Strategy:   strategyWait,
		FailEvery:  4,
		ResetAfter: 10,
	}

	sum, err := newLoadRunner(pool, params, discard).run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 40, sum.Submitted)
	assert.EqualValues(t, 30, sum.Completed)
	assert.EqualValues(t, 10, sum.Failed)
	assert.EqualValues(t, 4, sum.Resets)
	assert.Zero(t, sum.NotEnqueued)
	assert.False(t, sum.Interrupted)
	assert.LessOrEqual(t, sum.MaxDepth, int64(pool.MaxTasks()))
	assert.EqualValues(t, 4, pool.Stats().Resets)
}

func TestLoadRunner_TimedStrategies(t *testing.T) {
	for _, strategy := range []string{strategyPollFor, strategyWaitUntil} {
		t.Run(strategy, func(t *testing.T) {
			pool := newTestPool(t, 2, xpool.WithMaxTasks(3))
			params := loadParams{
				Tasks:          30,
				Producers:      4,
				Strategy:       strategy,
				EnqueueTimeout: time.Second,
			}

			sum, err := newLoadRunner(pool, params, discard).run(context.Background())
			require.NoError(t, err)

			assert.EqualValues(t, 30, sum.Submitted+sum.NotEnqueued)
			assert.Equal(t, sum.Submitted, sum.Completed)
			assert.LessOrEqual(t, sum.MaxDepth, int64(3))
		})
	}
}

func TestLoadRunner_Interrupted(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := newLoadRunner(pool, loadParams{Tasks: 100, Producers: 2, Strategy: strategyWait}, discard).run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Zero(t, sum.Submitted)
}

func TestLoadRunner_TimedStrategiesHonourCancel(t *testing.T) {
	for _, strategy := range []string{strategyPollFor, strategyWaitUntil} {
		t.Run(strategy, func(t *testing.T) {
			pool := newTestPool(t, 1, xpool.WithMaxTasks(1))
			release := make(chan struct{})
			defer close(release)
			blocker := func() error { <-release; return nil }
			// 占满唯一的 worker 和唯一的队列位置
			require.NoError(t, pool.Wait(blocker))
			require.Eventually(t, func() bool { return pool.Stats().Active == 1 }, 5*time.Second, time.Millisecond)
			require.NoError(t, pool.Wait(blocker))

			r := newLoadRunner(pool, loadParams{Strategy: strategy, EnqueueTimeout: time.Hour}, discard)
			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- r.submit(ctx, func() error { return nil }) }()

			time.Sleep(20 * time.Millisecond)
			cancel()
			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, xpool.ErrNotEnqueued)
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("submit ignored producer cancellation")
			}
		})
	}
}

func TestLoadRunner_PoolClosed(t *testing.T) {
	pool := newTestPool(t, 1)
	require.NoError(t, pool.Close())

	_, err := newLoadRunner(pool, loadParams{Tasks: 5, Producers: 1, Strategy: strategyWait}, discard).run(context.Background())
	assert.ErrorIs(t, err, xpool.ErrPoolStopped)
}

func TestSummary_Write(t *testing.T) {
	var buf bytes.Buffer
	summary{Submitted: 3, Completed: 2, Failed: 1, Interrupted: true}.write(&buf)

	out := buf.String()
	assert.Contains(t, out, "submitted:     3\n")
	assert.Contains(t, out, "failed:        1\n")
	assert.Contains(t, out, "interrupted:   true\n")
}

func TestNewLogger(t *testing.T) {
	t.Run("stderr_text", func(t *testing.T) {
		var buf bytes.Buffer
		levelVar := new(slog.LevelVar)
		logger, closeLog, err := newLogger(xpoolconf.LogConfig{Level: "warn", Format: "text"}, levelVar, &buf)
		require.NoError(t, err)
		defer func() { _ = closeLog() }()

		logger.Info("hidden")
		logger.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")

		levelVar.Set(slog.LevelInfo)
		logger.Info("now visible")
		assert.Contains(t, buf.String(), "now visible")
	})

	t.Run("rotating_file_json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "xworker.log")
		cfg := xpoolconf.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1}
		logger, closeLog, err := newLogger(cfg, new(slog.LevelVar), io.Discard)
		require.NoError(t, err)

		logger.Info("to file", slog.Int("n", 7))
		require.NoError(t, closeLog())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
		assert.Contains(t, string(data), `"n":7`)
	})

	t.Run("bad_level", func(t *testing.T) {
		_, _, err := newLogger(xpoolconf.LogConfig{Level: "loud"}, new(slog.LevelVar), io.Discard)
		assert.Error(t, err)
	})
}
