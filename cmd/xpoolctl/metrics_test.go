package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xworker/pkg/util/xpool"
)

func TestServeMetrics(t *testing.T) {
	pool := newTestPool(t, 2)
	reg, err := newRegistry(pool, "test")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serveMetrics(ctx, ln, "/metrics", reg, discard) }()

	require.NoError(t, pool.Wait(func() error { return nil }))
	require.NoError(t, pool.WaitIdle(context.Background()))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `xpool_tasks_completed_total{pool="test"} 1`)
	assert.Contains(t, string(body), `xpool_workers{pool="test"} 2`)
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestHistogramMeans(t *testing.T) {
	mp, reader := newMeterProvider()
	defer func() { _ = mp.Shutdown(context.Background()) }()

	task, wait, err := histogramMeans(context.Background(), reader)
	require.NoError(t, err)
	assert.Zero(t, task)
	assert.Zero(t, wait)

	pool := newTestPool(t, 1, xpool.WithMeterProvider(mp))
	for range 3 {
		require.NoError(t, pool.Wait(func() error {
			time.Sleep(2 * time.Millisecond)
			return nil
		}))
	}
	require.NoError(t, pool.Close())

	task, wait, err = histogramMeans(context.Background(), reader)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, task, 2*time.Millisecond)
	assert.GreaterOrEqual(t, wait, time.Duration(0))
}
