package workers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(t *testing.T, cfg *PoolConfig) *Pool {
	t.Helper()
	p := NewPool(zap.NewNop(), cfg, nil)
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Name: "test", NumWorkers: 2, QueueSize: 10, ShutdownTimeout: time.Second})

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.SubmitFunc(func() error {
			defer wg.Done()
			mu.Lock()
			seen++
			mu.Unlock()
			return nil
		}))
	}
	wg.Wait()

	assert.Equal(t, 5, seen)
	assert.Eventually(t, func() bool {
		return p.Stats().TasksCompleted == 5
	}, time.Second, 5*time.Millisecond)
}

func TestPoolCountsFailures(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Name: "test", NumWorkers: 1, QueueSize: 10, ShutdownTimeout: time.Second})

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.SubmitFunc(func() error {
		defer wg.Done()
		return errors.New("boom")
	}))
	wg.Wait()

	assert.Eventually(t, func() bool {
		return p.Stats().TasksFailed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPoolRecoversFromPanics(t *testing.T) {
	p := newTestPool(t, &PoolConfig{Name: "test", NumWorkers: 1, QueueSize: 10, ShutdownTimeout: time.Second})

	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, p.SubmitFunc(func() error {
		defer wg.Done()
		panic("kaboom")
	}))
	require.NoError(t, p.SubmitFunc(func() error {
		defer wg.Done()
		return nil
	}))
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.PanicsRecovered)
	assert.Eventually(t, func() bool {
		return p.Stats().TasksCompleted == 1
	}, time.Second, 5*time.Millisecond, "the pool keeps working after a panic")
}

func TestPoolTimesOutSlowTasks(t *testing.T) {
	p := newTestPool(t, &PoolConfig{
		Name: "test", NumWorkers: 1, QueueSize: 10,
		TaskTimeout: 5 * time.Millisecond, ShutdownTimeout: time.Second,
	})

	require.NoError(t, p.SubmitFunc(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	assert.Eventually(t, func() bool {
		return p.Stats().TasksTimedOut == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	p := NewPool(zap.NewNop(), &PoolConfig{Name: "test", NumWorkers: 1, QueueSize: 1, ShutdownTimeout: time.Second}, nil)
	assert.ErrorIs(t, p.SubmitFunc(func() error { return nil }), ErrPoolStopped)

	p.Start()
	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.SubmitFunc(func() error { return nil }), ErrPoolStopped)
}

func TestPoolRegistersPrometheusCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	p := NewPool(zap.NewNop(), &PoolConfig{Name: "instrumented", NumWorkers: 1, QueueSize: 10, ShutdownTimeout: time.Second}, registry)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.SubmitFunc(func() error {
		defer wg.Done()
		return nil
	}))
	wg.Wait()

	assert.Eventually(t, func() bool {
		families, err := registry.Gather()
		if err != nil {
			return false
		}
		for _, mf := range families {
			if mf.GetName() == "backtest_pool_tasks_completed_total" {
				return mf.GetMetric()[0].GetCounter().GetValue() == 1
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
