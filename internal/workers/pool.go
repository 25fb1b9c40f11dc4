// Package workers provides the bounded worker pool that evaluates
// independent candidate simulations for the walk-forward harness.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging and metric labels
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Timeout for individual tasks; zero disables
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
}

// DefaultPoolConfig returns sensible defaults for candidate evaluation.
// Simulations are CPU bound, so workers default to the CPU count.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool manages a bounded set of worker goroutines. Tasks own all their
// state; the pool only counts outcomes.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	tasksSubmitted  atomic.Int64
	tasksCompleted  atomic.Int64
	tasksFailed     atomic.Int64
	tasksTimedOut   atomic.Int64
	panicsRecovered atomic.Int64

	counters *counters
}

// counters are the prometheus mirrors of the atomic totals
type counters struct {
	completed prometheus.Counter
	failed    prometheus.Counter
	timedOut  prometheus.Counter
}

// PoolStats is a point-in-time snapshot of pool totals
type PoolStats struct {
	TasksSubmitted  int64 `json:"tasks_submitted"`
	TasksCompleted  int64 `json:"tasks_completed"`
	TasksFailed     int64 `json:"tasks_failed"`
	TasksTimedOut   int64 `json:"tasks_timed_out"`
	PanicsRecovered int64 `json:"panics_recovered"`
}

// NewPool creates a worker pool. A non-nil registerer exposes completion,
// failure, and timeout counters; nil disables instrumentation.
func NewPool(logger *zap.Logger, config *PoolConfig, registerer prometheus.Registerer) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	if registerer != nil {
		labels := prometheus.Labels{"pool": config.Name}
		p.counters = &counters{
			completed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "backtest_pool_tasks_completed_total", Help: "Tasks completed successfully.", ConstLabels: labels,
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "backtest_pool_tasks_failed_total", Help: "Tasks that returned an error or panicked.", ConstLabels: labels,
			}),
			timedOut: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "backtest_pool_tasks_timed_out_total", Help: "Tasks discarded after exceeding the task timeout.", ConstLabels: labels,
			}),
		}
		registerer.MustRegister(p.counters.completed, p.counters.failed, p.counters.timedOut)
	}

	return p
}

// Start launches the workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

// run is the worker's main loop
func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.executeTask(logger, task)
		}
	}
}

// executeTask runs one task with panic recovery and the optional timeout.
// A timed-out task's goroutine is abandoned; its result is discarded.
func (p *Pool) executeTask(logger *zap.Logger, task Task) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panicsRecovered.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				done <- &PanicError{Recovered: r}
			}
		}()
		done <- task.Execute()
	}()

	var timeout <-chan time.Time
	if p.config.TaskTimeout > 0 {
		timer := time.NewTimer(p.config.TaskTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			p.tasksFailed.Add(1)
			if p.counters != nil {
				p.counters.failed.Inc()
			}
			logger.Debug("task failed", zap.Error(err))
			return
		}
		p.tasksCompleted.Add(1)
		if p.counters != nil {
			p.counters.completed.Inc()
		}

	case <-timeout:
		p.tasksTimedOut.Add(1)
		if p.counters != nil {
			p.counters.timedOut.Inc()
		}
		logger.Warn("task timed out",
			zap.Duration("timeout", p.config.TaskTimeout),
		)
	}
}

// Submit adds a task to the queue
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.tasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop gracefully shuts down the pool, waiting up to the shutdown timeout
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// IsRunning returns whether the pool is accepting tasks
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Stats returns current pool totals
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted:  p.tasksSubmitted.Load(),
		TasksCompleted:  p.tasksCompleted.Load(),
		TasksFailed:     p.tasksFailed.Load(),
		TasksTimedOut:   p.tasksTimedOut.Load(),
		PanicsRecovered: p.panicsRecovered.Load(),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string { return "panic recovered" }
