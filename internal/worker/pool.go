package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloudbridge/internal/config"
	"cloudbridge/internal/logging"
)

// DefaultTaskTimeout bounds a single task when no option overrides it
const DefaultTaskTimeout = 30 * time.Second

// ErrPoolStopped is returned for work offered to a stopped pool
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolMetrics provides metrics about the worker pool's performance
type PoolMetrics struct {
	TotalTasks         int64
	CompletedTasks     int64
	FailedTasks        int64
	CurrentWorkers     int64
	PeakWorkers        int64
	BusyWorkers        int64
	AverageExecutionMs int64
	TotalExecutionMs   int64
}

// Task represents a unit of work to be executed
type Task func(ctx context.Context) error

type job struct {
	parent context.Context
	task   Task
}

// Pool manages a fixed set of workers executing tasks concurrently
type Pool struct {
	maxWorkers  int
	taskTimeout time.Duration
	tasks       chan job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	stopping    int32

	totalTasks       int64
	completedTasks   int64
	failedTasks      int64
	activeWorkers    int64
	busyWorkers      int64
	peakWorkers      int64
	totalExecutionMs int64
}

// Option configures a Pool
type Option func(*Pool)

// WithTaskTimeout sets the per-task deadline
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.taskTimeout = d
		}
	}
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(maxWorkers int, opts ...Option) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers:  maxWorkers,
		taskTimeout: DefaultTaskTimeout,
		tasks:       make(chan job, maxWorkers*2),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop cancels running tasks and waits for the workers to exit.
// Tasks still queued are run with an already cancelled context so that
// anyone waiting on them is released.
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapInt32(&p.stopping, 0, 1) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// MaxWorkers returns the number of workers
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// TaskTimeout returns the per-task deadline
func (p *Pool) TaskTimeout() time.Duration {
	return p.taskTimeout
}

// GetMetrics returns the current metrics for the pool
func (p *Pool) GetMetrics() PoolMetrics {
	completed := atomic.LoadInt64(&p.completedTasks)
	failed := atomic.LoadInt64(&p.failedTasks)
	totalMs := atomic.LoadInt64(&p.totalExecutionMs)
	finished := completed + failed
	if finished < 1 {
		finished = 1
	}
	return PoolMetrics{
		TotalTasks:         atomic.LoadInt64(&p.totalTasks),
		CompletedTasks:     completed,
		FailedTasks:        failed,
		CurrentWorkers:     atomic.LoadInt64(&p.activeWorkers),
		PeakWorkers:        atomic.LoadInt64(&p.peakWorkers),
		BusyWorkers:        atomic.LoadInt64(&p.busyWorkers),
		AverageExecutionMs: totalMs / finished,
		TotalExecutionMs:   totalMs,
	}
}

// Submit queues task under the pool's own context
func (p *Pool) Submit(task Task) error {
	return p.SubmitContext(context.Background(), task)
}

// SubmitContext queues task. The context handed to the task is derived from
// parent, carries the pool's task timeout and is cancelled when the pool stops.
// It blocks while the queue is full and gives up when parent is done.
func (p *Pool) SubmitContext(parent context.Context, task Task) error {
	if atomic.LoadInt32(&p.stopping) == 1 {
		return ErrPoolStopped
	}

	atomic.AddInt64(&p.totalTasks, 1)
	select {
	case p.tasks <- job{parent: parent, task: task}:
		return nil
	case <-parent.Done():
		atomic.AddInt64(&p.totalTasks, -1)
		return parent.Err()
	case <-p.ctx.Done():
		atomic.AddInt64(&p.totalTasks, -1)
		return ErrPoolStopped
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	current := atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)
	for {
		peak := atomic.LoadInt64(&p.peakWorkers)
		if current <= peak || atomic.CompareAndSwapInt64(&p.peakWorkers, peak, current) {
			break
		}
	}

	for {
		select {
		case j := <-p.tasks:
			p.run(j)
		case <-p.ctx.Done():
			// Release whatever is still queued
			for {
				select {
				case j := <-p.tasks:
					p.run(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(j job) {
	atomic.AddInt64(&p.busyWorkers, 1)
	defer atomic.AddInt64(&p.busyWorkers, -1)

	start := time.Now()

	taskCtx, cancel := context.WithTimeout(j.parent, p.taskTimeout)
	stop := context.AfterFunc(p.ctx, cancel)
	err := safeRun(taskCtx, j.task)
	stop()
	cancel()

	atomic.AddInt64(&p.totalExecutionMs, time.Since(start).Milliseconds())
	if err != nil {
		atomic.AddInt64(&p.failedTasks, 1)
	} else {
		atomic.AddInt64(&p.completedTasks, 1)
	}
}

// safeRun turns a panicking task into an error so one bad task cannot take
// down a worker
func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			logging.Error("Worker task panicked", err)
		}
	}()
	return task(ctx)
}

// ExecuteTasks runs tasks on the pool and waits for all of them. Tasks that
// could not be queued because ctx ended or the pool stopped are reported in
// the returned error along with any task failures.
func (p *Pool) ExecuteTasks(ctx context.Context, tasks []Task) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, t := range tasks {
		task := t
		wg.Add(1)
		err := p.SubmitContext(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			err := safeRun(taskCtx, task)
			if err != nil {
				record(err)
			}
			return err
		})
		if err != nil {
			wg.Done()
			record(err)
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

var (
	sharedPool *Pool
	poolMutex  sync.Mutex
)

// GetSharedPool returns the shared worker pool, creating it from the global
// config on first use
func GetSharedPool() *Pool {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool == nil {
		sharedPool = NewPool(config.Config.MaxWorkers, WithTaskTimeout(config.Config.TaskTimeout))
		sharedPool.Start()
	}
	return sharedPool
}

// InitSharedPool initializes the shared worker pool with the specified number of workers.
// If the pool is already initialized, this call will be ignored.
func InitSharedPool(maxWorkers int, opts ...Option) error {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool != nil {
		return nil
	}
	if maxWorkers <= 0 {
		return fmt.Errorf("maxWorkers must be greater than 0, got %d", maxWorkers)
	}

	sharedPool = NewPool(maxWorkers, opts...)
	sharedPool.Start()
	return nil
}

// ResetSharedPool stops and discards the shared pool
func ResetSharedPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool != nil {
		sharedPool.Stop()
		sharedPool = nil
	}
}
