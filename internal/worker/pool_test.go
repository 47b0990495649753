package worker

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

func TestExecuteTasksRunsAll(t *testing.T) {
	pool := NewPool(4)
	pool.Start()
	defer pool.Stop()

	var count int64
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}
	}

	require.NoError(t, pool.ExecuteTasks(context.Background(), tasks))
	assert.EqualValues(t, 20, atomic.LoadInt64(&count))

	metrics := pool.GetMetrics()
	assert.EqualValues(t, 20, metrics.TotalTasks)
	assert.EqualValues(t, 20, metrics.CompletedTasks)
	assert.EqualValues(t, 0, metrics.FailedTasks)
	assert.LessOrEqual(t, metrics.PeakWorkers, int64(4))
}

func TestExecuteTasksCollectsErrors(t *testing.T) {
	pool := NewPool(2)
	pool.Start()
	defer pool.Stop()

	boom := errors.New("boom")
	err := pool.ExecuteTasks(context.Background(), []Task{
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { panic("bad task") },
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task panicked: bad task")
	assert.EqualValues(t, 2, pool.GetMetrics().FailedTasks)
}

func TestConcurrencyIsBounded(t *testing.T) {
	const workers = 3
	pool := NewPool(workers)
	pool.Start()
	defer pool.Stop()

	var running, peak int64
	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil
		}
	}

	require.NoError(t, pool.ExecuteTasks(context.Background(), tasks))
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(workers))
}

func TestTaskTimeout(t *testing.T) {
	pool := NewPool(1, WithTaskTimeout(20*time.Millisecond))
	pool.Start()
	defer pool.Stop()

	assert.Equal(t, 20*time.Millisecond, pool.TaskTimeout())

	err := pool.ExecuteTasks(context.Background(), []Task{
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitContextInheritsParent(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	defer pool.Stop()

	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "batch"))

	seen := make(chan string, 1)
	done := make(chan error, 1)
	require.NoError(t, pool.SubmitContext(parent, func(ctx context.Context) error {
		seen <- ctx.Value(key{}).(string)
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))

	assert.Equal(t, "batch", <-seen)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled with its parent")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.ErrorIs(t, pool.Submit(func(context.Context) error { return nil }), ErrPoolStopped)
	err := pool.ExecuteTasks(context.Background(), []Task{func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestStopCancelsRunningTasks(t *testing.T) {
	pool := NewPool(1)
	pool.Start()

	started := make(chan struct{})
	var once sync.Once
	result := make(chan error, 1)
	go func() {
		result <- pool.ExecuteTasks(context.Background(), []Task{
			func(ctx context.Context) error {
				once.Do(func() { close(started) })
				<-ctx.Done()
				return ctx.Err()
			},
		})
	}()

	<-started
	pool.Stop()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ExecuteTasks did not return after Stop")
	}
}

func TestNewPoolClampsWorkers(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).MaxWorkers())
	assert.Equal(t, DefaultTaskTimeout, NewPool(2, WithTaskTimeout(0)).TaskTimeout())
}

func TestSharedPool(t *testing.T) {
	ResetSharedPool()
	defer ResetSharedPool()

	assert.Error(t, InitSharedPool(0))
	require.NoError(t, InitSharedPool(2))
	first := GetSharedPool()
	assert.Equal(t, 2, first.MaxWorkers())

	require.NoError(t, InitSharedPool(5))
	assert.Same(t, first, GetSharedPool())
}
