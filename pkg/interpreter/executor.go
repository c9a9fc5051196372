package interpreter

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"dal/runtime-go/pkg/runtime"
)

// AgentTask represents a unit of agent work executed by an Executor.
type AgentTask func(ctx context.Context) (runtime.Value, error)

// Executor abstracts the underlying scheduling strategy used for spawn.
type Executor interface {
	// Go runs task and reports its outcome to done exactly once.
	Go(ctx context.Context, task AgentTask, done func(runtime.Value, error))
	// Wait blocks until every started task has finished.
	Wait()
	PendingTasks() int
}

func safeInvoke(ctx context.Context, task AgentTask) (result runtime.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = runtime.NewError(runtime.ProviderError, "agent panic: %v", r)
		}
	}()
	return task(ctx)
}

// GoroutineExecutor runs every task on its own goroutine.
type GoroutineExecutor struct {
	pending atomic.Int64
	wg      sync.WaitGroup
}

func NewGoroutineExecutor() *GoroutineExecutor {
	return &GoroutineExecutor{}
}

func (e *GoroutineExecutor) Go(ctx context.Context, task AgentTask, done func(runtime.Value, error)) {
	e.pending.Add(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.pending.Add(-1)
		done(safeInvoke(ctx, task))
	}()
}

func (e *GoroutineExecutor) Wait() { e.wg.Wait() }

func (e *GoroutineExecutor) PendingTasks() int {
	pending := e.pending.Load()
	if pending < 0 {
		return 0
	}
	return int(pending)
}

// BoundedExecutor caps how many agent tasks run at once. Tasks beyond the
// limit wait for a slot or for their context to end.
type BoundedExecutor struct {
	GoroutineExecutor
	slots *semaphore.Weighted
}

func NewBoundedExecutor(limit int64) *BoundedExecutor {
	if limit <= 0 {
		limit = 1
	}
	return &BoundedExecutor{slots: semaphore.NewWeighted(limit)}
}

func (e *BoundedExecutor) Go(ctx context.Context, task AgentTask, done func(runtime.Value, error)) {
	e.GoroutineExecutor.Go(ctx, func(ctx context.Context) (runtime.Value, error) {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return nil, runtime.WrapError(runtime.Timeout, err, "agent never scheduled: %v", err)
		}
		defer e.slots.Release(1)
		return task(ctx)
	}, done)
}
