package cloudbackend

import (
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// Executor runs dispatch and asynchronous send work.
type Executor interface {
	// Submit schedules task. It returns an error when the task was not
	// accepted, in which case it will never run.
	Submit(task func()) error
}

// GoExecutor runs each task on its own goroutine.
type GoExecutor struct{}

// Submit starts task on a new goroutine.
func (GoExecutor) Submit(task func()) error {
	go task()
	return nil
}

// InlineExecutor runs each task synchronously on the caller's goroutine.
// Useful in tests and for single-actor embedding.
type InlineExecutor struct{}

// Submit runs task before returning.
func (InlineExecutor) Submit(task func()) error {
	task()
	return nil
}

// PoolExecutor runs tasks on a bounded goroutine pool.
type PoolExecutor struct {
	pool   *ants.Pool
	logger Logger
}

// NewPoolExecutor creates a pool of size workers. Up to size*10 submitters
// block waiting for a free worker; beyond that Submit fails with an overload
// error. Panicking tasks are logged and the worker is recycled.
func NewPoolExecutor(size int, logger Logger) (*PoolExecutor, error) {
	if size <= 0 {
		return nil, NewError(ErrCodeConfiguration, fmt.Sprintf("pool size must be > 0, got %d", size))
	}
	if logger == nil {
		logger = &NoopLogger{}
	}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(i interface{}) {
		logger.Errorf("Executor task panicked: %v", i)
	}), ants.WithMaxBlockingTasks(size*10))
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to create worker pool", err)
	}

	return &PoolExecutor{pool: pool, logger: logger}, nil
}

// Submit schedules task on the pool.
func (e *PoolExecutor) Submit(task func()) error {
	err := e.pool.Submit(task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		return NewErrorWithCause(ErrCodeConfiguration, "executor is closed", err)
	case errors.Is(err, ants.ErrPoolOverload):
		e.logger.Warnf("Executor overloaded: running=%d, capacity=%d", e.pool.Running(), e.pool.Cap())
		return NewErrorWithCause(ErrCodeTransport, "executor overloaded", err)
	default:
		return NewErrorWithCause(ErrCodeTransport, "failed to submit task", err)
	}
}

// Running returns the number of busy workers.
func (e *PoolExecutor) Running() int {
	return e.pool.Running()
}

// Release stops the pool. Tasks already running finish; new submissions fail.
func (e *PoolExecutor) Release() {
	e.pool.Release()
}
