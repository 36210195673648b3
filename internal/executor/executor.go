// Package executor provides serial execution contexts.
//
// A Queue owns one goroutine that runs submitted jobs one at a time in
// FIFO order. Work confined to a Queue never runs concurrently with other
// work on the same Queue. Inline runs jobs on the calling goroutine and
// stands in for contexts owned by a single caller.
//
// The binding of a job to its executor travels in the context.Context
// handed to the job. Bound(ctx) reports whether ctx is running on (or is
// blocked on behalf of) a given executor, which lets a nested
// PerformAndWait on the same executor run inline instead of deadlocking.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// ErrClosed is returned when submitting to a closed Queue.
var ErrClosed = errors.New("executor closed")

// Executor runs jobs in a serial execution context.
type Executor interface {
	// Name identifies the executor in logs.
	Name() string

	// Perform schedules fn and returns without waiting.
	Perform(ctx context.Context, fn func(ctx context.Context)) error

	// PerformAndWait runs fn on the executor and blocks until it
	// returns. A panic in fn is returned as an error.
	PerformAndWait(ctx context.Context, fn func(ctx context.Context) error) error

	// Bound reports whether ctx carries this executor's binding.
	Bound(ctx context.Context) bool
}

type bindingKey struct{}

// binding is the chain of executors a context is running on. A job run
// through PerformAndWait inherits its caller's chain, since the caller is
// blocked until the job returns.
type binding struct {
	exec   Executor
	parent *binding
}

func bindingFrom(ctx context.Context) *binding {
	b, _ := ctx.Value(bindingKey{}).(*binding)
	return b
}

func bound(ctx context.Context, e Executor) bool {
	for b := bindingFrom(ctx); b != nil; b = b.parent {
		if b.exec == e {
			return true
		}
	}
	return false
}

func bind(ctx context.Context, e Executor, inherit bool) context.Context {
	var parent *binding
	if inherit {
		parent = bindingFrom(ctx)
	}
	return context.WithValue(ctx, bindingKey{}, &binding{exec: e, parent: parent})
}

// Detach returns ctx without its cancellation and without any executor
// binding, for work handed off to another goroutine.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), bindingKey{}, (*binding)(nil))
}

// PanicError wraps a panic recovered from a job.
type PanicError struct {
	Executor string
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic in job: %v", e.Executor, e.Value)
}

func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Executor: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for job panics and lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// Queue is a serial executor backed by one goroutine.
type Queue struct {
	name   string
	jobs   *jobQueue
	done   chan struct{}
	logger *slog.Logger
	ran    atomic.Int64
}

var _ Executor = (*Queue)(nil)

// NewQueue starts a Queue. Call Close to stop it.
func NewQueue(name string, opts ...Option) *Queue {
	q := &Queue{
		name:   name,
		jobs:   newJobQueue(),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Len returns the number of jobs waiting to run.
func (q *Queue) Len() int {
	return q.jobs.len()
}

// Ran returns the number of jobs run so far.
func (q *Queue) Ran() int64 {
	return q.ran.Load()
}

// run drains the queue until it is closed and empty.
func (q *Queue) run() {
	defer close(q.done)
	q.logger.Debug("executor starting", "queue", q.name)

	for {
		if j, ok := q.jobs.tryDequeue(); ok {
			j.run()
			q.ran.Add(1)
			continue
		}

		<-q.jobs.wait()
		if q.jobs.drained() {
			q.logger.Debug("executor stopping", "queue", q.name)
			return
		}
	}
}

// Bound reports whether ctx is running on q.
func (q *Queue) Bound(ctx context.Context) bool {
	return bound(ctx, q)
}

// Perform schedules fn on q. The job's context is detached from ctx's
// cancellation and bound to q alone.
func (q *Queue) Perform(ctx context.Context, fn func(ctx context.Context)) error {
	jobCtx := bind(context.WithoutCancel(ctx), q, false)
	ok := q.jobs.enqueue(job{run: func() {
		err := guard(q.name, func() error {
			fn(jobCtx)
			return nil
		})
		if err != nil {
			q.logger.Error("job panicked", "queue", q.name, "error", err)
		}
	}})
	if !ok {
		return fmt.Errorf("perform on %s: %w", q.name, ErrClosed)
	}
	return nil
}

// PerformAndWait runs fn on q and waits for it. Called from a context
// already bound to q, fn runs inline. If ctx ends before the job starts,
// the job is abandoned and ctx.Err() is returned; once started, the job
// always runs to completion.
func (q *Queue) PerformAndWait(ctx context.Context, fn func(ctx context.Context) error) error {
	if q.Bound(ctx) {
		return guard(q.name, func() error { return fn(ctx) })
	}

	const (
		pending int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	result := make(chan error, 1)
	jobCtx := bind(context.WithoutCancel(ctx), q, true)

	ok := q.jobs.enqueue(job{run: func() {
		if !state.CompareAndSwap(pending, running) {
			return
		}
		result <- guard(q.name, func() error { return fn(jobCtx) })
	}})
	if !ok {
		return fmt.Errorf("perform on %s: %w", q.name, ErrClosed)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
		return <-result
	}
}

// Close stops accepting jobs, runs the ones already queued and waits for
// the loop to exit. Must not be called from a job on q.
func (q *Queue) Close() {
	q.jobs.close()
	<-q.done
}

// Inline runs jobs on the calling goroutine. It backs contexts that are
// owned by exactly one caller for their whole life.
type Inline struct {
	name string
}

var _ Executor = (*Inline)(nil)

// NewInline returns an inline executor.
func NewInline(name string) *Inline {
	return &Inline{name: name}
}

// Name returns the executor name.
func (e *Inline) Name() string {
	return e.name
}

// Bind returns ctx bound to e. The owner binds once and then performs
// all work on the returned context.
func (e *Inline) Bind(ctx context.Context) context.Context {
	return bind(ctx, e, true)
}

// Bound reports whether ctx is bound to e.
func (e *Inline) Bound(ctx context.Context) bool {
	return bound(ctx, e)
}

// Perform runs fn immediately on the calling goroutine.
func (e *Inline) Perform(ctx context.Context, fn func(ctx context.Context)) error {
	return guard(e.name, func() error {
		fn(e.Bind(ctx))
		return nil
	})
}

// PerformAndWait runs fn immediately on the calling goroutine.
func (e *Inline) PerformAndWait(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.Bound(ctx) {
		ctx = e.Bind(ctx)
	}
	return guard(e.name, func() error { return fn(ctx) })
}
