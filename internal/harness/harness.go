package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/strata/internal/dal"
	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/faults"
	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/lifecycle"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/value"
)

// stepTimeout bounds every wait on the pipeline.
const stepTimeout = 10 * time.Second

// Harness drives one dal.Service through a scenario with deterministic
// ids and a fake lifecycle host.
type Harness struct {
	desc   store.Descriptor
	policy dal.ScratchPolicy
	logger *slog.Logger

	// Shared across reopens so ids never repeat within a run.
	recordIDs ids.Generator
	writeIDs  ids.Generator
	commitIDs ids.Generator

	clock     *store.Clock
	svc       *dal.Service
	host      *testutil.FakeHost
	published atomic.Int64

	mu        sync.Mutex
	lastFlush *lifecycle.Result

	pending []chan error
}

// Run executes a scenario against a fresh store and returns the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
//
// Execution flow:
//  1. Compile the schema and create the store (memory or a temp file)
//  2. Open the pipeline with a FakeHost lifecycle guard
//  3. Execute steps, checking each step's expectation
//  4. Wait for outstanding async writes
//  5. Evaluate assertions against Main and the store
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	var sch *schema.Schema
	if scenario.Schema != "" {
		var err error
		sch, err = schema.Load(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
	}

	desc := store.Memory(sch)
	if scenario.Store == "file" {
		dir, err := os.MkdirTemp("", "strata-harness-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
		defer os.RemoveAll(dir)
		desc = store.File(filepath.Join(dir, "strata.db"), sch)
	}

	policy, err := dal.ParseScratchPolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		desc:      desc,
		policy:    policy,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		recordIDs: ids.NewSequenceGenerator("rec"),
		writeIDs:  ids.NewSequenceGenerator("write"),
		commitIDs: ids.NewSequenceGenerator("commit"),
		clock:     store.NewClockAt(0),
	}
	if err := h.open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open pipeline: %w", err)
	}
	defer func() { h.svc.Close(context.WithoutCancel(ctx)) }()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	if err := h.awaitPending(ctx); err != nil && !isCompletionError(err) {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, State: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	commits, err := h.Commits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit log: %w", err)
	}
	result.Commits = commits
	result.Published = h.Published()
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	h.host = testutil.NewFakeHost()
	svc, err := dal.Open(ctx, h.desc,
		dal.WithLogger(h.logger),
		dal.WithScratchPolicy(h.policy),
		dal.WithRecordIDGenerator(h.recordIDs),
		dal.WithIDGenerator(h.writeIDs),
		dal.WithCommitIDGenerator(h.commitIDs),
		dal.WithoutDefaultErrorLog(),
		dal.WithErrorHook(faults.HookFunc(func(context.Context, faults.Event) error {
			h.published.Add(1)
			return nil
		})),
		dal.WithLifecycle(h.host, lifecycle.WithObserver(func(r lifecycle.Result) {
			h.mu.Lock()
			h.lastFlush = &r
			h.mu.Unlock()
		})),
	)
	if err != nil {
		return err
	}
	h.svc = svc
	return nil
}

// execute runs one step and records it in the trace.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	ev := TraceEvent{Seq: h.clock.Next(), Op: step.Op, Outcome: OutcomeOK}
	var err error

	switch step.Op {
	case OpWrite:
		err = h.svc.Write(ctx, h.closure(step.Actions))

	case OpWriteAsync:
		h.pending = append(h.pending, h.writeAsync(ctx, h.closure(step.Actions)))

	case OpAwait:
		err = h.awaitPending(ctx)

	case OpRead:
		var recs []dataset.Record
		err = h.svc.TryRead(ctx, func(r dataset.Reader) {
			recs = r.All(step.Entity)
		})
		n := len(recs)
		ev.Entity = step.Entity
		ev.Count = &n
		ev.IDs = make([]string, n)
		for i, rec := range recs {
			ev.IDs[i] = rec.ID
		}

	case OpFlush:
		err = h.svc.FlushAndWait(ctx)

	case OpNuke:
		err = h.svc.Nuke(ctx)

	case OpSuspend, OpTerminate:
		err = h.signal(ctx, step)

	case OpReopen:
		if err := h.svc.Close(ctx); err != nil {
			return fmt.Errorf("close before reopen: %w", err)
		}
		if err := h.open(ctx); err != nil {
			return fmt.Errorf("reopen: %w", err)
		}

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if err != nil {
		if !isCompletionError(err) {
			return err
		}
		ev.Outcome = outcomeOf(err)
		h.logger.Debug("step failed", "step", index, "op", step.Op, "error", err)
	}
	result.AddTrace(ev)
	checkExpect(index, step, ev, result)
	return nil
}

// signal delivers a suspend or terminate through the fake host. With
// actions, a write is held inside its closure until the guard is
// flushing, so the signal lands mid-write.
func (h *Harness) signal(ctx context.Context, step Step) error {
	deliver := h.host.Suspend
	if step.Op == OpTerminate {
		deliver = h.host.Terminate
	}

	if len(step.Actions) > 0 {
		entered := make(chan struct{})
		release := make(chan struct{})
		apply := h.closure(step.Actions)
		h.pending = append(h.pending, h.writeAsync(ctx, func(tx *dataset.Tx) error {
			close(entered)
			<-release
			return apply(tx)
		}))
		if err := waitChan(ctx, entered); err != nil {
			return err
		}

		done := make(chan struct{})
		go func() {
			deliver()
			close(done)
		}()
		h.waitFlushing()
		close(release)
		if err := waitChan(ctx, done); err != nil {
			return err
		}
	} else {
		deliver()
	}

	if open := h.host.Open(); open != 0 {
		return fmt.Errorf("%d protected window(s) still open after %s", open, step.Op)
	}

	h.mu.Lock()
	res := h.lastFlush
	h.lastFlush = nil
	h.mu.Unlock()
	if res == nil {
		return fmt.Errorf("%s did not trigger a flush", step.Op)
	}
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// waitFlushing gives the guard a bounded chance to start its flush.
func (h *Harness) waitFlushing() {
	guard := h.svc.Guard()
	deadline := time.Now().Add(time.Second)
	for guard.State() != lifecycle.Flushing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func (h *Harness) writeAsync(ctx context.Context, fn func(*dataset.Tx) error) chan error {
	ch := make(chan error, 1)
	h.svc.WriteAsync(ctx, fn, func(err error) { ch <- err })
	return ch
}

// awaitPending waits for every async write and returns the first error.
func (h *Harness) awaitPending(ctx context.Context) error {
	var first error
	for _, ch := range h.pending {
		select {
		case err := <-ch:
			if err != nil && first == nil {
				first = err
			}
		case <-time.After(stepTimeout):
			return errors.New("timed out waiting for async write")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.pending = nil
	return first
}

// closure builds the write closure for a list of actions.
func (h *Harness) closure(actions []Action) func(*dataset.Tx) error {
	return func(tx *dataset.Tx) error {
		for i, a := range actions {
			if err := applyAction(tx, a); err != nil {
				return fmt.Errorf("action %d: %w", i, err)
			}
		}
		return nil
	}
}

func applyAction(tx *dataset.Tx, a Action) error {
	fields, err := value.ObjectFromMap(a.Fields)
	if err != nil {
		return err
	}

	switch {
	case a.Create != "":
		if a.ID != "" {
			fields["id"] = value.String(a.ID)
		}
		_, err = tx.Create(a.Create, fields)
	case a.Put != "":
		tx.Put(a.Put, a.ID, fields)
	case a.Update != "":
		_, err = tx.Update(a.Update, a.ID, fields)
	case a.Delete != "":
		tx.Delete(a.Delete, a.ID)
	case a.DeleteAll != "":
		tx.DeleteAll(a.DeleteAll)
	case a.Fail != "":
		err = errors.New(a.Fail)
	}
	return err
}

// Main implements State.
func (h *Harness) Main(ctx context.Context) (*dataset.Snapshot, error) {
	return h.svc.Snapshot(ctx)
}

// Durable implements State.
func (h *Harness) Durable(ctx context.Context) (*dataset.Snapshot, error) {
	return h.svc.Durable(ctx)
}

// Commits implements State.
func (h *Harness) Commits(ctx context.Context) (int, error) {
	log, err := h.svc.Log(ctx, 0)
	return len(log), err
}

// Published implements State.
func (h *Harness) Published() int {
	return int(h.published.Load())
}

// isCompletionError reports whether err is a pipeline outcome to record
// rather than a harness failure.
func isCompletionError(err error) bool {
	return faults.CodeOf(err) != "" || errors.Is(err, dal.ErrClosed)
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := faults.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func checkExpect(index int, step Step, ev TraceEvent, result *Result) {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected outcome %s, got %s", index, step.Op, want, ev.Outcome))
	}
	if step.Expect == nil {
		return
	}
	if step.Expect.Count != nil && (ev.Count == nil || *ev.Count != *step.Expect.Count) {
		got := "none"
		if ev.Count != nil {
			got = fmt.Sprint(*ev.Count)
		}
		result.AddError(fmt.Sprintf("steps[%d] %s: expected count %d, got %s", index, step.Op, *step.Expect.Count, got))
	}
	if step.Expect.IDs != nil && !equalStrings(step.Expect.IDs, ev.IDs) {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected ids %v, got %v", index, step.Op, step.Expect.IDs, ev.IDs))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitChan(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-time.After(stepTimeout):
		return errors.New("timed out waiting for pipeline")
	case <-ctx.Done():
		return ctx.Err()
	}
}
