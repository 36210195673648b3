package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/value"
)

// State is what assertions inspect once a scenario has run.
type State interface {
	// Main returns the Main context's current view.
	Main(ctx context.Context) (*dataset.Snapshot, error)

	// Durable returns what the store holds.
	Durable(ctx context.Context) (*dataset.Snapshot, error)

	// Commits returns the number of commits in the store log.
	Commits(ctx context.Context) (int, error)

	// Published returns the number of error-channel events.
	Published() int
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s", ev.Seq, ev.Op, ev.Outcome)
			if ev.Count != nil {
				fmt.Fprintf(&buf, " (%s: %d)", ev.Entity, *ev.Count)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertCount checks the number of records of an entity in Main.
func assertCount(snap *dataset.Snapshot, a Assertion, trace []TraceEvent, typ string) error {
	got := snap.Count(a.Entity)
	if got != a.Count {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d %s record(s)", a.Count, a.Entity),
			Actual:   fmt.Sprintf("%d record(s)", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertRecord checks that a record exists and holds the expected fields.
// Fields not named in the assertion are ignored.
func assertRecord(snap *dataset.Snapshot, a Assertion, trace []TraceEvent) error {
	rec, ok := snap.Get(a.Entity, a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s/%s", a.Entity, a.ID),
			Actual:   "record not found",
			Trace:    trace,
		}
	}

	want, err := value.ObjectFromMap(a.Fields)
	if err != nil {
		return fmt.Errorf("record assertion %s/%s: %w", a.Entity, a.ID, err)
	}
	for _, key := range want.SortedKeys() {
		got, exists := rec.Fields[key]
		if !exists {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", rec.Fields.SortedKeys()),
				Trace:    trace,
			}
		}
		if !value.Equal(want[key], got) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("field %q = %s", key, render(want[key])),
				Actual:   fmt.Sprintf("field %q = %s", key, render(got)),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTotal(typ string, want, got int, trace []TraceEvent) error {
	if want != got {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    trace,
		}
	}
	return nil
}

func render(v value.Value) string {
	b, err := value.Canonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx   context.Context
	State State
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	if len(assertions) == 0 {
		return errs
	}
	if actx == nil || actx.State == nil {
		return []string{"assertions require pipeline state"}
	}
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// Loaded lazily; most scenarios only need one of them.
	var main, durable *dataset.Snapshot
	snapshot := func(durableView bool) (*dataset.Snapshot, error) {
		var err error
		if durableView {
			if durable == nil {
				durable, err = actx.State.Durable(ctx)
			}
			return durable, err
		}
		if main == nil {
			main, err = actx.State.Main(ctx)
		}
		return main, err
	}

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertCount, AssertDurableCount:
			var snap *dataset.Snapshot
			if snap, err = snapshot(a.Type == AssertDurableCount); err == nil {
				err = assertCount(snap, a, result.Trace, a.Type)
			}
		case AssertRecord:
			var snap *dataset.Snapshot
			if snap, err = snapshot(false); err == nil {
				err = assertRecord(snap, a, result.Trace)
			}
		case AssertCommits:
			var n int
			if n, err = actx.State.Commits(ctx); err == nil {
				err = assertTotal(AssertCommits, a.Count, n, result.Trace)
			}
		case AssertPublished:
			err = assertTotal(AssertPublished, a.Count, actx.State.Published(), result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
