package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/value"
)

type fakeState struct {
	main      *dataset.Snapshot
	durable   *dataset.Snapshot
	commits   int
	published int
	err       error
}

func (f *fakeState) Main(context.Context) (*dataset.Snapshot, error)    { return f.main, f.err }
func (f *fakeState) Durable(context.Context) (*dataset.Snapshot, error) { return f.durable, f.err }
func (f *fakeState) Commits(context.Context) (int, error)               { return f.commits, f.err }
func (f *fakeState) Published() int                                     { return f.published }

func user(id, firstname string, age int64) dataset.Record {
	return dataset.Record{
		Key: dataset.Key{Entity: "User", ID: id},
		Fields: value.Object{
			"firstname": value.String(firstname),
			"age":       value.Int(age),
		},
	}
}

func newFakeState() *fakeState {
	return &fakeState{
		main:      dataset.NewSnapshot([]dataset.Record{user("u1", "Ada", 36), user("u2", "Grace", 45)}),
		durable:   dataset.NewSnapshot([]dataset.Record{user("u1", "Ada", 36)}),
		commits:   1,
		published: 2,
	}
}

func evaluate(t *testing.T, state State, assertions ...Assertion) []string {
	t.Helper()
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Op: OpWrite, Outcome: OutcomeOK})
	return EvaluateAssertions(result, assertions, &AssertionContext{Ctx: context.Background(), State: state})
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	errs := evaluate(t, newFakeState(),
		Assertion{Type: AssertCount, Entity: "User", Count: 2},
		Assertion{Type: AssertCount, Entity: "Note", Count: 0},
		Assertion{Type: AssertDurableCount, Entity: "User", Count: 1},
		Assertion{Type: AssertRecord, Entity: "User", ID: "u2", Fields: map[string]any{"age": 45}},
		Assertion{Type: AssertCommits, Count: 1},
		Assertion{Type: AssertPublished, Count: 2},
	)
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Count(t *testing.T) {
	errs := evaluate(t, newFakeState(), Assertion{Type: AssertDurableCount, Entity: "User", Count: 2})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Assertion failed: durable_count")
	assert.Contains(t, errs[0], "Expected: 2 User record(s)")
	assert.Contains(t, errs[0], "Actual: 1 record(s)")
	assert.Contains(t, errs[0], "[1] write -> ok")
}

func TestEvaluateAssertions_Record(t *testing.T) {
	state := newFakeState()

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "missing record",
			assertion: Assertion{Type: AssertRecord, Entity: "User", ID: "u9"},
			want:      "record not found",
		},
		{
			name:      "missing field",
			assertion: Assertion{Type: AssertRecord, Entity: "User", ID: "u1", Fields: map[string]any{"lastname": "L"}},
			want:      `field "lastname" to exist`,
		},
		{
			name:      "wrong value",
			assertion: Assertion{Type: AssertRecord, Entity: "User", ID: "u1", Fields: map[string]any{"firstname": "Bob"}},
			want:      `field "firstname" = "Ada"`,
		},
		{
			name:      "type mismatch",
			assertion: Assertion{Type: AssertRecord, Entity: "User", ID: "u1", Fields: map[string]any{"age": "36"}},
			want:      `field "age" = 36`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := evaluate(t, state, tt.assertion)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestEvaluateAssertions_Totals(t *testing.T) {
	errs := evaluate(t, newFakeState(),
		Assertion{Type: AssertCommits, Count: 3},
		Assertion{Type: AssertPublished, Count: 0},
	)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: commits")
	assert.Contains(t, errs[1], "Assertion failed: published")
}

func TestEvaluateAssertions_StateError(t *testing.T) {
	state := newFakeState()
	state.err = errors.New("store gone")

	errs := evaluate(t, state,
		Assertion{Type: AssertCount, Entity: "User", Count: 2},
		Assertion{Type: AssertCommits, Count: 1},
	)
	require.Len(t, errs, 2)
	assert.Equal(t, "store gone", errs[0])
	assert.Equal(t, "store gone", errs[1])
}

func TestEvaluateAssertions_NoState(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertCommits}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "require pipeline state")

	assert.Empty(t, EvaluateAssertions(NewResult(), nil, nil))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := evaluate(t, newFakeState(), Assertion{Type: "vibes"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}
