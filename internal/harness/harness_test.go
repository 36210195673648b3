package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		Steps: []Step{
			{Op: OpWrite, Actions: []Action{{Put: "Note", ID: "n1", Fields: map[string]any{"text": "hi"}}}},
			{Op: OpRead, Entity: "Note", Expect: &Expect{Count: intp(1), IDs: []string{"n1"}}},
		},
		Assertions: []Assertion{
			{Type: AssertCount, Entity: "Note", Count: 1},
			{Type: AssertDurableCount, Entity: "Note", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, OpWrite, result.Trace[0].Op)
	assert.Equal(t, OutcomeOK, result.Trace[0].Outcome)
	assert.Equal(t, 1, result.Commits)
	assert.Equal(t, 0, result.Published)
}

func TestRun_GeneratedIDsAreDeterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "generated_ids",
		Description: "Created records without ids get sequence ids",
		Steps: []Step{
			{Op: OpWrite, Actions: []Action{
				{Create: "Note", Fields: map[string]any{"text": "a"}},
				{Create: "Note", Fields: map[string]any{"text": "b"}},
			}},
			{Op: OpRead, Entity: "Note"},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	require.Len(t, first.Trace, 2)
	assert.Len(t, first.Trace[1].IDs, 2)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected_failure",
		Description: "A failing write with no expectation fails the scenario",
		Steps: []Step{
			{Op: OpWrite, Actions: []Action{{Fail: "boom"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected outcome ok, got SAVE")
	assert.Equal(t, "SAVE", result.Trace[0].Outcome)
	assert.Equal(t, 1, result.Published)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_failure",
		Description: "A write expected to fail that succeeds",
		Steps: []Step{
			{
				Op:      OpWrite,
				Actions: []Action{{Put: "Note", ID: "n1"}},
				Expect:  &Expect{Error: "SAVE"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected outcome SAVE, got ok")
}

func TestRun_ReadExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "read_mismatch",
		Description: "Read count and ids are compared",
		Steps: []Step{
			{Op: OpWrite, Actions: []Action{{Put: "Note", ID: "n1"}}},
			{Op: OpRead, Entity: "Note", Expect: &Expect{Count: intp(2), IDs: []string{"n9"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected count 2, got 1")
	assert.Contains(t, result.Errors[1], "expected ids [n9], got [n1]")
}

func TestRun_AssertionFailureReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion_failure",
		Description: "Final-state assertions are evaluated",
		Steps: []Step{
			{Op: OpWrite, Actions: []Action{{Put: "Note", ID: "n1", Fields: map[string]any{"text": "a"}}}},
		},
		Assertions: []Assertion{
			{Type: AssertCount, Entity: "Note", Count: 5},
			{Type: AssertRecord, Entity: "Note", ID: "n1", Fields: map[string]any{"text": "b"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "5 Note record(s)")
	assert.Contains(t, result.Errors[1], `field "text" = "b"`)
}

func TestRun_UpdateMissingRecord(t *testing.T) {
	scenario := &Scenario{
		Name:        "update_missing",
		Description: "Updating a record that does not exist fails the write",
		Steps: []Step{
			{
				Op:      OpWrite,
				Actions: []Action{{Update: "Note", ID: "ghost", Fields: map[string]any{"text": "x"}}},
				Expect:  &Expect{Error: "SAVE"},
			},
		},
		Assertions: []Assertion{{Type: AssertPublished, Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FloatFieldsRejected(t *testing.T) {
	scenario := &Scenario{
		Name:        "float_field",
		Description: "Floats cannot be stored",
		Steps: []Step{
			{
				Op:      OpWrite,
				Actions: []Action{{Put: "Note", ID: "n1", Fields: map[string]any{"score": 1.5}}},
				Expect:  &Expect{Error: "SAVE"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BadSchemaPath(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_schema",
		Description: "Schema load failures are harness errors",
		Schema:      filepath.Join(t.TempDir(), "missing.cue"),
		Steps:       []Step{{Op: OpFlush}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
