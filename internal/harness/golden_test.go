package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceJSON_Canonical(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Op: OpWrite, Outcome: "SAVE"})
	result.AddTrace(TraceEvent{Seq: 2, Op: OpRead, Outcome: OutcomeOK, Entity: "User", Count: intp(1), IDs: []string{"u1"}})

	got, err := TraceJSON("example", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"example","trace":[{"op":"write","outcome":"SAVE","seq":1},{"count":1,"entity":"User","ids":["u1"],"op":"read","outcome":"ok","seq":2}]}`,
		string(got))
}

func TestTraceJSON_EmptyRead(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Op: OpRead, Outcome: OutcomeOK, Entity: "Note", Count: intp(0), IDs: []string{}})

	got, err := TraceJSON("empty", result)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"count":0`)
	assert.Contains(t, string(got), `"ids":[]`)
}

func TestTraceJSON_Stable(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Op: OpFlush, Outcome: OutcomeOK})

	a, err := TraceJSON("stable", result)
	require.NoError(t, err)
	b, err := TraceJSON("stable", result)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAssertGolden_ExistingFixture(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Op: OpWrite, Outcome: OutcomeOK})
	result.AddTrace(TraceEvent{Seq: 2, Op: OpRead, Outcome: OutcomeOK, Entity: "User", Count: intp(1), IDs: []string{"u1"}})
	result.AddTrace(TraceEvent{Seq: 3, Op: OpFlush, Outcome: OutcomeOK})

	require.NoError(t, AssertGolden(t, "basic_write_read", result))
}
