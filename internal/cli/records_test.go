package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/value"
)

// dbArgs prefixes args with a fresh --db in an empty working directory.
func dbArgs(t *testing.T) func(args ...string) []string {
	t.Helper()
	chdir(t, t.TempDir())
	db := filepath.Join(t.TempDir(), "cli.db")
	return func(args ...string) []string {
		return append([]string{"--db", db}, args...)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	with := dbArgs(t)

	out, err := execute(t, with("put", "User", "u1", "firstname=Ada", "age=36", `tags=["math"]`, "admin=true")...)
	require.NoError(t, err)
	assert.Equal(t, "User/u1 {\"admin\":true,\"age\":36,\"firstname\":\"Ada\",\"tags\":[\"math\"]}\n", out)

	out, err = execute(t, with("get", "User", "u1")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"firstname":"Ada"`)

	out, err = execute(t, with("--format", "json", "get", "User", "u1")...)
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   RecordView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "u1", resp.Data.ID)
	assert.Equal(t, value.String("Ada"), resp.Data.Fields["firstname"])
}

func TestPutGeneratesID(t *testing.T) {
	with := dbArgs(t)

	out, err := execute(t, with("put", "Note", "text=hello")...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Note/"))

	out, err = execute(t, with("count", "Note")...)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestPutBadArgs(t *testing.T) {
	with := dbArgs(t)

	_, err := execute(t, with("put", "User", "u1", "=oops")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, with("put", "User", "u1", "n=1.5")...)
	require.NoError(t, err, "non-integer numbers are strings")

	_, err = execute(t, with("put", "User", "u1", `x=[1.5]`)...)
	require.Error(t, err, "floats inside JSON are rejected")
}

func TestPutRejectedBySchema(t *testing.T) {
	with := dbArgs(t)
	schemaPath := filepath.Join(t.TempDir(), "people.cue")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testutil.PeopleSchema), 0o644))

	out, err := execute(t, with("--schema", schemaPath, "--format", "json", "put", "User", "u1", "lastname=Lovelace")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "SAVE", resp.Error.Code)

	out, err = execute(t, with("--schema", schemaPath, "count", "User")...)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestGetMissing(t *testing.T) {
	with := dbArgs(t)

	out, err := execute(t, with("get", "User", "nobody")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "record not found")
}

func TestListAndDelete(t *testing.T) {
	with := dbArgs(t)

	for _, id := range []string{"n2", "n1", "n3"} {
		_, err := execute(t, with("put", "Note", id, "text="+id)...)
		require.NoError(t, err)
	}

	out, err := execute(t, with("list", "Note")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Note/n1 "))
	assert.True(t, strings.HasPrefix(lines[2], "Note/n3 "))

	out, err = execute(t, with("delete", "Note", "n2")...)
	require.NoError(t, err)
	assert.Equal(t, "deleted 1\n", out)

	_, err = execute(t, with("delete", "Note", "n2")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, with("delete", "Note", "--all")...)
	require.NoError(t, err)
	assert.Equal(t, "deleted 2\n", out)

	out, err = execute(t, with("list", "Note")...)
	require.NoError(t, err)
	assert.Equal(t, "No Note records.\n", out)
}

func TestDeleteArgs(t *testing.T) {
	with := dbArgs(t)

	_, err := execute(t, with("delete", "Note")...)
	require.Error(t, err)

	_, err = execute(t, with("delete", "Note", "n1", "--all")...)
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want value.Value
	}{
		{"null", value.Null{}},
		{"true", value.Bool(true)},
		{"false", value.Bool(false)},
		{"42", value.Int(42)},
		{"-7", value.Int(-7)},
		{"Ada", value.String("Ada")},
		{"", value.String("")},
		{`"42"`, value.String("42")},
		{`[1,"a"]`, value.List{value.Int(1), value.String("a")}},
		{`{"k":true}`, value.Object{"k": value.Bool(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseValue(tt.raw)
			require.NoError(t, err)
			assert.True(t, value.Equal(tt.want, got), "got %#v", got)
		})
	}

	_, err := parseValue("{broken")
	require.Error(t, err)
}

func TestParsePutArgs(t *testing.T) {
	entity, id, fields, err := parsePutArgs([]string{"User", "u1", "a=1"})
	require.NoError(t, err)
	assert.Equal(t, "User", entity)
	assert.Equal(t, "u1", id)
	assert.Equal(t, value.Object{"a": value.Int(1)}, fields)

	_, id, _, err = parsePutArgs([]string{"User", "a=1"})
	require.NoError(t, err)
	assert.Empty(t, id)

	_, _, _, err = parsePutArgs([]string{"User", "a=1", "a=2"})
	require.Error(t, err)

	_, _, _, err = parsePutArgs([]string{"User", "u1", "u2"})
	require.Error(t, err)
}
