package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
)

// PeopleSchema is a small schema used across package tests.
const PeopleSchema = `
schema: name: "people"
entity: User: {
	firstname: string
	lastname?: string
	age?:      int
}
entity: Note: {
	text: string
}
`

// MustSchema compiles src or fails the test.
func MustSchema(t testing.TB, src string) *schema.Schema {
	t.Helper()
	s, err := schema.CompileString(src)
	require.NoError(t, err)
	return s
}

// FileDescriptor returns a descriptor for a fresh SQLite file in a
// temporary directory.
func FileDescriptor(t testing.TB, s *schema.Schema) store.Descriptor {
	t.Helper()
	return store.File(filepath.Join(t.TempDir(), "strata.db"), s)
}
