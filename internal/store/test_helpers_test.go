package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/value"
)

// createTestStore opens a file store in a temp dir with stable commit ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), File(path, nil), WithIDGenerator(ids.NewSequenceGenerator("commit")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSchema(t *testing.T, src string) *schema.Schema {
	t.Helper()
	s, err := schema.CompileString(src)
	if err != nil {
		t.Fatalf("CompileString() failed: %v", err)
	}
	return s
}

// changes builds a changeset of User upserts keyed by id → firstname.
func changes(users map[string]string, deletes ...string) *dataset.Changeset {
	cs := dataset.NewChangeset()
	for id, name := range users {
		cs.Upsert(dataset.Record{
			Key:    dataset.Key{Entity: "User", ID: id},
			Fields: value.Object{"firstname": value.String(name)},
		})
	}
	for _, id := range deletes {
		cs.Delete(dataset.Key{Entity: "User", ID: id})
	}
	return cs
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
