// Package dataset models the records a context holds: immutable
// snapshots, the changesets that move between tiers, and the Tx record
// layer that mutation closures and read statements act on.
package dataset

import (
	"sort"

	"github.com/roach88/strata/internal/value"
)

// Key identifies one record.
type Key struct {
	Entity string
	ID     string
}

func (k Key) String() string {
	return k.Entity + "/" + k.ID
}

func compareKeys(a, b Key) bool {
	if a.Entity != b.Entity {
		return a.Entity < b.Entity
	}
	return a.ID < b.ID
}

// Record is one stored object.
type Record struct {
	Key
	Fields value.Object
}

// Field returns the named field or nil.
func (r Record) Field(name string) value.Value {
	return r.Fields[name]
}

// StringField returns a string field, or "" when absent or not a string.
func (r Record) StringField(name string) string {
	s, _ := r.Fields[name].(value.String)
	return string(s)
}

// Clone returns a record whose fields can be modified freely.
func (r Record) Clone() Record {
	return Record{Key: r.Key, Fields: r.Fields.Clone()}
}

// Reader is the read-only surface handed to read statements.
type Reader interface {
	Get(entity, id string) (Record, bool)
	All(entity string) []Record
	Count(entity string) int
	Find(entity string, pred func(Record) bool) []Record
	First(entity string) (Record, bool)
	Entities() []string
}

// Snapshot is an immutable view of the whole dataset. Apply returns a
// new snapshot; untouched entity tables are shared between the two.
type Snapshot struct {
	tables map[string]map[string]Record
}

var _ Reader = (*Snapshot)(nil)

// EmptySnapshot returns a snapshot with no records.
func EmptySnapshot() *Snapshot {
	return &Snapshot{tables: map[string]map[string]Record{}}
}

// NewSnapshot builds a snapshot from records. Later duplicates win.
func NewSnapshot(records []Record) *Snapshot {
	s := EmptySnapshot()
	for _, rec := range records {
		table, ok := s.tables[rec.Entity]
		if !ok {
			table = make(map[string]Record)
			s.tables[rec.Entity] = table
		}
		table[rec.ID] = rec.Clone()
	}
	return s
}

// Get returns a copy of the record, if present.
func (s *Snapshot) Get(entity, id string) (Record, bool) {
	rec, ok := s.tables[entity][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// All returns copies of every record of entity, ordered by id.
func (s *Snapshot) All(entity string) []Record {
	table := s.tables[entity]
	out := make([]Record, 0, len(table))
	for _, rec := range table {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of records of entity.
func (s *Snapshot) Count(entity string) int {
	return len(s.tables[entity])
}

// Find returns the records of entity matching pred, ordered by id.
func (s *Snapshot) Find(entity string, pred func(Record) bool) []Record {
	return filter(s.All(entity), pred)
}

// First returns the record of entity with the lowest id.
func (s *Snapshot) First(entity string) (Record, bool) {
	return first(s.All(entity))
}

// Entities lists entity names that currently hold records, sorted.
func (s *Snapshot) Entities() []string {
	out := make([]string, 0, len(s.tables))
	for name, table := range s.tables {
		if len(table) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of records.
func (s *Snapshot) Len() int {
	n := 0
	for _, table := range s.tables {
		n += len(table)
	}
	return n
}

// Records returns every record ordered by entity, then id.
func (s *Snapshot) Records() []Record {
	var out []Record
	for _, entity := range s.Entities() {
		out = append(out, s.All(entity)...)
	}
	return out
}

// Apply returns a new snapshot with cs applied. s is not modified.
// Tables cs does not touch are shared; each touched table is copied
// whole, so the cost is O(size of the touched tables), not O(len(cs)).
func (s *Snapshot) Apply(cs *Changeset) *Snapshot {
	if cs.Empty() {
		return s
	}

	next := &Snapshot{tables: make(map[string]map[string]Record, len(s.tables))}
	for name, table := range s.tables {
		next.tables[name] = table
	}

	copied := make(map[string]bool)
	for _, op := range cs.Ops() {
		if !copied[op.Entity] {
			old := next.tables[op.Entity]
			table := make(map[string]Record, len(old)+1)
			for id, rec := range old {
				table[id] = rec
			}
			next.tables[op.Entity] = table
			copied[op.Entity] = true
		}
		switch op.Kind {
		case OpUpsert:
			next.tables[op.Entity][op.ID] = op.Record.Clone()
		case OpDelete:
			delete(next.tables[op.Entity], op.ID)
		}
	}
	return next
}

func filter(records []Record, pred func(Record) bool) []Record {
	out := records[:0]
	for _, rec := range records {
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func first(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	return records[0], true
}
