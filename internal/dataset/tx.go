package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/value"
)

var (
	// ErrNotFound is returned by Update for a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("record already exists")
)

// Tx is the record layer handed to a mutation closure. Reads see the
// base snapshot overlaid with the closure's own earlier writes.
//
// A Tx is used by one goroutine for the duration of one closure.
type Tx struct {
	base    *Snapshot
	changes *Changeset
	ids     ids.Generator
}

var _ Reader = (*Tx)(nil)

// NewTx opens a record layer over base. A nil gen uses UUIDv7.
func NewTx(base *Snapshot, gen ids.Generator) *Tx {
	if base == nil {
		base = EmptySnapshot()
	}
	if gen == nil {
		gen = ids.UUIDv7Generator{}
	}
	return &Tx{base: base, changes: NewChangeset(), ids: gen}
}

// Changes returns the operations performed so far.
func (tx *Tx) Changes() *Changeset {
	return tx.changes
}

// Get returns the record as seen by this transaction.
func (tx *Tx) Get(entity, id string) (Record, bool) {
	if op, ok := tx.changes.Lookup(Key{Entity: entity, ID: id}); ok {
		if op.Kind == OpDelete {
			return Record{}, false
		}
		return op.Record.Clone(), true
	}
	return tx.base.Get(entity, id)
}

// All returns every visible record of entity, ordered by id.
func (tx *Tx) All(entity string) []Record {
	byID := make(map[string]Record)
	for _, rec := range tx.base.All(entity) {
		byID[rec.ID] = rec
	}
	for _, op := range tx.changes.Ops() {
		if op.Entity != entity {
			continue
		}
		switch op.Kind {
		case OpUpsert:
			byID[op.ID] = op.Record.Clone()
		case OpDelete:
			delete(byID, op.ID)
		}
	}

	out := make([]Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of visible records of entity. It rebuilds
// the visible table, so it is O(table size) per call.
func (tx *Tx) Count(entity string) int {
	return len(tx.All(entity))
}

// Find returns the visible records of entity matching pred.
func (tx *Tx) Find(entity string, pred func(Record) bool) []Record {
	return filter(tx.All(entity), pred)
}

// First returns the visible record of entity with the lowest id.
func (tx *Tx) First(entity string) (Record, bool) {
	return first(tx.All(entity))
}

// Entities lists entity names with at least one visible record. Each
// call walks every table and the closure's writes.
func (tx *Tx) Entities() []string {
	seen := make(map[string]bool)
	for _, name := range tx.base.Entities() {
		seen[name] = true
	}
	for _, op := range tx.changes.Ops() {
		seen[op.Entity] = true
	}
	var out []string
	for name := range seen {
		if tx.Count(name) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Create inserts a new record. The id comes from fields["id"] when it
// is a non-empty string, otherwise from the generator.
func (tx *Tx) Create(entity string, fields value.Object) (Record, error) {
	if entity == "" {
		return Record{}, errors.New("create: entity name is required")
	}

	fields = fields.Clone()
	if fields == nil {
		fields = value.Object{}
	}

	var id string
	if raw, ok := fields["id"]; ok {
		s, isString := raw.(value.String)
		if !isString || s == "" {
			return Record{}, fmt.Errorf("create %s: id must be a non-empty string", entity)
		}
		id = string(s)
		delete(fields, "id")
	} else {
		id = tx.ids.Generate()
	}

	if _, exists := tx.Get(entity, id); exists {
		return Record{}, fmt.Errorf("create %s/%s: %w", entity, id, ErrExists)
	}

	rec := Record{Key: Key{Entity: entity, ID: id}, Fields: fields}
	tx.changes.Upsert(rec)
	return rec.Clone(), nil
}

// Put stores fields under entity/id, replacing any existing record.
func (tx *Tx) Put(entity, id string, fields value.Object) Record {
	fields = fields.Clone()
	if fields == nil {
		fields = value.Object{}
	}
	delete(fields, "id")

	rec := Record{Key: Key{Entity: entity, ID: id}, Fields: fields}
	tx.changes.Upsert(rec)
	return rec.Clone()
}

// Update merges patch into an existing record. A Null in patch removes
// the field.
func (tx *Tx) Update(entity, id string, patch value.Object) (Record, error) {
	rec, ok := tx.Get(entity, id)
	if !ok {
		return Record{}, fmt.Errorf("update %s/%s: %w", entity, id, ErrNotFound)
	}
	if rec.Fields == nil {
		rec.Fields = value.Object{}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		if _, isNull := v.(value.Null); isNull {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = value.Clone(v)
	}
	tx.changes.Upsert(rec)
	return rec.Clone(), nil
}

// Delete removes entity/id and reports whether it was visible.
func (tx *Tx) Delete(entity, id string) bool {
	_, ok := tx.Get(entity, id)
	if ok {
		tx.changes.Delete(Key{Entity: entity, ID: id})
	}
	return ok
}

// DeleteAll removes every visible record of entity and returns how many.
func (tx *Tx) DeleteAll(entity string) int {
	records := tx.All(entity)
	for _, rec := range records {
		tx.changes.Delete(rec.Key)
	}
	return len(records)
}
