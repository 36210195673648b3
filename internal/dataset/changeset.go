package dataset

import "sort"

// OpKind distinguishes upserts from deletes.
type OpKind int

const (
	// OpUpsert stores the full record.
	OpUpsert OpKind = iota + 1
	// OpDelete removes the record.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is the latest pending operation for one key.
type Op struct {
	Kind OpKind
	Record
}

// Changeset holds pending operations keyed by record. A later operation
// on the same key replaces the earlier one (last writer wins).
//
// Not safe for concurrent use; each changeset belongs to one context.
type Changeset struct {
	ops map[Key]Op
}

// NewChangeset returns an empty changeset.
func NewChangeset() *Changeset {
	return &Changeset{ops: make(map[Key]Op)}
}

// Upsert records a full-record write.
func (c *Changeset) Upsert(rec Record) {
	c.ops[rec.Key] = Op{Kind: OpUpsert, Record: rec.Clone()}
}

// Delete records a removal.
func (c *Changeset) Delete(key Key) {
	c.ops[key] = Op{Kind: OpDelete, Record: Record{Key: key}}
}

// Lookup returns the pending operation for key.
func (c *Changeset) Lookup(key Key) (Op, bool) {
	if c == nil {
		return Op{}, false
	}
	op, ok := c.ops[key]
	return op, ok
}

// Merge folds later into c. Operations in later win.
func (c *Changeset) Merge(later *Changeset) {
	if later == nil {
		return
	}
	for k, op := range later.ops {
		c.ops[k] = op
	}
}

// Clone returns an independent copy.
func (c *Changeset) Clone() *Changeset {
	out := NewChangeset()
	out.Merge(c)
	return out
}

// Len returns the number of keys with pending operations.
func (c *Changeset) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ops)
}

// Empty reports whether there is nothing pending.
func (c *Changeset) Empty() bool {
	return c.Len() == 0
}

// Ops returns the operations ordered by entity, then id.
func (c *Changeset) Ops() []Op {
	if c == nil {
		return nil
	}
	out := make([]Op, 0, len(c.ops))
	for _, op := range c.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return compareKeys(out[i].Key, out[j].Key) })
	return out
}

// Counts returns the number of upserts and deletes.
func (c *Changeset) Counts() (upserts, deletes int) {
	if c == nil {
		return 0, 0
	}
	for _, op := range c.ops {
		if op.Kind == OpDelete {
			deletes++
		} else {
			upserts++
		}
	}
	return upserts, deletes
}

// Upserts returns the upserted records ordered by entity, then id.
func (c *Changeset) Upserts() []Record {
	var out []Record
	for _, op := range c.Ops() {
		if op.Kind == OpUpsert {
			out = append(out, op.Record)
		}
	}
	return out
}

// Deletes returns the deleted keys ordered by entity, then id.
func (c *Changeset) Deletes() []Key {
	var out []Key
	for _, op := range c.Ops() {
		if op.Kind == OpDelete {
			out = append(out, op.Key)
		}
	}
	return out
}
