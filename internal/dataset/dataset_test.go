package dataset

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/value"
)

func user(id, first string) Record {
	return Record{
		Key:    Key{Entity: "User", ID: id},
		Fields: value.Object{"firstname": value.String(first)},
	}
}

func TestSnapshot_ApplySharesUntouchedTables(t *testing.T) {
	base := NewSnapshot([]Record{
		user("u1", "Ann"),
		{Key: Key{Entity: "Group", ID: "g1"}, Fields: value.Object{"title": value.String("ops")}},
	})

	cs := NewChangeset()
	cs.Upsert(user("u2", "Bob"))
	next := base.Apply(cs)

	assert.Equal(t, 1, base.Count("User"), "base is not modified")
	assert.Equal(t, 2, next.Count("User"))

	// Group table was not touched and is shared.
	assert.Equal(t,
		ptrOf(base.tables["Group"]),
		ptrOf(next.tables["Group"]))

	// The touched table is a whole copy.
	assert.NotEqual(t,
		ptrOf(base.tables["User"]),
		ptrOf(next.tables["User"]))
	assert.Len(t, next.tables["User"], 2)
}

func ptrOf(m map[string]Record) uintptr {
	return reflect.ValueOf(m).Pointer()
}

func TestSnapshot_ApplyEmptyReturnsSame(t *testing.T) {
	base := NewSnapshot([]Record{user("u1", "Ann")})
	assert.Same(t, base, base.Apply(NewChangeset()))
}

func TestSnapshot_AccessorsReturnClones(t *testing.T) {
	s := NewSnapshot([]Record{user("u1", "Ann")})

	rec, ok := s.Get("User", "u1")
	require.True(t, ok)
	rec.Fields["firstname"] = value.String("mutated")

	again, _ := s.Get("User", "u1")
	assert.Equal(t, "Ann", again.StringField("firstname"))
}

func TestSnapshot_EntitiesAndRecords(t *testing.T) {
	s := NewSnapshot([]Record{
		user("u2", "Bob"),
		user("u1", "Ann"),
		{Key: Key{Entity: "Group", ID: "g1"}},
	})

	assert.Equal(t, []string{"Group", "User"}, s.Entities())
	assert.Equal(t, 3, s.Len())

	records := s.Records()
	require.Len(t, records, 3)
	assert.Equal(t, Key{Entity: "Group", ID: "g1"}, records[0].Key)
	assert.Equal(t, "u1", records[1].ID)
	assert.Equal(t, "u2", records[2].ID)
}

func TestChangeset_MergeLastWriterWins(t *testing.T) {
	early := NewChangeset()
	early.Upsert(user("u1", "Ann"))
	early.Upsert(user("u2", "Bob"))

	later := NewChangeset()
	later.Upsert(user("u1", "Anna"))
	later.Delete(Key{Entity: "User", ID: "u2"})

	early.Merge(later)

	op, ok := early.Lookup(Key{Entity: "User", ID: "u1"})
	require.True(t, ok)
	assert.Equal(t, "Anna", op.StringField("firstname"))

	assert.Equal(t, []Key{{Entity: "User", ID: "u2"}}, early.Deletes())
	require.Len(t, early.Upserts(), 1)

	upserts, deletes := early.Counts()
	assert.Equal(t, 1, upserts)
	assert.Equal(t, 1, deletes)
}

func TestChangeset_OpsDeterministicOrder(t *testing.T) {
	cs := NewChangeset()
	cs.Upsert(user("b", "B"))
	cs.Delete(Key{Entity: "Group", ID: "z"})
	cs.Upsert(user("a", "A"))

	ops := cs.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, "Group", ops[0].Entity)
	assert.Equal(t, "a", ops[1].ID)
	assert.Equal(t, "b", ops[2].ID)
}

func TestChangeset_NilIsEmpty(t *testing.T) {
	var cs *Changeset
	assert.True(t, cs.Empty())
	assert.Nil(t, cs.Ops())
}

func TestTx_ReadsSeeOwnWrites(t *testing.T) {
	base := NewSnapshot([]Record{user("u1", "Ann"), user("u2", "Bob")})
	tx := NewTx(base, ids.NewSequenceGenerator("rec"))

	created, err := tx.Create("User", value.Object{"firstname": value.String("Cid")})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", created.ID)

	assert.True(t, tx.Delete("User", "u1"))
	assert.Equal(t, 2, tx.Count("User"))

	_, ok := tx.Get("User", "u1")
	assert.False(t, ok)

	got, ok := tx.Get("User", "rec-1")
	require.True(t, ok)
	assert.Equal(t, "Cid", got.StringField("firstname"))

	assert.Equal(t, 2, base.Count("User"), "base snapshot is untouched")
}

func TestTx_CreateWithExplicitID(t *testing.T) {
	tx := NewTx(nil, nil)

	rec, err := tx.Create("User", value.Object{"id": value.String("fixed"), "firstname": value.String("A")})
	require.NoError(t, err)
	assert.Equal(t, "fixed", rec.ID)
	assert.NotContains(t, rec.Fields, "id")

	_, err = tx.Create("User", value.Object{"id": value.String("fixed")})
	require.ErrorIs(t, err, ErrExists)

	_, err = tx.Create("User", value.Object{"id": value.Int(3)})
	require.Error(t, err)
}

func TestTx_CreateGeneratesUUIDv7(t *testing.T) {
	tx := NewTx(nil, nil)
	rec, err := tx.Create("User", nil)
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
}

func TestTx_Update(t *testing.T) {
	base := NewSnapshot([]Record{{
		Key:    Key{Entity: "User", ID: "u1"},
		Fields: value.Object{"firstname": value.String("Ann"), "age": value.Int(30)},
	}})
	tx := NewTx(base, nil)

	rec, err := tx.Update("User", "u1", value.Object{"age": value.Null{}, "lastname": value.String("Lee")})
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, "age")
	assert.Equal(t, "Lee", rec.StringField("lastname"))
	assert.Equal(t, "Ann", rec.StringField("firstname"))

	_, err = tx.Update("User", "ghost", value.Object{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTx_DeleteAllAndFind(t *testing.T) {
	base := NewSnapshot([]Record{user("u1", "Ann"), user("u2", "Bob"), user("u3", "Ann")})
	tx := NewTx(base, nil)

	anns := tx.Find("User", func(r Record) bool { return r.StringField("firstname") == "Ann" })
	require.Len(t, anns, 2)

	first, ok := tx.First("User")
	require.True(t, ok)
	assert.Equal(t, "u1", first.ID)

	tx.Put("Group", "g1", value.Object{"title": value.String("ops")})
	assert.Equal(t, []string{"Group", "User"}, tx.Entities())

	assert.Equal(t, 3, tx.DeleteAll("User"))
	assert.Zero(t, tx.Count("User"))
	assert.Equal(t, []string{"Group"}, tx.Entities())

	_, deletes := tx.Changes().Counts()
	assert.Equal(t, 3, deletes)
}

func TestTx_DeleteMissingIsNoop(t *testing.T) {
	tx := NewTx(nil, nil)
	assert.False(t, tx.Delete("User", "nobody"))
	assert.True(t, tx.Changes().Empty())
}
