// Package store provides the durable object store at the bottom of the
// persistence pipeline.
//
// A Store holds:
//   - records: one row per (entity, id), fields as canonical JSON
//   - commits: the commit log, one row per durable commit
//   - store_meta: format version and the schema hash recorded on first open
//
// # Backings
//
//   - file: SQLite file (WAL mode, synchronous=NORMAL, busy_timeout=5000)
//   - memory: SQLite in-memory database, tagged "ephemeral"
//   - postgres: PostgreSQL via lib/pq
//
// SQLite is reached through github.com/mattn/go-sqlite3 ("sqlite3", the
// default) or modernc.org/sqlite ("sqlite", pure Go).
//
// # Single Writer
//
// Every backing is opened with one connection. Commits are serialized and
// stamped with a strictly increasing seq from a logical clock that resumes
// at MAX(seq) on open. Failed commits may leave gaps.
//
// At most one Store may be open per location in a process; a second Open
// fails with a BUSY_LOCATION error until the first is closed.
package store
