package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/strata/internal/schema"
)

// Kind selects the backing of a store.
type Kind string

const (
	KindFile     Kind = "file"
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
)

// Driver selects the SQLite implementation for file and memory stores.
type Driver string

const (
	// DriverSQLite3 is github.com/mattn/go-sqlite3 (cgo).
	DriverSQLite3 Driver = "sqlite3"
	// DriverModernc is modernc.org/sqlite (pure Go).
	DriverModernc Driver = "sqlite"
)

// Descriptor identifies a store: where it lives and what it holds.
type Descriptor struct {
	Kind   Kind
	Path   string // file
	URL    string // postgres
	Driver Driver // file, memory; defaults to DriverSQLite3
	Schema *schema.Schema
}

// File describes a SQLite file store.
func File(path string, s *schema.Schema) Descriptor {
	return Descriptor{Kind: KindFile, Path: path, Schema: s}
}

// Memory describes an ephemeral in-memory store.
func Memory(s *schema.Schema) Descriptor {
	return Descriptor{Kind: KindMemory, Schema: s}
}

// Postgres describes a PostgreSQL store.
func Postgres(url string, s *schema.Schema) Descriptor {
	return Descriptor{Kind: KindPostgres, URL: url, Schema: s}
}

// Validate checks that the descriptor names a usable backing.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindFile:
		if d.Path == "" {
			return errors.New("file store requires a path")
		}
	case KindMemory:
	case KindPostgres:
		if d.URL == "" {
			return errors.New("postgres store requires a url")
		}
		return nil
	default:
		return fmt.Errorf("unknown store kind %q", d.Kind)
	}

	switch d.Driver {
	case "", DriverSQLite3, DriverModernc:
		return nil
	default:
		return fmt.Errorf("unknown sqlite driver %q", d.Driver)
	}
}

// Location returns the identity of the backing: the absolute file path,
// the postgres URL, or a fresh "ephemeral:<uuid>" for memory stores, so
// that every in-memory open is distinct.
func (d Descriptor) Location() (string, error) {
	switch d.Kind {
	case KindFile:
		abs, err := filepath.Abs(d.Path)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		return abs, nil
	case KindMemory:
		return "ephemeral:" + uuid.NewString(), nil
	case KindPostgres:
		return d.URL, nil
	default:
		return "", fmt.Errorf("unknown store kind %q", d.Kind)
	}
}

// Ephemeral reports whether the store lives only in memory.
func (d Descriptor) Ephemeral() bool {
	return d.Kind == KindMemory
}

func (d Descriptor) driverName() string {
	if d.Kind == KindPostgres {
		return "postgres"
	}
	if d.Driver == "" {
		return string(DriverSQLite3)
	}
	return string(d.Driver)
}

func (d Descriptor) dsn() string {
	switch d.Kind {
	case KindMemory:
		return ":memory:"
	case KindPostgres:
		return d.URL
	default:
		return d.Path
	}
}
