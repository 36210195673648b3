package store

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/roach88/strata/internal/faults"
)

// Reset destroys the backing and recreates it empty at the same
// location. File stores remove the database file and its -wal and -shm
// companions; postgres stores drop their tables. The commit clock
// restarts at zero.
//
// On failure the store is left unusable and the error is a
// faults.Error with code STORE_RESET.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return faults.StoreReset("reset", err)
	}

	if s.desc.Kind == KindPostgres {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS records, commits, store_meta`); err != nil {
			return faults.StoreReset("drop tables", err)
		}
	}

	s.db = nil
	if err := db.Close(); err != nil {
		return faults.StoreReset("close", err)
	}

	if s.desc.Kind == KindFile {
		for _, path := range []string{s.desc.Path, s.desc.Path + "-wal", s.desc.Path + "-shm"} {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return faults.StoreReset("remove files", err)
			}
		}
	}

	fresh, err := s.connect(ctx)
	if err != nil {
		return faults.StoreReset("reopen", err)
	}
	s.db = fresh

	s.logger.Info("store reset", "location", s.location)
	return nil
}
