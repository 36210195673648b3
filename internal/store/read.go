package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/strata/internal/dataset"
)

// Load reads the whole dataset. Records are ordered by entity, then id.
func (s *Store) Load(ctx context.Context) (*dataset.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT entity, id, fields
		FROM records
		ORDER BY entity ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []dataset.Record
	for rows.Next() {
		var rec dataset.Record
		var fieldsJSON string
		if err := rows.Scan(&rec.Entity, &rec.ID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Fields, err = unmarshalFields(fieldsJSON)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.Key, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return dataset.NewSnapshot(records), nil
}

// Commits returns the commit log, newest first. A limit <= 0 returns
// every commit.
func (s *Store) Commits(ctx context.Context, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return nil, fmt.Errorf("commits: %w", err)
	}

	query := `SELECT seq, id, upserts, deletes, committed_at FROM commits ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []CommitInfo{}
	for rows.Next() {
		var c CommitInfo
		var at string
		if err := rows.Scan(&c.Seq, &c.ID, &c.Upserts, &c.Deletes, &at); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.CommittedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("commit %d: parse time: %w", c.Seq, err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}

	return commits, nil
}

// Count returns the number of stored records of entity.
func (s *Store) Count(ctx context.Context, entity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	var n int
	err = db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM records WHERE entity = ?`), entity).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}
