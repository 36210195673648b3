package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/strata/internal/dataset"
)

// CommitInfo describes one durable commit.
type CommitInfo struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	Upserts     int       `json:"upserts"`
	Deletes     int       `json:"deletes"`
	CommittedAt time.Time `json:"committed_at"`
}

// Commit writes cs in one transaction: upserts, deletes and a row in the
// commit log. An empty changeset is a no-op and returns a zero
// CommitInfo. On error nothing is written.
func (s *Store) Commit(ctx context.Context, cs *dataset.Changeset) (CommitInfo, error) {
	if cs.Empty() {
		return CommitInfo{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: %w", err)
	}

	upserts, deletes := cs.Counts()
	info := CommitInfo{
		Seq:         s.clock.Next(),
		ID:          s.ids.Generate(),
		Upserts:     upserts,
		Deletes:     deletes,
		CommittedAt: time.Now().UTC(),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: begin: %w", err)
	}
	defer tx.Rollback()

	upsert := s.rebind(`
		INSERT INTO records (entity, id, fields, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity, id) DO UPDATE SET
			fields = excluded.fields,
			seq = excluded.seq
	`)
	remove := s.rebind(`DELETE FROM records WHERE entity = ? AND id = ?`)

	for _, op := range cs.Ops() {
		switch op.Kind {
		case dataset.OpUpsert:
			fieldsJSON, err := marshalFields(op.Fields)
			if err != nil {
				return CommitInfo{}, fmt.Errorf("commit %s: %w", op.Key, err)
			}
			if _, err := tx.ExecContext(ctx, upsert, op.Entity, op.ID, fieldsJSON, info.Seq); err != nil {
				return CommitInfo{}, fmt.Errorf("commit %s: upsert: %w", op.Key, err)
			}
		case dataset.OpDelete:
			if _, err := tx.ExecContext(ctx, remove, op.Entity, op.ID); err != nil {
				return CommitInfo{}, fmt.Errorf("commit %s: delete: %w", op.Key, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO commits (seq, id, upserts, deletes, committed_at)
		VALUES (?, ?, ?, ?, ?)
	`), info.Seq, info.ID, info.Upserts, info.Deletes, info.CommittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit: log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CommitInfo{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("store commit",
		"seq", info.Seq,
		"commit", info.ID,
		"upserts", info.Upserts,
		"deletes", info.Deletes)
	return info, nil
}
