package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/corpus/dbopen"
)

// queueOrder selects the highest-priority queue candidate: deletions before
// updates before additions, oldest last_checked first within a class.
const queueOrder = `
	WHERE status IN ('deleted', 'updated', 'added')
	ORDER BY CASE status
		WHEN 'deleted' THEN 1
		WHEN 'updated' THEN 2
		ELSE 3
	END, last_checked ASC
	LIMIT 1`

// Next returns the record the queue would hand out next, without claiming
// it. Returns nil when the queue is empty. This is the read-only view the
// HTTP surface exposes; workers must use Claim.
func (s *Store) Next(ctx context.Context) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files`+queueOrder)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue next: %w", err)
	}
	return r, nil
}

// Claim atomically selects the next queue candidate and flips it to
// processed in one transaction, so two concurrent workers can never claim
// the same row. The returned record carries the status the row had at
// claim time (deleted, updated or added) — the pipeline branches on it —
// while the stored row is already processed. Returns nil when the queue is
// empty.
func (s *Store) Claim(ctx context.Context) (*FileRecord, error) {
	var claimed *FileRecord

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		claimed = nil
		row := tx.QueryRowContext(ctx,
			`SELECT `+fileColumns+` FROM files`+queueOrder)
		r, err := scanRecord(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select candidate: %w", err)
		}

		// Conditional flip: the status check guards against a concurrent
		// writer having moved the row between SELECT and UPDATE. Inside one
		// SQLite write transaction this cannot happen, but the row-count
		// check keeps the claim correct even without that engine guarantee.
		res, err := tx.ExecContext(ctx,
			`UPDATE files SET status = ?, last_checked = ? WHERE path = ? AND status = ?`,
			string(StatusProcessed), time.Now().UnixMilli(), r.Path, string(r.Status))
		if err != nil {
			return fmt.Errorf("flip %s to processed: %w", r.Path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n != 1 {
			return nil // lost the race; caller polls again
		}

		claimed = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	return claimed, nil
}

// ResetStale recovers work left in an indeterminate state: any row still
// processed with a last_checked older than cutoff is assumed to belong to
// a crashed worker and is returned to added. Run at startup and
// periodically.
func (s *Store) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := dbopen.Exec(ctx, s.db,
		`UPDATE files SET status = ?, last_checked = ?
		 WHERE status = ? AND last_checked < ?`,
		string(StatusAdded), time.Now().UnixMilli(), string(StatusProcessed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale: rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Warn("registry: recovered stale processed rows", "count", n, "older_than", olderThan)
	}
	return int(n), nil
}
