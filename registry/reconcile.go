package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/corpus/dbopen"
	"github.com/hazyhaar/corpus/fsscan"
)

// Summary aggregates what one reconciliation pass changed.
type Summary struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// Reconcile diffs a fresh disk snapshot against the registry and applies
// the minimal set of writes to make the registry reflect the snapshot.
//
// Per path present in both: a matching fingerprint is a no-op unless the
// row is deleted (the file reappeared) or carries a status outside the
// enum (repaired to updated); a differing fingerprint refreshes size,
// fingerprint and modified_at and flips the row to updated. Snapshot paths
// missing from the registry are inserted as added. Registry paths missing
// from the snapshot are flipped to deleted.
//
// All writes happen set-based inside one transaction. Reconciling the same
// snapshot twice performs zero writes on the second pass.
func (s *Store) Reconcile(ctx context.Context, snapshot []fsscan.FileInfo) (Summary, error) {
	index, err := s.Index(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: %w", err)
	}

	now := time.Now().UnixMilli()

	var (
		summary     Summary
		inserts     []upsertRow
		refreshes   []upsertRow
		flipUpdated []string
		vanished    []string
	)

	onDisk := make(map[string]struct{}, len(snapshot))
	for _, f := range snapshot {
		onDisk[f.Path] = struct{}{}

		entry, known := index[f.Path]
		if !known {
			inserts = append(inserts, upsertRow{
				path:        f.Path,
				size:        f.Size,
				fingerprint: f.Fingerprint,
				modifiedAt:  f.ModifiedAt.UnixMilli(),
				status:      StatusAdded,
			})
			continue
		}

		if entry.Fingerprint == f.Fingerprint {
			switch {
			case entry.Status == StatusDeleted:
				// File reappeared before its deletion drained.
				flipUpdated = append(flipUpdated, f.Path)
			case !entry.Status.Valid():
				flipUpdated = append(flipUpdated, f.Path)
			default:
				summary.Unchanged++
			}
			continue
		}

		refreshes = append(refreshes, upsertRow{
			path:        f.Path,
			size:        f.Size,
			fingerprint: f.Fingerprint,
			modifiedAt:  f.ModifiedAt.UnixMilli(),
			status:      StatusUpdated,
		})
	}

	for path, entry := range index {
		if _, ok := onDisk[path]; ok {
			continue
		}
		if entry.Status == StatusDeleted {
			// Already flagged; the queue will drain it.
			continue
		}
		vanished = append(vanished, path)
	}

	summary.Added = len(inserts)
	summary.Updated = len(refreshes) + len(flipUpdated)
	summary.Deleted = len(vanished)

	if len(inserts)+len(refreshes)+len(flipUpdated)+len(vanished) == 0 {
		return summary, nil
	}

	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := upsertRows(tx, inserts, now); err != nil {
			return err
		}
		if err := upsertRows(tx, refreshes, now); err != nil {
			return err
		}
		if err := setStatusRows(tx, flipUpdated, StatusUpdated, now); err != nil {
			return err
		}
		return setStatusRows(tx, vanished, StatusDeleted, now)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: %w", err)
	}

	s.logger.Info("registry: reconciled",
		"added", summary.Added,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"deleted", summary.Deleted,
	)
	return summary, nil
}
