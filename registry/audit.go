package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/corpus/dbopen"
)

// AuditSummary aggregates what one audit pass changed.
type AuditSummary struct {
	OK      int `json:"ok"`
	Updated int `json:"updated"`
	Added   int `json:"added"`
	Orphans int `json:"orphans"`
}

// Audit cross-checks the registry against the derived chunk store, whose
// contents are summarised as derived: path → fingerprint of the chunks
// currently persisted for that path. It catches drift a disk diff cannot
// see — chunks purged behind the registry's back, or a rename aliasing one
// file's hash onto another path.
//
// Rows currently deleted, updated, processed or error are mid-transition
// and left untouched. For the rest:
//
//   - chunks present with a matching fingerprint       → ok
//   - chunks present with a differing fingerprint      → updated
//   - chunks absent but fingerprint found under another
//     path (likely rename)                             → updated
//   - chunks absent entirely                           → added
//
// Only rows whose computed status differs from the stored one are written.
// Derived paths with no registry row are logged as orphans, never deleted:
// purging chunks is the pipeline's job, triggered by an explicit deleted
// status.
func (s *Store) Audit(ctx context.Context, derived map[string]string) (AuditSummary, error) {
	index, err := s.Index(ctx)
	if err != nil {
		return AuditSummary{}, fmt.Errorf("audit: %w", err)
	}

	// Reverse map for rename detection: fingerprint → derived path.
	byFingerprint := make(map[string]string, len(derived))
	for path, fp := range derived {
		byFingerprint[fp] = path
	}

	var summary AuditSummary
	flips := make(map[Status][]string)

	for path, entry := range index {
		switch entry.Status {
		case StatusDeleted, StatusUpdated, StatusProcessed, StatusError:
			continue
		}

		var want Status
		if fp, ok := derived[path]; ok {
			if fp == entry.Fingerprint {
				want = StatusOK
				summary.OK++
			} else {
				want = StatusUpdated
				summary.Updated++
			}
		} else if other, ok := byFingerprint[entry.Fingerprint]; ok && other != path {
			want = StatusUpdated
			summary.Updated++
		} else {
			want = StatusAdded
			summary.Added++
		}

		if want != entry.Status {
			flips[want] = append(flips[want], path)
		}
	}

	for path := range derived {
		if _, ok := index[path]; !ok {
			summary.Orphans++
			s.logger.Warn("registry: orphan chunks with no registry row", "path", path)
		}
	}

	total := 0
	for _, paths := range flips {
		total += len(paths)
	}
	if total == 0 {
		return summary, nil
	}

	now := time.Now().UnixMilli()
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for status, paths := range flips {
			if err := setStatusRows(tx, paths, status, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return AuditSummary{}, fmt.Errorf("audit: %w", err)
	}

	s.logger.Info("registry: audited",
		"ok", summary.OK,
		"updated", summary.Updated,
		"added", summary.Added,
		"orphans", summary.Orphans,
		"written", total,
	)
	return summary, nil
}
