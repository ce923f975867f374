// Package registry is the durable file registry: one row per logical path
// under the monitored tree, carrying the fingerprint last observed on disk
// and the ingestion status. Every service reads and writes files through
// this package — there is exactly one copy of the SQL.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/corpus/dbopen"
)

// insertBatchSize bounds multi-row statements well under SQLite's bound
// parameter limit (6 columns per row).
const insertBatchSize = 100

// Store wraps the registry database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a Store from an already-opened database. The files
// schema must have been applied (dbopen.WithSchema(registry.Schema)).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for collaborators sharing the database.
func (s *Store) DB() *sql.DB { return s.db }

const fileColumns = `path, size, fingerprint, modified_at, status, last_checked, COALESCE(raw_text, '')`

func scanRecord(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var r FileRecord
	var modAt, checked int64
	var status string
	if err := row.Scan(&r.Path, &r.Size, &r.Fingerprint, &modAt, &status, &checked, &r.RawText); err != nil {
		return nil, err
	}
	r.ModifiedAt = time.UnixMilli(modAt)
	r.LastChecked = time.UnixMilli(checked)
	r.Status = Status(status)
	return &r, nil
}

// Get returns the record for path, or nil if absent.
func (s *Store) Get(ctx context.Context, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return r, nil
}

// List returns every record. raw_text is included; callers that only need
// the disk metadata should prefer Index.
func (s *Store) List(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var result []*FileRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// IndexEntry is the slim projection of a record used by the reconciler and
// the auditor.
type IndexEntry struct {
	Fingerprint string
	Status      Status
}

// Index returns path → {fingerprint, status} for the whole registry.
func (s *Store) Index(ctx context.Context) (map[string]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, fingerprint, status FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index files: %w", err)
	}
	defer rows.Close()

	index := make(map[string]IndexEntry)
	for rows.Next() {
		var path, fp, status string
		if err := rows.Scan(&path, &fp, &status); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		index[path] = IndexEntry{Fingerprint: fp, Status: Status(status)}
	}
	return index, rows.Err()
}

// SetStatus writes a new status for path, refreshing last_checked.
func (s *Store) SetStatus(ctx context.Context, path string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("set status %s: invalid status %q", path, status)
	}
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE files SET status = ?, last_checked = ? WHERE path = ?`,
		string(status), time.Now().UnixMilli(), path)
	if err != nil {
		return fmt.Errorf("set status %s=%s: %w", path, status, err)
	}
	return nil
}

// SaveRawText persists the extracted text of a successfully parsed file.
func (s *Store) SaveRawText(ctx context.Context, path, text string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE files SET raw_text = ?, last_checked = ? WHERE path = ?`,
		text, time.Now().UnixMilli(), path)
	if err != nil {
		return fmt.Errorf("save raw text %s: %w", path, err)
	}
	return nil
}

// Remove deletes the row for path outright. Used once a deleted file's
// chunks have been purged.
func (s *Store) Remove(ctx context.Context, path string) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// StatusCounts returns the number of records per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// upsertRows writes a batch of records with the given status inside tx,
// using multi-row INSERT .. ON CONFLICT so a batch is one statement, not a
// row-by-row loop. raw_text is left untouched on conflict: a content change
// invalidates chunks, but the previous extraction stays readable until the
// pipeline replaces it.
func upsertRows(tx *sql.Tx, records []upsertRow, now int64) error {
	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		batch := records[start:end]

		query := `INSERT INTO files (path, size, fingerprint, modified_at, status, last_checked) VALUES `
		args := make([]any, 0, len(batch)*6)
		for i, r := range batch {
			if i > 0 {
				query += ","
			}
			query += "(?,?,?,?,?,?)"
			args = append(args, r.path, r.size, r.fingerprint, r.modifiedAt, string(r.status), now)
		}
		query += ` ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			fingerprint = excluded.fingerprint,
			modified_at = excluded.modified_at,
			status = excluded.status,
			last_checked = excluded.last_checked`

		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("upsert batch of %d: %w", len(batch), err)
		}
	}
	return nil
}

type upsertRow struct {
	path        string
	size        int64
	fingerprint string
	modifiedAt  int64
	status      Status
}

// setStatusRows flips a batch of paths to status inside tx with chunked
// UPDATE .. WHERE path IN (...) statements.
func setStatusRows(tx *sql.Tx, paths []string, status Status, now int64) error {
	for start := 0; start < len(paths); start += insertBatchSize {
		end := min(start+insertBatchSize, len(paths))
		batch := paths[start:end]

		query := `UPDATE files SET status = ?, last_checked = ? WHERE path IN (`
		args := make([]any, 0, len(batch)+2)
		args = append(args, string(status), now)
		for i, p := range batch {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, p)
		}
		query += ")"

		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("set %d rows to %s: %w", len(batch), status, err)
		}
	}
	return nil
}
