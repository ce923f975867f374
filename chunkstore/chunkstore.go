// Package chunkstore is the derived store: one row per extracted text
// segment, each carrying the fingerprint of the file generation it was cut
// from and, once embedded, its vector. Its contents are wholly derived
// from the registry and must eventually agree with it — the registry's
// auditor consumes FingerprintsByPath to check that.
//
// A file's chunk set is only ever replaced whole: ReplaceFile deletes the
// previous generation and inserts the new one in a single transaction, so
// readers never observe two generations interleaved.
package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/corpus/dbopen"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/idgen"
)

// Schema is the chunks table. embedding is a little-endian float32 blob;
// metadata holds whatever extra attributes the parser attached, as JSON.
const Schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT PRIMARY KEY,
    file_hash   TEXT NOT NULL,
    file_path   TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content     TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}',
    embedding   BLOB,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(file_hash);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(file_path);
`

// Record is one stored chunk.
type Record struct {
	ID         string            `json:"id"`
	FileHash   string            `json:"file_hash"`
	FilePath   string            `json:"file_path"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Store wraps the chunks table.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// NewStore creates a Store from an already-opened database. The chunks
// schema must have been applied (dbopen.WithSchema(chunkstore.Schema)).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, newID: idgen.Prefixed("chk_", idgen.Default), logger: logger}
}

// ReplaceFile atomically swaps in a new chunk generation for fileHash:
// any chunks stored under that hash or under filePath (the previous
// generation, whatever hash it carried) are deleted, then the new set is
// inserted, all in one transaction. Running it twice with the same input
// leaves exactly one generation. A failure rolls everything back, so a
// failed run leaves the store with zero chunks for the file rather than a
// mixed set.
//
// The delete is deliberately deferred to this call instead of happening
// before the caller embeds: an embed failure then leaves the previous
// generation fully in place instead of a purged file, and the swap stays
// atomic either way.
func (s *Store) ReplaceFile(ctx context.Context, fileHash, filePath string, records []Record) error {
	now := time.Now().UnixMilli()

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE file_hash = ? OR file_path = ?`, fileHash, filePath); err != nil {
			return fmt.Errorf("delete prior generation: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, file_hash, file_path, chunk_index, content, metadata, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range records {
			meta := r.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			metaJSON, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal metadata for chunk %d: %w", i, err)
			}

			var blob []byte
			if len(r.Embedding) > 0 {
				blob = embedder.SerializeVector(r.Embedding)
			}

			id := r.ID
			if id == "" {
				id = s.newID()
			}

			if _, err := stmt.ExecContext(ctx,
				id, fileHash, filePath, r.ChunkIndex, r.Content, string(metaJSON), blob, now); err != nil {
				return fmt.Errorf("insert chunk %d: %w", r.ChunkIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace chunks for %s: %w", filePath, err)
	}
	return nil
}

// DeleteByHash removes every chunk of one file generation.
func (s *Store) DeleteByHash(ctx context.Context, fileHash string) (int, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM chunks WHERE file_hash = ?`, fileHash)
	if err != nil {
		return 0, fmt.Errorf("delete chunks by hash: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByPath removes every chunk stored for a path, across generations.
// Used when a file is deleted from disk.
func (s *Store) DeleteByPath(ctx context.Context, filePath string) (int, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM chunks WHERE file_path = ?`, filePath)
	if err != nil {
		return 0, fmt.Errorf("delete chunks by path: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FingerprintsByPath derives path → fingerprint from the stored chunks, the
// auditor's view of this store. A path with chunks from more than one
// generation (which ReplaceFile prevents, but drift is the point of the
// audit) reports the newest generation.
func (s *Store) FingerprintsByPath(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, file_hash, MAX(created_at)
		 FROM chunks GROUP BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("fingerprints by path: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var path, hash string
		var created int64
		if err := rows.Scan(&path, &hash, &created); err != nil {
			return nil, fmt.Errorf("scan grouping row: %w", err)
		}
		result[path] = hash
	}
	return result, rows.Err()
}

// CountByHash returns how many chunks are stored for a file generation.
func (s *Store) CountByHash(ctx context.Context, fileHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE file_hash = ?`, fileHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ListByHash returns a generation's chunks in index order.
func (s *Store) ListByHash(ctx context.Context, fileHash string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_hash, file_path, chunk_index, content, metadata, embedding, created_at
		 FROM chunks WHERE file_hash = ? ORDER BY chunk_index`, fileHash)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var metaJSON string
		var blob []byte
		var created int64
		if err := rows.Scan(&r.ID, &r.FileHash, &r.FilePath, &r.ChunkIndex,
			&r.Content, &metaJSON, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", r.ID, err)
		}
		if len(blob) > 0 {
			r.Embedding = embedder.DeserializeVector(blob)
		}
		r.CreatedAt = time.UnixMilli(created)
		result = append(result, r)
	}
	return result, rows.Err()
}
