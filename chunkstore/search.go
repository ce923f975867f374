package chunkstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/corpus/embedder"
)

// SearchResult is one scored chunk.
type SearchResult struct {
	Record
	Score float64 `json:"score"`
}

// Search scans every embedded chunk and returns the limit best cosine
// matches, highest first. Brute force: the store holds one directory
// tree's worth of chunks, small enough that a linear scan beats carrying
// an index.
func (s *Store) Search(ctx context.Context, query []float32, limit int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("search: empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_hash, file_path, chunk_index, content, embedding, created_at
		 FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r Record
		var blob []byte
		var created int64
		if err := rows.Scan(&r.ID, &r.FileHash, &r.FilePath, &r.ChunkIndex,
			&r.Content, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(blob) == 0 {
			continue
		}
		vec := embedder.DeserializeVector(blob)
		if len(vec) != len(query) {
			continue
		}
		r.CreatedAt = time.UnixMilli(created)
		results = append(results, SearchResult{
			Record: r,
			Score:  embedder.CosineSimilarity(query, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
