// Package chunk splits extracted document text into overlapping segments
// sized for an embedding model's context window. Splitting is
// paragraph-aware: whole paragraphs are packed into a chunk while they
// fit, and only paragraphs larger than the window are cut mid-flow.
// Consecutive chunks share a configurable word overlap so a sentence near
// a cut remains retrievable from either side.
//
// Tokens here are whitespace-delimited words — a deliberate approximation.
// The embedding backend does its own subword tokenization; what matters is
// a stable, cheap upper bound.
package chunk

import "strings"

// Chunk is one text segment.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	TokenCount  int    `json:"token_count"`
	OverlapPrev int    `json:"overlap_prev"`
}

// Options tunes splitting.
type Options struct {
	// MaxTokens is the maximum tokens per chunk. Default: 512.
	MaxTokens int `yaml:"max_tokens"`
	// OverlapTokens is how many trailing tokens of a chunk are repeated at
	// the start of the next. Default: 0.
	OverlapTokens int `yaml:"overlap_tokens"`
	// MinChunkTokens drops a trailing fragment contributing fewer than
	// this many new tokens. Default: 1.
	MinChunkTokens int `yaml:"min_chunk_tokens"`
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.MaxTokens {
		o.OverlapTokens = o.MaxTokens / 4
	}
	if o.MinChunkTokens <= 0 {
		o.MinChunkTokens = 1
	}
}

// Split cuts text into chunks. Empty or whitespace-only text yields nil.
func Split(text string, opts Options) []Chunk {
	opts.defaults()

	if CountTokens(text) == 0 {
		return nil
	}
	if CountTokens(text) <= opts.MaxTokens {
		return []Chunk{{
			Index:      0,
			Text:       strings.TrimSpace(text),
			TokenCount: CountTokens(text),
		}}
	}

	var (
		chunks     []Chunk
		cur        []string // words of the chunk being built
		curOverlap int      // how many of cur's leading words repeat the previous chunk
	)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        strings.Join(cur, " "),
			TokenCount:  len(cur),
			OverlapPrev: curOverlap,
		})
	}

	// startNext seeds the next chunk with the tail of the one just flushed.
	startNext := func(prev []string) {
		ov := min(opts.OverlapTokens, len(prev))
		cur = append([]string(nil), prev[len(prev)-ov:]...)
		curOverlap = ov
	}

	for _, para := range strings.Split(text, "\n\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}

		if len(cur)+len(words) <= opts.MaxTokens {
			cur = append(cur, words...)
			continue
		}

		// The paragraph does not fit. Close the current chunk at the
		// paragraph boundary, then window-split anything still oversized.
		if len(cur) > curOverlap {
			prev := cur
			flush()
			startNext(prev)
		}
		for len(cur)+len(words) > opts.MaxTokens {
			take := opts.MaxTokens - len(cur)
			cur = append(cur, words[:take]...)
			words = words[take:]
			prev := cur
			flush()
			startNext(prev)
		}
		cur = append(cur, words...)
	}

	// A trailing fragment that adds almost nothing beyond its overlap is
	// already covered by the previous chunk.
	if len(cur)-curOverlap >= opts.MinChunkTokens || len(chunks) == 0 {
		flush()
	}
	return chunks
}

// CountTokens returns the whitespace word count of text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// EstimateTokens approximates subword token count from byte length,
// using the usual ~4 bytes per token heuristic for Latin text.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
