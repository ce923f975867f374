// Package ingest drives claimed files through parse, chunk, and embed,
// and commits their final status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/corpus/chunk"
	"github.com/hazyhaar/corpus/chunkstore"
	"github.com/hazyhaar/corpus/docpipe"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/registry"
)

// Registry is the slice of the file registry the pipeline needs.
type Registry interface {
	Claim(ctx context.Context) (*registry.FileRecord, error)
	SetStatus(ctx context.Context, path string, status registry.Status) error
	SaveRawText(ctx context.Context, path, text string) error
	Remove(ctx context.Context, path string) error
}

// ChunkWriter persists and purges chunk generations.
type ChunkWriter interface {
	ReplaceFile(ctx context.Context, fileHash, filePath string, records []chunkstore.Record) error
	DeleteByHash(ctx context.Context, fileHash string) (int, error)
	DeleteByPath(ctx context.Context, filePath string) (int, error)
}

// Parser turns a file on disk into extracted text.
type Parser interface {
	Extract(ctx context.Context, path string) (*docpipe.Document, error)
}

// FailureKind classifies what went wrong with one file. Every kind maps
// to the same error status; callers use the kind for logs and stats only.
type FailureKind string

const (
	FailNone         FailureKind = ""
	FailParse        FailureKind = "parse"
	FailEmptyChunks  FailureKind = "empty_chunks"
	FailEmbedTimeout FailureKind = "embed_timeout"
	FailEmbedRefused FailureKind = "embed_refused"
	FailEmbedStatus  FailureKind = "embed_status"
	FailEmbed        FailureKind = "embed"
	FailStore        FailureKind = "store"
)

// Result reports one file's trip through the pipeline.
type Result struct {
	Path    string
	Status  registry.Status
	Removed bool // deleted file fully drained, row gone
	Chunks  int
	Failure FailureKind
	Err     error
}

// Config tunes the pipeline and its worker pool.
type Config struct {
	// Root is the scanned directory; registry paths are relative to it.
	Root string `yaml:"root"`

	// Workers is the number of files in flight (default 4).
	Workers int `yaml:"workers"`

	// ParseConcurrency bounds concurrent parses across the pool (default 2).
	ParseConcurrency int64 `yaml:"parse_concurrency"`

	// EmbedConcurrency bounds concurrent embed calls (default 4).
	EmbedConcurrency int64 `yaml:"embed_concurrency"`

	// PollInterval is how long an idle worker waits before re-checking
	// the queue (default 2s).
	PollInterval time.Duration `yaml:"poll_interval"`

	// DeleteProxyURL, when set, receives a POST {path, hash} for every
	// purged file. Failures are logged and never block the purge.
	DeleteProxyURL string `yaml:"delete_proxy_url"`

	Chunking chunk.Options `yaml:"chunking"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ParseConcurrency <= 0 {
		c.ParseConcurrency = 2
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline processes one claimed file end to end. Parse and embed stages
// share two pool-wide semaphores so CPU-bound parsing and the remote
// embedding backend are throttled independently.
type Pipeline struct {
	registry Registry
	chunks   ChunkWriter
	parser   Parser
	embedder embedder.Embedder

	root        string
	chunkOpts   chunk.Options
	parseSem    *semaphore.Weighted
	embedSem    *semaphore.Weighted
	deleteProxy string
	http        *http.Client
	logger      *slog.Logger
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(cfg Config, reg Registry, chunks ChunkWriter, parser Parser, emb embedder.Embedder) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		registry:    reg,
		chunks:      chunks,
		parser:      parser,
		embedder:    emb,
		root:        cfg.Root,
		chunkOpts:   cfg.Chunking,
		parseSem:    semaphore.NewWeighted(cfg.ParseConcurrency),
		embedSem:    semaphore.NewWeighted(cfg.EmbedConcurrency),
		deleteProxy: cfg.DeleteProxyURL,
		http:        &http.Client{Timeout: 10 * time.Second},
		logger:      cfg.Logger,
	}
}

// Process handles one claimed record. The record's Status is its state
// before the claim and selects the branch: deleted files are purged,
// updated files drop their prior chunk generation first, added files go
// straight to parsing.
func (p *Pipeline) Process(ctx context.Context, rec *registry.FileRecord) Result {
	switch rec.Status {
	case registry.StatusDeleted:
		return p.purge(ctx, rec)

	case registry.StatusUpdated:
		// The fingerprint already reflects the new content, so the old
		// generation is only reachable by path.
		if _, err := p.chunks.DeleteByPath(ctx, rec.Path); err != nil {
			return p.fail(ctx, rec, FailStore, fmt.Errorf("drop prior generation: %w", err))
		}
		return p.ingest(ctx, rec)

	case registry.StatusAdded:
		return p.ingest(ctx, rec)

	default:
		return p.fail(ctx, rec, FailStore, fmt.Errorf("unexpected claimed status %q", rec.Status))
	}
}

func (p *Pipeline) ingest(ctx context.Context, rec *registry.FileRecord) Result {
	if err := p.parseSem.Acquire(ctx, 1); err != nil {
		return Result{Path: rec.Path, Status: rec.Status, Failure: FailParse, Err: err}
	}
	doc, err := p.parser.Extract(ctx, filepath.Join(p.root, filepath.FromSlash(rec.Path)))
	p.parseSem.Release(1)
	if err != nil {
		return p.fail(ctx, rec, FailParse, err)
	}

	if err := p.registry.SaveRawText(ctx, rec.Path, doc.Text); err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("save raw text: %w", err))
	}

	pieces := chunk.Split(doc.Text, p.chunkOpts)
	if len(pieces) == 0 {
		return p.fail(ctx, rec, FailEmptyChunks, fmt.Errorf("no chunks produced from %d bytes of text", len(doc.Text)))
	}

	texts := make([]string, len(pieces))
	for i, c := range pieces {
		texts[i] = c.Text
	}

	if err := p.embedSem.Acquire(ctx, 1); err != nil {
		return Result{Path: rec.Path, Status: rec.Status, Failure: FailEmbed, Err: err}
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	p.embedSem.Release(1)
	if err != nil {
		return p.fail(ctx, rec, classifyEmbedErr(err), fmt.Errorf("embed %d chunks: %w", len(texts), err))
	}

	records := make([]chunkstore.Record, len(pieces))
	for i, c := range pieces {
		records[i] = chunkstore.Record{
			FileHash:   rec.Fingerprint,
			FilePath:   rec.Path,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Embedding:  vecs[i],
			Metadata: map[string]string{
				"title":  doc.Title,
				"format": string(doc.Format),
				"model":  p.embedder.Model(),
			},
		}
	}
	if err := p.chunks.ReplaceFile(ctx, rec.Fingerprint, rec.Path, records); err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("persist chunks: %w", err))
	}

	if err := p.registry.SetStatus(ctx, rec.Path, registry.StatusOK); err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("finalize status: %w", err))
	}

	p.logger.Info("file ingested", "path", rec.Path, "chunks", len(records), "format", doc.Format)
	return Result{Path: rec.Path, Status: registry.StatusOK, Chunks: len(records)}
}

// purge drains a deleted file: chunks first, the registry row last, so a
// crash in between re-queues the deletion instead of leaking chunks.
func (p *Pipeline) purge(ctx context.Context, rec *registry.FileRecord) Result {
	byHash, err := p.chunks.DeleteByHash(ctx, rec.Fingerprint)
	if err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("purge by hash: %w", err))
	}
	byPath, err := p.chunks.DeleteByPath(ctx, rec.Path)
	if err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("purge by path: %w", err))
	}

	p.notifyDeleteProxy(ctx, rec)

	if err := p.registry.Remove(ctx, rec.Path); err != nil {
		return p.fail(ctx, rec, FailStore, fmt.Errorf("remove registry row: %w", err))
	}

	p.logger.Info("file purged", "path", rec.Path, "chunks_deleted", byHash+byPath)
	return Result{Path: rec.Path, Removed: true, Chunks: byHash + byPath}
}

// fail marks the file error and reports what happened. The status write
// is best effort: the stale-claim sweep re-queues the row if it fails.
func (p *Pipeline) fail(ctx context.Context, rec *registry.FileRecord, kind FailureKind, err error) Result {
	p.logger.Error("pipeline failure", "path", rec.Path, "kind", string(kind), "error", err)
	if serr := p.registry.SetStatus(ctx, rec.Path, registry.StatusError); serr != nil {
		p.logger.Error("could not mark file error", "path", rec.Path, "error", serr)
	}
	return Result{Path: rec.Path, Status: registry.StatusError, Failure: kind, Err: err}
}

// classifyEmbedErr tells apart a slow backend, an unreachable one, and
// one that rejects the request. All three still mean error status.
func classifyEmbedErr(err error) FailureKind {
	var statusErr *embedder.StatusError
	if errors.As(err, &statusErr) {
		return FailEmbedStatus
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailEmbedRefused
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailEmbedTimeout
	}
	return FailEmbed
}
