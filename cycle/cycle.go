// Package cycle runs the periodic reconciliation cycle: scan the tree,
// reconcile the registry, audit the chunk store, and sweep stale claims.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/corpus/fsscan"
	"github.com/hazyhaar/corpus/registry"
)

// ErrInFlight is returned when a cycle is requested while one is running.
var ErrInFlight = errors.New("cycle already in flight")

// Scanner produces the disk snapshot.
type Scanner interface {
	Scan(root string) ([]fsscan.FileInfo, error)
}

// Registry is the slice of the file registry the cycle needs.
type Registry interface {
	Reconcile(ctx context.Context, snapshot []fsscan.FileInfo) (registry.Summary, error)
	Audit(ctx context.Context, derived map[string]string) (registry.AuditSummary, error)
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ChunkIndex exposes the chunk store's derived path→fingerprint view.
type ChunkIndex interface {
	FingerprintsByPath(ctx context.Context) (map[string]string, error)
}

// Config tunes the cycle runner.
type Config struct {
	// Root is the directory to scan.
	Root string `yaml:"root"`

	// Interval between cycle starts (default 30s).
	Interval time.Duration `yaml:"interval"`

	// StaleAfter is how long a claim may sit in processed before the
	// sweep re-queues it (default 10m).
	StaleAfter time.Duration `yaml:"stale_after"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Report is the outcome of one completed cycle.
type Report struct {
	Scanned    int                   `json:"scanned"`
	Reconcile  registry.Summary      `json:"reconcile"`
	Audit      registry.AuditSummary `json:"audit"`
	StaleReset int                   `json:"stale_reset"`
	Duration   time.Duration         `json:"duration"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Stats are point-in-time counters plus the last completed report.
type Stats struct {
	Cycles  int64   `json:"cycles"`
	Errors  int64   `json:"errors"`
	Skipped int64   `json:"skipped"`
	Last    *Report `json:"last,omitempty"`
}

// Runner executes cycles. At most one cycle is in flight at a time:
// overlapping triggers are skipped, not queued.
type Runner struct {
	scanner Scanner
	reg     Registry
	chunks  ChunkIndex
	cfg     Config
	logger  *slog.Logger

	inFlight atomic.Bool
	cycles   atomic.Int64
	errs     atomic.Int64
	skipped  atomic.Int64

	mu   sync.Mutex
	last *Report
}

// New creates a Runner.
func New(cfg Config, scanner Scanner, reg Registry, chunks ChunkIndex) *Runner {
	cfg.defaults()
	return &Runner{
		scanner: scanner,
		reg:     reg,
		chunks:  chunks,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return Stats{
		Cycles:  r.cycles.Load(),
		Errors:  r.errs.Load(),
		Skipped: r.skipped.Load(),
		Last:    last,
	}
}

// Run blocks until ctx is cancelled, executing one cycle immediately and
// then one per interval.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("initial cycle failed", "error", err)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if !errors.Is(err, ErrInFlight) {
					r.logger.Error("cycle failed", "error", err)
				}
			}
		}
	}
}

// RunOnce executes a single cycle now. Returns ErrInFlight if one is
// already running. A failed cycle commits nothing partial: each stage
// writes in its own transaction and the next cycle retries from scratch.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		return nil, ErrInFlight
	}
	defer r.inFlight.Store(false)

	start := time.Now()

	snapshot, err := r.scanner.Scan(r.cfg.Root)
	if err != nil {
		r.errs.Add(1)
		return nil, fmt.Errorf("scan %s: %w", r.cfg.Root, err)
	}

	recon, err := r.reg.Reconcile(ctx, snapshot)
	if err != nil {
		r.errs.Add(1)
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	derived, err := r.chunks.FingerprintsByPath(ctx)
	if err != nil {
		r.errs.Add(1)
		return nil, fmt.Errorf("chunk store index: %w", err)
	}
	audit, err := r.reg.Audit(ctx, derived)
	if err != nil {
		r.errs.Add(1)
		return nil, fmt.Errorf("audit: %w", err)
	}

	stale, err := r.reg.ResetStale(ctx, r.cfg.StaleAfter)
	if err != nil {
		r.errs.Add(1)
		return nil, fmt.Errorf("stale sweep: %w", err)
	}

	report := &Report{
		Scanned:    len(snapshot),
		Reconcile:  recon,
		Audit:      audit,
		StaleReset: stale,
		Duration:   time.Since(start),
		FinishedAt: time.Now(),
	}
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	r.cycles.Add(1)

	r.logger.Info("cycle complete",
		"scanned", report.Scanned,
		"added", recon.Added, "updated", recon.Updated,
		"deleted", recon.Deleted, "unchanged", recon.Unchanged,
		"audit_flips", audit.Updated+audit.Added,
		"stale_reset", stale,
		"duration", report.Duration)
	return report, nil
}
