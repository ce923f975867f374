package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed set of workers, each claiming and processing one file
// at a time. The pool size bounds files in flight; the pipeline's parse
// and embed semaphores bound the stages independently of it.
type Pool struct {
	pipe     *Pipeline
	registry Registry
	workers  int
	interval time.Duration
	logger   *slog.Logger

	// Counters for observability (exported via Stats).
	claims    atomic.Int64
	ingested  atomic.Int64
	purged    atomic.Int64
	failed    atomic.Int64
	idlePolls atomic.Int64
}

// Stats are point-in-time pool counters.
type Stats struct {
	Claims    int64 `json:"claims"`
	Ingested  int64 `json:"ingested"`
	Purged    int64 `json:"purged"`
	Failed    int64 `json:"failed"`
	IdlePolls int64 `json:"idle_polls"`
}

// NewPool creates a worker pool around an existing pipeline.
func NewPool(cfg Config, pipe *Pipeline, reg Registry) *Pool {
	cfg.defaults()
	return &Pool{
		pipe:     pipe,
		registry: reg,
		workers:  cfg.Workers,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Claims:    p.claims.Load(),
		Ingested:  p.ingested.Load(),
		Purged:    p.purged.Load(),
		Failed:    p.failed.Load(),
		IdlePolls: p.idlePolls.Load(),
	}
}

// Run blocks until ctx is cancelled, keeping cfg.Workers claim loops
// alive. It always returns nil after a clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		log := p.logger.With("worker", i)
		g.Go(func() error {
			p.worker(ctx, log)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context, log *slog.Logger) {
	for {
		rec, err := p.registry.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", "error", err)
			if !sleepCtx(ctx, p.interval) {
				return
			}
			continue
		}
		if rec == nil {
			p.idlePolls.Add(1)
			if !sleepCtx(ctx, p.interval) {
				return
			}
			continue
		}

		p.claims.Add(1)
		res := p.pipe.Process(ctx, rec)
		switch {
		case res.Removed:
			p.purged.Add(1)
		case res.Failure != FailNone:
			p.failed.Add(1)
		default:
			p.ingested.Add(1)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// sleepCtx waits d or until ctx is cancelled; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
