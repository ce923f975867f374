// corpusd watches a directory tree, reconciles it against a durable file
// registry, and ingests changed files into an embedded chunk store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/corpus/api"
	"github.com/hazyhaar/corpus/chunkstore"
	"github.com/hazyhaar/corpus/config"
	"github.com/hazyhaar/corpus/cycle"
	"github.com/hazyhaar/corpus/dbopen"
	"github.com/hazyhaar/corpus/docpipe"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/fsscan"
	"github.com/hazyhaar/corpus/ingest"
	"github.com/hazyhaar/corpus/observability"
	"github.com/hazyhaar/corpus/registry"
)

const heartbeatInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", env("CORPUS_CONFIG", "corpus.yaml"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if root := os.Getenv("CORPUS_ROOT"); root != "" {
		cfg.Root = root
		cfg.Cycle.Root = root
		cfg.Ingest.Root = root
	}
	if db := os.Getenv("CORPUS_DB"); db != "" {
		cfg.DBPath = db
	}
	if addr := os.Getenv("CORPUS_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(registry.Schema+chunkstore.Schema+observability.Schema))
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Collaborators, wired explicitly.
	reg := registry.NewStore(db, logger)
	chunks := chunkstore.NewStore(db, logger)
	scanner := fsscan.New(cfg.Scan)
	parser := docpipe.New(docpipe.Config{Logger: logger})

	cfg.Embedder.Logger = logger
	emb := embedder.New(cfg.Embedder)
	if cfg.Embedder.Endpoint == "" {
		logger.Warn("no embedder endpoint configured, storing zero vectors")
	}

	cfg.Cycle.Logger = logger
	runner := cycle.New(cfg.Cycle, scanner, reg, chunks)

	cfg.Ingest.Logger = logger
	pipe := ingest.NewPipeline(cfg.Ingest, reg, chunks, parser, emb)
	pool := ingest.NewPool(cfg.Ingest, pipe, reg)

	// Recover claims orphaned by a previous crash before workers start.
	if n, err := reg.ResetStale(ctx, cfg.Cycle.StaleAfter); err != nil {
		slog.Error("startup stale sweep", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Info("requeued stale claims", "count", n)
	}

	cfg.API.Logger = logger
	apiSrv := api.New(cfg.API, reg, pool, runner)
	apiSrv.SetHeartbeatSource(db, "corpusd", 3*heartbeatInterval)
	apiSrv.SetSearchSource(emb, chunks)

	srv := &http.Server{
		Addr:              apiSrv.Addr(),
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })

	heartbeat := observability.NewHeartbeatWriter(db, "corpusd", heartbeatInterval, logger)
	g.Go(func() error { return heartbeat.Run(ctx) })

	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr, "root", cfg.Root)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Optional MCP over stdio for agent consumers.
	if env("MCP_TRANSPORT", "") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "corpus",
			Version: "1.0.0",
		}, nil)
		apiSrv.RegisterMCP(mcpSrv)
		g.Go(func() error {
			logger.Info("mcp stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
