// Package api exposes the queue and cycle state over HTTP and MCP.
package api

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/corpus/chunkstore"
	"github.com/hazyhaar/corpus/cycle"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/ingest"
	"github.com/hazyhaar/corpus/observability"
	"github.com/hazyhaar/corpus/registry"
)

// Queue is the read-only registry view the API serves.
type Queue interface {
	Next(ctx context.Context) (*registry.FileRecord, error)
	StatusCounts(ctx context.Context) (map[registry.Status]int, error)
}

// Ingestor reports worker pool counters.
type Ingestor interface {
	Stats() ingest.Stats
}

// Cycler reports cycle counters and accepts manual triggers.
type Cycler interface {
	Stats() cycle.Stats
	RunOnce(ctx context.Context) (*cycle.Report, error)
}

// VectorIndex answers similarity queries over stored chunk embeddings.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, limit int) ([]chunkstore.SearchResult, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// AuthUser and AuthHash enable basic auth on /api when both are set.
	// AuthHash is a bcrypt hash of the password, never the password itself.
	AuthUser string `yaml:"auth_user"`
	AuthHash string `yaml:"auth_hash"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server carries the API's collaborators.
type Server struct {
	cfg    Config
	queue  Queue
	pool   Ingestor
	cycles Cycler
	logger *slog.Logger

	hbDB     *sql.DB
	hbWorker string
	hbStale  time.Duration

	searchEmb embedder.Embedder
	searchIdx VectorIndex
}

// New creates the API server.
func New(cfg Config, queue Queue, pool Ingestor, cycles Cycler) *Server {
	cfg.defaults()
	return &Server{
		cfg:    cfg,
		queue:  queue,
		pool:   pool,
		cycles: cycles,
		logger: cfg.Logger,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// SetHeartbeatSource enables GET /api/heartbeat, reading the daemon's last
// liveness row from db. Call before Router.
func (s *Server) SetHeartbeatSource(db *sql.DB, workerName string, staleness time.Duration) {
	s.hbDB = db
	s.hbWorker = workerName
	s.hbStale = staleness
}

// SetSearchSource enables POST /api/search: the query text is embedded with
// emb and matched against idx. Call before Router.
func (s *Server) SetSearchSource(emb embedder.Embedder, idx VectorIndex) {
	s.searchEmb = emb
	s.searchIdx = idx
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if s.cfg.AuthUser != "" && s.cfg.AuthHash != "" {
			r.Use(s.basicAuth)
		}
		r.Get("/next-file", s.handleNextFile)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/cycle/stats", s.handleCycleStats)
		r.Post("/cycle/run", s.handleRunCycle)
		if s.hbDB != nil {
			r.Get("/heartbeat", s.handleHeartbeat)
		}
		if s.searchIdx != nil {
			r.Post("/search", s.handleSearch)
		}
	})

	return r
}

// handleNextFile returns the head of the queue without claiming it,
// or 204 when the queue is empty.
func (s *Server) handleNextFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.queue.Next(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// raw_text can be megabytes; the queue view is about identity.
	rec.RawText = ""
	s.writeJSON(w, http.StatusOK, rec)
}

type queueStatsResponse struct {
	Statuses map[registry.Status]int `json:"statuses"`
	Queued   int                     `json:"queued"`
	Pool     ingest.Stats            `json:"pool"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.StatusCounts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	queued := 0
	for status, n := range counts {
		if status.Queueable() {
			queued += n
		}
	}
	s.writeJSON(w, http.StatusOK, queueStatsResponse{
		Statuses: counts,
		Queued:   queued,
		Pool:     s.pool.Stats(),
	})
}

func (s *Server) handleCycleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cycles.Stats())
}

// handleRunCycle triggers a cycle now. 409 when one is already running.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.cycles.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, cycle.ErrInFlight) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []chunkstore.SearchResult `json:"results"`
	Model   string                    `json:"model"`
}

// handleSearch embeds the query text and returns the closest stored chunks.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.search(r.Context(), req)
	if err != nil {
		if errors.Is(err, errEmptyQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

var errEmptyQuery = errors.New("query must not be empty")

func (s *Server) search(ctx context.Context, req searchRequest) (*searchResponse, error) {
	if req.Query == "" {
		return nil, errEmptyQuery
	}
	vec, err := s.searchEmb.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.searchIdx.Search(ctx, vec, req.Limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []chunkstore.SearchResult{}
	}
	return &searchResponse{Results: results, Model: s.searchEmb.Model()}, nil
}

// handleHeartbeat reports the daemon's last liveness beat, 404 when none
// has been written yet.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	hs, err := observability.LatestHeartbeat(r.Context(), s.hbDB, s.hbWorker, s.hbStale)
	if err != nil {
		s.fail(w, err)
		return
	}
	if hs == nil {
		http.Error(w, "no heartbeat recorded", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, hs)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AuthUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="corpus"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("api error", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
