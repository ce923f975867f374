// Package e2e exercises the production wiring: scanner, registry, cycle
// runner, ingest pool, chunk store, and HTTP surface composed the way
// cmd/corpusd composes them, against a real temp directory and an
// embedding server stub.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/corpus/api"
	"github.com/hazyhaar/corpus/chunkstore"
	"github.com/hazyhaar/corpus/cycle"
	"github.com/hazyhaar/corpus/dbopen"
	"github.com/hazyhaar/corpus/docpipe"
	"github.com/hazyhaar/corpus/embedder"
	"github.com/hazyhaar/corpus/fsscan"
	"github.com/hazyhaar/corpus/ingest"
	"github.com/hazyhaar/corpus/registry"
)

type harness struct {
	root   string
	reg    *registry.Store
	chunks *chunkstore.Store
	runner *cycle.Runner
	pipe   *ingest.Pipeline
	api    *httptest.Server
}

// newHarness wires the full service with an OpenAI-style embeddings stub.
func newHarness(t *testing.T) *harness {
	t.Helper()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Embedding: []float32{0.1, 0.2, 0.3}, Index: i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data, "model": "stub"})
	}))
	t.Cleanup(embedSrv.Close)

	root := t.TempDir()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(registry.Schema+chunkstore.Schema))

	reg := registry.NewStore(db, nil)
	chunks := chunkstore.NewStore(db, nil)
	scanner := fsscan.New(fsscan.Options{Extensions: docpipe.SupportedExtensions()})
	parser := docpipe.New(docpipe.Config{})
	emb := embedder.New(embedder.Config{Endpoint: embedSrv.URL, Model: "stub"})

	runner := cycle.New(cycle.Config{Root: root}, scanner, reg, chunks)
	pipe := ingest.NewPipeline(ingest.Config{Root: root}, reg, chunks, parser, emb)
	pool := ingest.NewPool(ingest.Config{}, pipe, reg)

	apiSrv := httptest.NewServer(api.New(api.Config{}, reg, pool, runner).Router())
	t.Cleanup(apiSrv.Close)

	return &harness{
		root:   root,
		reg:    reg,
		chunks: chunks,
		runner: runner,
		pipe:   pipe,
		api:    apiSrv,
	}
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(h.root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// drain claims and processes until the queue is empty.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		rec, err := h.reg.Claim(ctx)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if rec == nil {
			return
		}
		if res := h.pipe.Process(ctx, rec); res.Err != nil && res.Failure == ingest.FailStore {
			t.Fatalf("process %s: %v", rec.Path, res.Err)
		}
	}
	t.Fatal("queue never drained")
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, "guide.md", "# Guide\n\nHow to operate the product safely.\n")
	h.write(t, "notes/team.txt", "Weekly sync notes with agenda items.\n")

	// Cycle 1: both files appear as added.
	report, err := h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Reconcile.Added != 2 {
		t.Fatalf("added = %d, want 2", report.Reconcile.Added)
	}

	h.drain(t)

	counts, err := h.reg.StatusCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[registry.StatusOK] != 2 {
		t.Fatalf("after ingest counts = %v", counts)
	}

	guide, err := h.reg.Get(ctx, "guide.md")
	if err != nil {
		t.Fatal(err)
	}
	n, err := h.chunks.CountByHash(ctx, guide.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("no chunks stored for guide.md")
	}
	stored, err := h.chunks.ListByHash(ctx, guide.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored[0].Embedding) != 3 {
		t.Errorf("embedding dim = %d, want 3", len(stored[0].Embedding))
	}

	// Modify one file; the next cycle flags it updated and re-embedding
	// replaces its generation.
	time.Sleep(10 * time.Millisecond)
	h.write(t, "guide.md", "# Guide\n\nRewritten operating instructions, now longer.\n")
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(filepath.Join(h.root, "guide.md"), now, now); err != nil {
		t.Fatal(err)
	}

	report, err = h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reconcile.Updated != 1 {
		t.Fatalf("updated = %d, want 1: %+v", report.Reconcile.Updated, report.Reconcile)
	}
	h.drain(t)

	if old, _ := h.chunks.CountByHash(ctx, guide.Fingerprint); old != 0 {
		t.Errorf("old generation chunks remain: %d", old)
	}
	fresh, err := h.reg.Get(ctx, "guide.md")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Fingerprint == guide.Fingerprint {
		t.Fatal("fingerprint did not change")
	}
	if cur, _ := h.chunks.CountByHash(ctx, fresh.Fingerprint); cur == 0 {
		t.Error("new generation missing")
	}

	// Delete the file; the next cycle queues the deletion and processing
	// purges row and chunks.
	if err := os.Remove(filepath.Join(h.root, "guide.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	if rec, err := h.reg.Get(ctx, "guide.md"); err == nil && rec != nil {
		t.Errorf("registry row survives deletion: %+v", rec)
	}
	if n, _ := h.chunks.CountByHash(ctx, fresh.Fingerprint); n != 0 {
		t.Errorf("chunks survive deletion: %d", n)
	}

	// The untouched file is unaffected throughout.
	team, err := h.reg.Get(ctx, "notes/team.txt")
	if err != nil || team == nil {
		t.Fatalf("get notes/team.txt: %v %v", team, err)
	}
	if team.Status != registry.StatusOK {
		t.Errorf("untouched file status = %q", team.Status)
	}
}

func TestHTTPSurfaceAgainstLiveState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.write(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("document number %d body text", i))
	}
	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(h.api.URL + "/api/queue/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats struct {
		Queued int `json:"queued"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Queued != 3 {
		t.Errorf("queued = %d, want 3", stats.Queued)
	}

	resp, err = http.Get(h.api.URL + "/api/next-file")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next-file status = %d", resp.StatusCode)
	}

	h.drain(t)

	resp, err = http.Get(h.api.URL + "/api/next-file")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("drained next-file status = %d, want 204", resp.StatusCode)
	}
}
