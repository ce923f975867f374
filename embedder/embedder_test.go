package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNoop_WhenNoEndpoint(t *testing.T) {
	emb := New(Config{Dimension: 4})
	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("noop embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("dimension = %d, want 4", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("vec[%d] = %f, want 0", i, v)
		}
	}
}

func fakeServer(t *testing.T, dim int, reverse bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data[i] = item{Embedding: vec, Index: i}
		}
		if reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data, "model": "test-model"})
	}))
}

func TestEmbedBatch_OrderAndDimension(t *testing.T) {
	srv := fakeServer(t, 8, true) // server answers out of order
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, Model: "test-model"})
	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vecs[%d][0] = %f, want %d (input order lost)", i, v[0], i+1)
		}
	}
	if emb.Dimension() != 8 {
		t.Errorf("auto-detected dimension = %d, want 8", emb.Dimension())
	}
}

func TestEmbedBatch_ConcurrentDimensionDetect(t *testing.T) {
	srv := fakeServer(t, 16, false)
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, Model: "test-model"})
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := emb.EmbedBatch(context.Background(), []string{"x", "y"})
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent EmbedBatch: %v", err)
		}
	}
	if emb.Dimension() != 16 {
		t.Errorf("dimension = %d, want 16", emb.Dimension())
	}
}

func TestEmbedBatch_SplitsLargeBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) > 2 {
			t.Errorf("batch of %d exceeds configured size 2", len(req.Input))
		}
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Embedding: []float32{1}, Index: i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, BatchSize: 2})
	if _, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls != 3 {
		t.Errorf("HTTP calls = %d, want 3", calls)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on HTTP 503")
	} else if got := fmt.Sprint(err); got == "" {
		t.Error("empty error message")
	}
}

func TestVector_RoundTrip(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, math.MaxFloat32}
	got := DeserializeVector(SerializeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("length %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d] = %f, want %f", i, got[i], vec[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if sim := CosineSimilarity(a, a); math.Abs(sim-1) > 1e-9 {
		t.Errorf("self similarity = %f, want 1", sim)
	}
	if sim := CosineSimilarity(a, b); math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal similarity = %f, want 0", sim)
	}
	if sim := CosineSimilarity(a, []float32{1}); sim != 0 {
		t.Errorf("mismatched lengths = %f, want 0", sim)
	}
}
