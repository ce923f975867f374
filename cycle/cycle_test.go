package cycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/corpus/chunkstore"
	"github.com/hazyhaar/corpus/dbopen"
	"github.com/hazyhaar/corpus/fsscan"
	"github.com/hazyhaar/corpus/registry"
)

func newRunner(t *testing.T, root string, cfg Config) (*Runner, *registry.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(registry.Schema+chunkstore.Schema))
	reg := registry.NewStore(db, nil)
	chunks := chunkstore.NewStore(db, nil)
	cfg.Root = root
	scanner := fsscan.New(fsscan.Options{Extensions: []string{".txt", ".md"}})
	return New(cfg, scanner, reg, chunks), reg
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunOnce_FullCycle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":         "alpha",
		"docs/b.md":     "bravo",
		"skip/c.dat":    "ignored extension",
		".hidden/d.txt": "pruned directory",
	})

	runner, reg := newRunner(t, root, Config{})

	report, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("scanned = %d, want 2", report.Scanned)
	}
	if report.Reconcile.Added != 2 {
		t.Errorf("added = %d, want 2", report.Reconcile.Added)
	}
	// Nothing ingested yet: the audit leaves freshly added rows alone.
	if report.Audit.Updated != 0 {
		t.Errorf("audit updated = %d, want 0", report.Audit.Updated)
	}

	counts, err := reg.StatusCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[registry.StatusAdded] != 2 {
		t.Errorf("status counts = %v", counts)
	}

	// Second cycle on an unchanged tree is a no-op.
	report, err = runner.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Reconcile.Unchanged != 2 || report.Reconcile.Added != 0 {
		t.Errorf("second cycle = %+v", report.Reconcile)
	}

	stats := runner.Stats()
	if stats.Cycles != 2 {
		t.Errorf("cycles = %d, want 2", stats.Cycles)
	}
	if stats.Last == nil || stats.Last.Scanned != 2 {
		t.Errorf("last report = %+v", stats.Last)
	}
}

func TestRunOnce_MissingRootIsEmpty(t *testing.T) {
	runner, _ := newRunner(t, filepath.Join(t.TempDir(), "nope"), Config{})

	report, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Scanned != 0 {
		t.Errorf("scanned = %d, want 0", report.Scanned)
	}
}

type blockingScanner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingScanner) Scan(string) ([]fsscan.FileInfo, error) {
	close(b.started)
	<-b.release
	return nil, nil
}

func TestRunOnce_SingleFlight(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(registry.Schema+chunkstore.Schema))
	reg := registry.NewStore(db, nil)
	chunks := chunkstore.NewStore(db, nil)
	scanner := &blockingScanner{started: make(chan struct{}), release: make(chan struct{})}
	runner := New(Config{Root: "x"}, scanner, reg, chunks)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunOnce(context.Background())
		done <- err
	}()
	<-scanner.started

	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Errorf("overlapping cycle err = %v, want ErrInFlight", err)
	}

	close(scanner.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := runner.Stats().Skipped; got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "alpha"})

	runner, _ := newRunner(t, root, Config{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := runner.Stats().Cycles; got < 2 {
		t.Errorf("cycles = %d, want at least 2", got)
	}
}
