package fsscan

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func paths(snapshot []FileInfo) map[string]FileInfo {
	m := make(map[string]FileInfo, len(snapshot))
	for _, f := range snapshot {
		m[f.Path] = f
	}
	return m
}

func TestScan_MissingRoot(t *testing.T) {
	s := New(Options{})
	snapshot, err := s.Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Scan missing root: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("got %d entries, want 0", len(snapshot))
	}
}

func TestScan_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.pdf", "%PDF")
	writeFile(t, root, "c.exe", "MZ")

	s := New(Options{Extensions: []string{".txt", ".pdf"}})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := paths(snapshot)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(got), got)
	}
	if _, ok := got["c.exe"]; ok {
		t.Error("c.exe should be filtered out")
	}
}

func TestScan_PrunesHiddenAndExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep/a.txt", "a")
	writeFile(t, root, ".git/b.txt", "b")
	writeFile(t, root, "node_modules/c.txt", "c")

	s := New(Options{ExcludeDirs: []string{"node_modules"}})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := paths(snapshot)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(got), got)
	}
	if _, ok := got["keep/a.txt"]; !ok {
		t.Error("keep/a.txt missing from snapshot")
	}
}

func TestScan_SizeBounds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tiny.txt", "x")
	writeFile(t, root, "ok.txt", "0123456789")
	writeFile(t, root, "big.txt", string(make([]byte, 1000)))

	s := New(Options{MinSize: 5, MaxSize: 100})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := paths(snapshot)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(got), got)
	}
	if _, ok := got["ok.txt"]; !ok {
		t.Error("ok.txt missing from snapshot")
	}
}

func TestScan_ExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.txt", "doc")
	writeFile(t, root, "doc.tmp.txt", "tmp")
	writeFile(t, root, "~lock.txt", "lock")

	s := New(Options{ExcludeGlobs: []string{"*.tmp.*", "~*"}})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := paths(snapshot)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(got), got)
	}
}

func TestScan_RelativeSlashPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/dir/a.txt", "a")

	s := New(Options{})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("got %d entries, want 1", len(snapshot))
	}
	if snapshot[0].Path != "sub/dir/a.txt" {
		t.Errorf("path = %q, want sub/dir/a.txt", snapshot[0].Path)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	m := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Fingerprint("a.txt", 500, m)
	b := Fingerprint("a.txt", 500, m)
	if a != b {
		t.Errorf("same inputs: %q != %q", a, b)
	}
}

func TestFingerprint_SensitiveToEachInput(t *testing.T) {
	m := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Fingerprint("a.txt", 500, m)

	if got := Fingerprint("b.txt", 500, m); got == base {
		t.Error("path change did not change fingerprint")
	}
	if got := Fingerprint("a.txt", 501, m); got == base {
		t.Error("size change did not change fingerprint")
	}
	if got := Fingerprint("a.txt", 500, m.Add(time.Second)); got == base {
		t.Error("mtime change did not change fingerprint")
	}
}

func TestScan_FingerprintMatchesHelper(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	s := New(Options{})
	snapshot, err := s.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	f := snapshot[0]
	want := Fingerprint(f.Path, f.Size, f.ModifiedAt)
	if f.Fingerprint != want {
		t.Errorf("fingerprint = %q, want %q", f.Fingerprint, want)
	}
}
