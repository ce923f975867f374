// Package fsscan walks a monitored directory tree and produces a flat
// snapshot of the files worth ingesting, each with a content fingerprint.
//
// The fingerprint is a digest of (path, size, mtime) — it detects content
// change without reading file bytes. Scanning is purely a read: no state is
// touched, so the same tree always yields the same snapshot.
package fsscan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileInfo is one entry of a scan snapshot. Path is relative to the scanned
// root, using forward slashes.
type FileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	Fingerprint string    `json:"fingerprint"`
}

// Options controls which files make it into the snapshot.
type Options struct {
	// Extensions is the allow-list of file extensions, lowercase with dot
	// (".pdf", ".txt"). Empty means every extension is accepted.
	Extensions []string `yaml:"extensions"`

	// ExcludeDirs are directory names pruned before descent. Hidden
	// directories (leading dot) are always pruned.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// ExcludeGlobs are filename patterns (filepath.Match syntax) whose
	// matches are skipped.
	ExcludeGlobs []string `yaml:"exclude_globs"`

	// MinSize and MaxSize bound file size in bytes. MaxSize 0 means
	// unbounded.
	MinSize int64 `yaml:"min_size"`
	MaxSize int64 `yaml:"max_size"`
}

// Scanner produces snapshots of a directory tree.
type Scanner struct {
	opts   Options
	extSet map[string]struct{}
	dirSet map[string]struct{}
}

// New creates a Scanner with the given options.
func New(opts Options) *Scanner {
	s := &Scanner{
		opts:   opts,
		extSet: make(map[string]struct{}, len(opts.Extensions)),
		dirSet: make(map[string]struct{}, len(opts.ExcludeDirs)),
	}
	for _, e := range opts.Extensions {
		s.extSet[strings.ToLower(e)] = struct{}{}
	}
	for _, d := range opts.ExcludeDirs {
		s.dirSet[d] = struct{}{}
	}
	return s
}

// Scan walks root and returns the snapshot. A missing root is not an error:
// it yields an empty snapshot, mirroring "the monitored directory holds
// nothing yet". Files that vanish or become unreadable mid-walk are skipped.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var snapshot []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Permission or race on a directory entry: prune and move on.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, excluded := s.dirSet[name]; excluded {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.wantName(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// stat raced with a delete; not our file anymore.
			return nil
		}
		if !s.wantSize(info.Size()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		snapshot = append(snapshot, FileInfo{
			Path:        rel,
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
			Fingerprint: Fingerprint(rel, info.Size(), info.ModTime()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return snapshot, nil
}

func (s *Scanner) wantName(name string) bool {
	for _, pat := range s.opts.ExcludeGlobs {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}
	if len(s.extSet) == 0 {
		return true
	}
	_, ok := s.extSet[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (s *Scanner) wantSize(size int64) bool {
	if size < s.opts.MinSize {
		return false
	}
	if s.opts.MaxSize > 0 && size > s.opts.MaxSize {
		return false
	}
	return true
}

// Fingerprint computes the content fingerprint for a file observation.
// It is a pure function of (path, size, mtime): identical inputs always
// produce identical output, and any differing input changes it. Collision
// resistance comes from SHA-256; this is change detection, not integrity.
func Fingerprint(path string, size int64, modifiedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(modifiedAt.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
