package registry

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a file record. It is a closed enum:
// every value persisted or accepted over the wire must be one of the
// constants below.
type Status string

const (
	// StatusAdded marks a file seen on disk for the first time, waiting to
	// be processed.
	StatusAdded Status = "added"
	// StatusUpdated marks a file whose content changed since it was last
	// processed (or that reappeared after deletion).
	StatusUpdated Status = "updated"
	// StatusDeleted marks a file that vanished from disk; its chunks await
	// purging, after which the row itself is removed.
	StatusDeleted Status = "deleted"
	// StatusProcessed marks a file claimed by an ingest worker. Rows stuck
	// in this state past the sweep cutoff are recovered to added.
	StatusProcessed Status = "processed"
	// StatusOK marks a fully ingested file whose chunks are current.
	StatusOK Status = "ok"
	// StatusError marks a file whose last ingest attempt failed.
	StatusError Status = "error"
)

// Valid reports whether s is one of the closed enum values.
func (s Status) Valid() bool {
	switch s {
	case StatusAdded, StatusUpdated, StatusDeleted, StatusProcessed, StatusOK, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Queueable reports whether a record in this state is a candidate for the
// ingest queue.
func (s Status) Queueable() bool {
	return s == StatusDeleted || s == StatusUpdated || s == StatusAdded
}

// FileRecord is one row of the registry — the single source of truth for
// what the system believes is on disk and what state it is in.
type FileRecord struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	ModifiedAt  time.Time `json:"modified_at"`
	Status      Status    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	RawText     string    `json:"raw_text,omitempty"`
}
