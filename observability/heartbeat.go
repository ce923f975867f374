// Package observability records process liveness in the corpus database so
// operators can tell a stalled daemon apart from an idle one.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Schema creates the heartbeat table. Appended to the registry and chunk
// store schemas when the database is opened.
const Schema = `
CREATE TABLE IF NOT EXISTS worker_heartbeats (
	worker_name     TEXT    NOT NULL,
	hostname        TEXT    NOT NULL,
	worker_pid      INTEGER NOT NULL,
	timestamp       INTEGER NOT NULL,
	goroutines      INTEGER NOT NULL,
	memory_alloc_mb REAL    NOT NULL,
	memory_sys_mb   REAL    NOT NULL,
	gc_count        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker
	ON worker_heartbeats(worker_name, timestamp DESC);
`

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	Goroutines    int
	MemoryAllocMB float64
	MemorySysMB   float64
	GCCount       uint32
}

// CollectRuntimeMetrics reads current Go runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:   float64(mem.Sys) / 1024 / 1024,
		GCCount:       mem.NumGC,
	}
}

// HeartbeatWriter writes periodic liveness rows.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	retention  time.Duration
	logger     *slog.Logger
}

// NewHeartbeatWriter creates a writer. Interval defaults to 15s, retention
// to 24h.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, logger *slog.Logger) *HeartbeatWriter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		pid:        os.Getpid(),
		interval:   interval,
		retention:  24 * time.Hour,
		logger:     logger,
	}
}

// Run beats immediately, then on every tick until the context is cancelled.
// Write failures are logged, never fatal.
func (hw *HeartbeatWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	for {
		if err := hw.Write(ctx); err != nil {
			hw.logger.Warn("heartbeat write failed", "error", err, "worker", hw.workerName)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Write inserts a single heartbeat row with current runtime metrics and
// trims rows past the retention window.
func (hw *HeartbeatWriter) Write(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.pid, time.Now().Unix(),
		m.Goroutines, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}

	cutoff := time.Now().Add(-hw.retention).Unix()
	_, err = hw.db.ExecContext(ctx,
		`DELETE FROM worker_heartbeats WHERE worker_name = ? AND timestamp < ?`,
		hw.workerName, cutoff)
	if err != nil {
		return fmt.Errorf("trim heartbeats: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat for a worker with a staleness
// verdict, so API consumers don't compute it themselves.
type HeartbeatStatus struct {
	WorkerName    string    `json:"worker_name"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Timestamp     time.Time `json:"timestamp"`
	Goroutines    int       `json:"goroutines"`
	MemoryAllocMB float64   `json:"memory_alloc_mb"`
	MemorySysMB   float64   `json:"memory_sys_mb"`
	GCCount       int       `json:"gc_count"`
	Alive         bool      `json:"alive"`
}

// LatestHeartbeat returns the most recent heartbeat for the worker, nil if
// none was ever recorded. A beat older than stalenessThreshold (typically
// 3x the write interval) is reported as not alive.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       goroutines, memory_alloc_mb, memory_sys_mb, gc_count
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, workerName)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.Goroutines, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= stalenessThreshold
	return &hs, nil
}
