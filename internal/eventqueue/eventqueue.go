// Package eventqueue implements the durable, append-only NDJSON event
// stream: client-facing Push appends a canonical record to a
// single active file, rotating by size or age and deduplicating by
// activity_id, with backpressure once maxEvents is reached.
package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	coreerrors "github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/errors"
)

const latencyRingSize = 1000

// RotationNotifier is invoked with the path of a file that has just been
// rotated out (closed, ready for upload). Implementations must not block.
type RotationNotifier func(oldPath string)

// Stats is a point-in-time snapshot of queue health.
type Stats struct {
	TotalEvents        int64
	RotationCount       int64
	BackpressureActive  bool
	AverageLatency      time.Duration
	ErrorCount          int64
	ActiveFilePath      string
}

// Queue is the NDJSON append-only event queue. Safe for concurrent Push.
type Queue struct {
	cfg      config.QueueConfig
	base     string
	ext      string
	seen     SeenSet
	onRotate RotationNotifier
	log      logr.Logger

	mu                 sync.Mutex
	activeFile         *os.File
	activePath         string
	activeSize         int64
	activeOpenedAt     time.Time
	totalEvents        int64
	seq                int64
	rotationCount      int64
	backpressureActive bool
	errorCount         int64
	latencies          []time.Duration
	latencyIdx         int
}

// New constructs a queue and opens its first active file. seen may be nil,
// in which case an in-memory SeenSet is used when cfg.EnableDeduplication is
// set; pass a *RedisSeenSet to dedup across process restarts instead.
func New(cfg config.QueueConfig, seen SeenSet, onRotate RotationNotifier, log logr.Logger) (*Queue, error) {
	ext := filepath.Ext(cfg.Path)
	base := strings.TrimSuffix(cfg.Path, ext)
	if ext == "" {
		ext = ".ndjson"
	}

	if seen == nil && cfg.EnableDeduplication {
		seen = newMemorySeenSet()
	}

	q := &Queue{
		cfg:      cfg,
		base:     base,
		ext:      ext,
		seen:     seen,
		onRotate: onRotate,
		log:      log,
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, coreerrors.Wrapf(err, "eventqueue: create directory %s", dir)
		}
	}

	if err := q.openNewActiveFile(); err != nil {
		return nil, err
	}
	return q, nil
}

// rotatedName builds the "<base>-<ts>-<8hex>.<ext>" rotated filename.
func (q *Queue) rotatedName(now time.Time) string {
	ts := now.UTC().Format(time.RFC3339Nano)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return fmt.Sprintf("%s-%s-%s%s", q.base, ts, uuid.NewString()[:8], q.ext)
}

func (q *Queue) openNewActiveFile() error {
	path := q.rotatedName(time.Now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		q.errorCount++
		return coreerrors.Wrapf(err, "eventqueue: open active file %s", path)
	}
	q.activeFile = f
	q.activePath = path
	q.activeSize = 0
	q.activeOpenedAt = time.Now()
	return nil
}

// Push appends event to the active file, returning the assigned
// activity_id. A deduped event returns its activity_id with a nil error
// and is silently dropped rather than re-appended.
func (q *Queue) Push(event map[string]interface{}) (string, error) {
	start := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.totalEvents >= q.cfg.MaxEvents {
		q.backpressureActive = true
		return "", coreerrors.ErrQueueAtCapacity
	}

	activityID, _ := event["activity_id"].(string)
	if activityID == "" {
		activityID = uuid.NewString()
	}

	if q.seen != nil {
		if q.seen.CheckAndAdd(activityID) {
			return activityID, nil
		}
	}

	record := make(map[string]interface{}, len(event)+4)
	for k, v := range event {
		record[k] = v
	}
	q.seq++
	record["activity_id"] = activityID
	record["ts"] = start.UTC().Format(time.RFC3339Nano)
	record["_queued_at"] = start.UTC().Format(time.RFC3339Nano)
	record["_queue_sequence"] = q.seq

	line, err := json.Marshal(record)
	if err != nil {
		q.errorCount++
		return "", coreerrors.Wrapf(err, "eventqueue: marshal record")
	}
	line = append(line, '\n')

	if q.wouldExceedLocked(int64(len(line))) {
		if err := q.rotateLocked(); err != nil {
			return "", err
		}
	}

	if _, err := q.activeFile.Write(line); err != nil {
		q.errorCount++
		return "", coreerrors.Wrapf(err, "eventqueue: append")
	}
	if q.cfg.SyncWrites {
		if err := q.activeFile.Sync(); err != nil {
			q.errorCount++
			return "", coreerrors.Wrapf(err, "eventqueue: fsync")
		}
	}

	q.activeSize += int64(len(line))
	q.totalEvents++
	q.recordLatencyLocked(time.Since(start))

	return activityID, nil
}

func (q *Queue) wouldExceedLocked(nextLineSize int64) bool {
	if q.activeSize+nextLineSize >= q.cfg.MaxSize {
		return true
	}
	if q.cfg.MaxAge > 0 && time.Since(q.activeOpenedAt) >= q.cfg.MaxAge {
		return true
	}
	return false
}

// rotateLocked closes the active file, notifies onRotate with its path,
// and opens a fresh active file. Caller must hold q.mu.
func (q *Queue) rotateLocked() error {
	oldPath := q.activePath
	hadEvents := q.activeSize > 0
	if q.activeFile != nil {
		if err := q.activeFile.Close(); err != nil {
			q.errorCount++
			return coreerrors.Wrapf(err, "eventqueue: close rotated file %s", oldPath)
		}
	}

	if err := q.openNewActiveFile(); err != nil {
		return err
	}
	q.rotationCount++

	if hadEvents && q.onRotate != nil {
		go q.onRotate(oldPath)
	}
	return nil
}

func (q *Queue) recordLatencyLocked(d time.Duration) {
	if cap(q.latencies) < latencyRingSize {
		q.latencies = make([]time.Duration, 0, latencyRingSize)
	}
	if len(q.latencies) < latencyRingSize {
		q.latencies = append(q.latencies, d)
	} else {
		q.latencies[q.latencyIdx] = d
		q.latencyIdx = (q.latencyIdx + 1) % latencyRingSize
	}
}

// Stats returns a snapshot of queue health.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var sum time.Duration
	for _, d := range q.latencies {
		sum += d
	}
	var avg time.Duration
	if len(q.latencies) > 0 {
		avg = sum / time.Duration(len(q.latencies))
	}

	return Stats{
		TotalEvents:        q.totalEvents,
		RotationCount:      q.rotationCount,
		BackpressureActive: q.backpressureActive,
		AverageLatency:     avg,
		ErrorCount:         q.errorCount,
		ActiveFilePath:     q.activePath,
	}
}

// IsDegraded reports whether the queue is unhealthy: average write
// latency over 100ms, any recorded error, or a non-writable stream.
func (q *Queue) IsDegraded() bool {
	s := q.Stats()
	q.mu.Lock()
	writable := q.activeFile != nil
	q.mu.Unlock()
	return s.AverageLatency > 100*time.Millisecond || s.ErrorCount > 0 || !writable
}

// Close flushes the active file and, if it holds any events, performs a
// final rotation so the tail file is published.
func (q *Queue) Close(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.activeFile == nil {
		return nil
	}
	hadEvents := q.activeSize > 0
	path := q.activePath
	if err := q.activeFile.Close(); err != nil {
		return coreerrors.Wrapf(err, "eventqueue: close on shutdown")
	}
	q.activeFile = nil

	if hadEvents && q.onRotate != nil {
		q.onRotate(path)
	}
	return nil
}
