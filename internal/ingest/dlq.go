package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// DLQ persists records dropped by validation as gzip-compressed JSONL, one
// file per pipeline run. Rejected records are rare but the raw payloads
// that produced them age out of easy reach; keeping the rejects local makes
// "why did this flight disappear" answerable without re-listing the store.
type DLQ struct {
	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
}

type dlqEntry struct {
	Key      string    `json:"key"`
	Reason   string    `json:"reason"`
	Rejected time.Time `json:"rejected_at"`
	Record   Record    `json:"record"`
}

// OpenDLQ creates dir if needed and opens a run-stamped reject file.
func OpenDLQ(dir string, now time.Time) (*DLQ, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dlq: mkdir %q: %w", dir, err)
	}
	name := filepath.Join(dir, "rejected-"+now.UTC().Format("20060102T150405")+".jsonl.gz")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dlq: open %q: %w", name, err)
	}
	return &DLQ{file: f, gz: gzip.NewWriter(f)}, nil
}

// Append writes one rejected record. Errors are returned but callers treat
// them as log-and-continue: a broken DLQ must not fail a batch.
func (d *DLQ) Append(key string, rec Record, reason string) error {
	line, err := json.Marshal(dlqEntry{Key: key, Reason: reason, Rejected: time.Now().UTC(), Record: rec})
	if err != nil {
		return fmt.Errorf("dlq: encode: %w", err)
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.gz.Write(line); err != nil {
		return fmt.Errorf("dlq: write: %w", err)
	}
	return nil
}

// Close flushes the gzip stream and closes the file.
func (d *DLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.gz.Close(); err != nil {
		_ = d.file.Close()
		return fmt.Errorf("dlq: close gzip: %w", err)
	}
	return d.file.Close()
}
