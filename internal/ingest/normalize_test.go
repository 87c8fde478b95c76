package ingest

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNormalize_DropsRecordsWithoutID(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2025, 1, 3, 14, 0, 0, 0, time.UTC)
	batch := Batch{Environment: "prod", FetchedAt: t1}
	records := []BatchRecord{
		{Key: "k1", Record: Record{FieldID: "A1", "estes": "Programado"}},
		{Key: "k1", Record: Record{"estes": "sin id"}},
		{Key: "k2", Record: Record{FieldID: ""}},
	}

	n := &Normalizer{}
	updates, dropped := n.Normalize(batch, records)

	if dropped != 2 {
		t.Fatalf("want 2 dropped, got %d", dropped)
	}
	if len(updates) != 1 {
		t.Fatalf("want 1 update, got %d", len(updates))
	}
	u := updates[0]
	if u.FlightID != "A1" {
		t.Fatalf("flight id: got %q", u.FlightID)
	}
	if !u.LastUpdated.Equal(t1) {
		t.Fatalf("last updated: got %v", u.LastUpdated)
	}
	if !strings.Contains(string(u.JSON), `"estes":"Programado"`) {
		t.Fatalf("record body lost: %s", u.JSON)
	}
}

func TestNormalize_WritesRejectsToDLQ(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dlq, err := OpenDLQ(dir, time.Date(2025, 1, 3, 14, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("OpenDLQ: %v", err)
	}

	batch := Batch{FetchedAt: time.Now()}
	n := &Normalizer{DLQ: dlq}
	_, dropped := n.Normalize(batch, []BatchRecord{
		{Key: "some/key", Record: Record{"estes": "sin id"}},
	})
	if dropped != 1 {
		t.Fatalf("want 1 dropped, got %d", dropped)
	}
	if err := dlq.Close(); err != nil {
		t.Fatalf("close dlq: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "rejected-*.jsonl.gz"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("want one dlq file, got %v (%v)", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open dlq file: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	if !sc.Scan() {
		t.Fatalf("dlq file empty")
	}
	line := sc.Text()
	if !strings.Contains(line, `"key":"some/key"`) || !strings.Contains(line, "missing or empty id") {
		t.Fatalf("dlq line missing fields: %s", line)
	}
}
