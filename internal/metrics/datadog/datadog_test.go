package datadog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"flightetl/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fake *fakeSubmitter) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), Options{
		JobName:    "test",
		FlushEvery: time.Hour, // keep the loop out of the way
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  fake,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func TestFlush_EmptySubmitsNothing(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := fake.last(); ok {
		t.Fatalf("empty flush must not submit")
	}
}

func TestFlush_CountersAndLabels(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)
	defer func() { _ = b.Close() }()

	b.IncCounter("ingest_batches_total", 2, metrics.Labels{"status": "succeeded"})
	b.IncCounter("ingest_batches_total", 1, metrics.Labels{"status": "failed"})
	b.IncCounter("ingest_batches_total", -1, metrics.Labels{"status": "failed"}) // ignored

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload, ok := fake.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}
	if len(payload.Series) != 2 {
		t.Fatalf("want 2 series, got %d", len(payload.Series))
	}

	byTag := map[string]float64{}
	for _, s := range payload.Series {
		if s.Metric != "ingest.batches.total" {
			t.Fatalf("unexpected metric %q", s.Metric)
		}
		var statusTag string
		for _, tag := range s.Tags {
			if tag == "status:succeeded" || tag == "status:failed" {
				statusTag = tag
			}
		}
		byTag[statusTag] = *s.Points[0].Value
	}
	if byTag["status:succeeded"] != 2 || byTag["status:failed"] != 1 {
		t.Fatalf("counter values wrong: %v", byTag)
	}

	// Buffers reset on flush.
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if got, _ := fake.last(); len(got.Series) != 2 {
		t.Fatalf("second flush should submit nothing new")
	}
}

func TestFlush_HistogramPercentiles(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)
	defer func() { _ = b.Close() }()

	for i := 1; i <= 100; i++ {
		b.ObserveHistogram("ingest_batch_duration_seconds", float64(i), nil)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload, ok := fake.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}

	got := map[string]float64{}
	for _, s := range payload.Series {
		got[s.Metric] = *s.Points[0].Value
	}
	if got["ingest.batch.duration.seconds.p50"] != 50 {
		t.Fatalf("p50: got %v", got["ingest.batch.duration.seconds.p50"])
	}
	if got["ingest.batch.duration.seconds.max"] != 100 {
		t.Fatalf("max: got %v", got["ingest.batch.duration.seconds.max"])
	}
	if got["ingest.batch.duration.seconds.samples"] != 100 {
		t.Fatalf("samples: got %v", got["ingest.batch.duration.seconds.samples"])
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	sorted := []float64{1, 2, 3, 4}
	if got := percentileNearestRank(sorted, 0.50); got != 2 {
		t.Fatalf("p50: got %v", got)
	}
	if got := percentileNearestRank(sorted, 0.99); got != 4 {
		t.Fatalf("p99: got %v", got)
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty: got %v", got)
	}
}
