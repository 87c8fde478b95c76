package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"flightetl/internal/blobpath"
	"flightetl/internal/blobstore/memory"
)

func noSleep(context.Context, time.Duration) bool { return true }

func TestBoardURL(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	u := BoardURL("AEP", blobpath.DirectionDeparture, date)

	for _, want := range []string{"idarpt=AEP", "movtp=D", "f=07-03-2025", "all-flights"} {
		if !strings.Contains(u, want) {
			t.Fatalf("BoardURL = %q, missing %q", u, want)
		}
	}

	if u = BoardURL("EZE", blobpath.DirectionArrival, date); !strings.Contains(u, "movtp=A") {
		t.Fatalf("arrival BoardURL = %q, want movtp=A", u)
	}
}

func TestFetchBoard_RetriesThenArchives(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Origin") == "" {
			t.Error("expected Origin header on upstream request")
		}
		w.Write([]byte(`[{"id":"AR 1234"}]`))
	}))
	defer srv.Close()

	store := memory.New(100)
	c := &Client{
		HTTP:        srv.Client(),
		Store:       store,
		Environment: "test",
		sleep:       noSleep,
	}

	fetchedAt := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	body, err := c.fetch(context.Background(), srv.URL+"/all-flights?idarpt=AEP")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if !strings.Contains(string(body), "AR 1234") {
		t.Fatalf("unexpected body %q", body)
	}

	c.HTTP = &http.Client{Transport: rewriteTransport{base: srv.URL}}
	key, err := c.FetchBoard(context.Background(), "AEP", blobpath.DirectionDeparture, fetchedAt, fetchedAt)
	if err != nil {
		t.Fatalf("FetchBoard: %v", err)
	}
	if !store.Has(key) {
		t.Fatalf("archived key %q not in store", key)
	}
	d, err := blobpath.Decode(key)
	if err != nil {
		t.Fatalf("Decode(%q): %v", key, err)
	}
	if d.Environment != "test" || !d.FetchedAt.Equal(fetchedAt) || d.Airport != "AEP" {
		t.Fatalf("decoded descriptor %+v", d)
	}
}

func TestFetch_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), MaxAttempts: 3, sleep: noSleep}

	_, err := c.fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v, want exhaustion after 3 attempts", err)
	}
}

func TestSnapshot_ArchivesEveryBoard(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	store := memory.New(100)
	c := &Client{HTTP: srv.Client(), Store: store, Environment: "test", sleep: noSleep}

	// FetchBoard builds its own absolute URL; point the client's
	// transport at the test server instead.
	c.HTTP = &http.Client{Transport: rewriteTransport{base: srv.URL}}

	airports := []string{"AEP", "EZE", "COR"}
	rep, err := c.Snapshot(context.Background(), airports, time.Now(), 4)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if want := len(airports) * 2; rep.Fetched != want || rep.Failed != 0 {
		t.Fatalf("report = %+v, want %d fetched / 0 failed", rep, want)
	}
	if store.Len() != len(airports)*2 {
		t.Fatalf("stored %d objects, want %d", store.Len(), len(airports)*2)
	}
}

// rewriteTransport redirects every request to the test server while
// keeping the original path and query.
type rewriteTransport struct{ base string }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := rt.base + req.URL.RequestURI()
	clone, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	clone.Header = req.Header
	return http.DefaultTransport.RoundTrip(clone)
}
