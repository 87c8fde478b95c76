package blobpath

import (
	"errors"
	"testing"
	"time"
)

const sampleURL = "https://webaa-api-h4d5amdfcze7hthn.a02.azurefd.net/web-prod/v1/api-aa/all-flights?c=900&idarpt=AEP&movtp=D&f=03-01-2025"

func TestEscapeSource_RoundTrip(t *testing.T) {
	t.Parallel()

	esc := EscapeSource(sampleURL)
	if got := UnescapeSource(esc); got != "webaa-api-h4d5amdfcze7hthn.a02.azurefd.net/web-prod/v1/api-aa/all-flights?c=900&idarpt=AEP&movtp=D&f=03-01-2025" {
		t.Fatalf("unescape mismatch: %q", got)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2025, 1, 3, 14, 2, 11, 0, time.UTC)
	d := Descriptor{
		Environment: "prod",
		FetchedAt:   fetchedAt,
		Source:      EscapeSource(sampleURL),
	}

	key := Encode(d)
	got, err := Decode(key)
	if err != nil {
		t.Fatalf("Decode(%q): %v", key, err)
	}

	if got.Environment != "prod" {
		t.Fatalf("env: got %q", got.Environment)
	}
	if !got.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("fetchedAt: got %v want %v", got.FetchedAt, fetchedAt)
	}
	if got.Source != d.Source {
		t.Fatalf("source: got %q", got.Source)
	}

	// Best-effort fields were present and unambiguous, so they must survive.
	if got.Airport != "AEP" {
		t.Fatalf("airport: got %q", got.Airport)
	}
	if got.Direction != DirectionDeparture {
		t.Fatalf("direction: got %q", got.Direction)
	}
	wantRef := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	if !got.ReferenceDate.Equal(wantRef) {
		t.Fatalf("refDate: got %v want %v", got.ReferenceDate, wantRef)
	}
}

func TestDecode_SegmentCount(t *testing.T) {
	t.Parallel()

	for _, key := range []string{
		"",
		"prod",
		"prod/2025-01-03T14:02:11Z/raw",
		"prod/2025-01-03T14:02:11Z/raw/a/b",
	} {
		if _, err := Decode(key); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("Decode(%q): want ErrMalformedKey, got %v", key, err)
		}
	}
}

func TestDecode_WrongKind(t *testing.T) {
	t.Parallel()

	_, err := Decode("prod/2025-01-03T14:02:11Z/parsed/whatever")
	if !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("want ErrMalformedKey, got %v", err)
	}
	if errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("kind error must not be an ErrInvalidTimestamp")
	}
}

func TestDecode_InvalidTimestamp(t *testing.T) {
	t.Parallel()

	_, err := Decode("prod/not-a-time/raw/whatever")
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("want ErrInvalidTimestamp, got %v", err)
	}
	if !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("ErrInvalidTimestamp must also be an ErrMalformedKey")
	}
}

func TestDecode_BestEffortQuery(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		source string
	}{
		{"no query", "host__path"},
		{"empty params", "host__all-flights?"},
		{"bad date", "host__all-flights?idarpt=AEP&f=banana"},
		{"unknown params", "host__all-flights?x=1&y=2"},
	}
	for _, tc := range cases {
		d, err := Decode("dev/2025-01-03T00:00:00Z/raw/" + tc.source)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !d.ReferenceDate.IsZero() && tc.name != "no query" {
			t.Fatalf("%s: expected zero refDate, got %v", tc.name, d.ReferenceDate)
		}
	}

	// A parseable airport next to an unparseable date still comes through.
	d, err := Decode("dev/2025-01-03T00:00:00Z/raw/host__all-flights?idarpt=EZE&f=banana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Airport != "EZE" {
		t.Fatalf("airport: got %q", d.Airport)
	}
}

func TestMergeCacheKey(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2025, 1, 3, 14, 0, 0, 0, time.UTC)
	key := MergeCacheKey("prod", fetchedAt)
	if key != "prod/2025-01-03T14:00:00Z/raw/all-keys.json" {
		t.Fatalf("got %q", key)
	}
	if !IsMergeCache(key) {
		t.Fatalf("IsMergeCache(%q) = false", key)
	}
	if IsMergeCache("prod/2025-01-03T14:00:00Z/raw/host__all-flights?a=1") {
		t.Fatalf("member key misdetected as merge cache")
	}
}
