package ingest

import (
	"testing"
	"time"
)

func TestResolveLocalTime_FullDate(t *testing.T) {
	t.Parallel()

	ref := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	got, ok := ResolveLocalTime("09/03 14:30", ref)
	if !ok {
		t.Fatalf("parse failed")
	}
	want := time.Date(2025, 3, 9, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveLocalTime_YearRollover(t *testing.T) {
	t.Parallel()

	// A payload fetched on Jan 3 still lists New Year's Eve flights; they
	// belong to December of the previous year, not eleven months ahead.
	ref := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	got, ok := ResolveLocalTime("31/12 23:50", ref)
	if !ok {
		t.Fatalf("parse failed")
	}
	want := time.Date(2024, 12, 31, 23, 50, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveLocalTime_NoRolloverOutsideJanuary(t *testing.T) {
	t.Parallel()

	ref := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, ok := ResolveLocalTime("31/12 23:50", ref)
	if !ok {
		t.Fatalf("parse failed")
	}
	if got.Year() != 2024 {
		t.Fatalf("December batch must not roll the year back: got %v", got)
	}
}

func TestResolveLocalTime_BareTime(t *testing.T) {
	t.Parallel()

	ref := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	got, ok := ResolveLocalTime("08:15", ref)
	if !ok {
		t.Fatalf("parse failed")
	}
	want := time.Date(2025, 1, 3, 8, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveLocalTime_Invalid(t *testing.T) {
	t.Parallel()

	ref := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"", "  ", "banana", "99:99", "32/13 10:00", "31/12"} {
		if _, ok := ResolveLocalTime(raw, ref); ok {
			t.Fatalf("expected parse failure for %q", raw)
		}
	}
	if _, ok := ResolveLocalTime("10:00", time.Time{}); ok {
		t.Fatalf("zero reference date must not resolve")
	}
}
