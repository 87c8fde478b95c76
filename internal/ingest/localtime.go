package ingest

import (
	"strconv"
	"strings"
	"time"
)

// ResolveLocalTime reconstructs a full timestamp from an upstream local-time
// string and the batch's reference date.
//
// The API emits times as "DD/MM HH:MM" (scheduled) or occasionally bare
// "HH:MM"; neither carries a year, so the reference date supplies it.
//
// Year rollover: a "31/12 …" time inside a batch whose reference month is
// January belongs to December of the PREVIOUS year. Payloads fetched in the
// first days of January still list flights scheduled on New Year's Eve;
// without this fix they would be dated a year into the future.
//
// Returns ok=false for an empty or unparseable raw string, or a zero ref.
// The result is a wall-clock local time expressed in UTC; the analytics
// layer owns time-zone placement.
func ResolveLocalTime(raw string, ref time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || ref.IsZero() {
		return time.Time{}, false
	}

	datePart, timePart, hasDate := strings.Cut(raw, " ")
	if !hasDate {
		timePart, datePart = datePart, ""
	}

	hour, minute, ok := parseHHMM(timePart)
	if !ok {
		return time.Time{}, false
	}

	ref = ref.UTC()
	year, month, day := ref.Year(), int(ref.Month()), ref.Day()

	if datePart != "" {
		d, m, ok := parseDDMM(datePart)
		if !ok {
			return time.Time{}, false
		}
		day, month = d, m
		if day == 31 && month == 12 && ref.Month() == time.January {
			year--
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), true
}

func parseHHMM(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func parseDDMM(s string) (day, month int, ok bool) {
	d, m, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	day, err1 := strconv.Atoi(d)
	month, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, 0, false
	}
	return day, month, true
}
