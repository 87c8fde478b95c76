// Package blobpath maps between object-store keys and the fetch descriptors
// encoded in them.
//
// Raw scrape payloads are archived under keys of the form:
//
//	{env}/{RFC3339 fetched-at}/raw/{escaped source URL}
//
// The source URL is escaped by stripping the scheme and replacing every "/"
// with "__", so the key always has exactly four slash-separated segments and
// the escaping round-trips.
package blobpath

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// KindRaw is the only payload kind this pipeline archives or decodes.
// Keys whose kind segment differs are rejected, not skipped silently.
const KindRaw = "raw"

// MergeCacheName is the basename of the per-batch merge-cache object.
const MergeCacheName = "all-keys.json"

// Direction of a flight relative to the airport the payload was scraped for.
type Direction string

const (
	DirectionArrival   Direction = "arrival"
	DirectionDeparture Direction = "departure"
)

var (
	// ErrMalformedKey reports a key that does not decode into a descriptor.
	ErrMalformedKey = errors.New("blobpath: malformed key")

	// ErrInvalidTimestamp is a malformed key whose timestamp segment does not
	// parse as an RFC3339 instant. errors.Is(err, ErrMalformedKey) holds.
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid timestamp", ErrMalformedKey)
)

// Descriptor is the structured form of a raw-payload key.
//
// Environment, FetchedAt and the raw kind are always recoverable from a
// valid key. Airport, Direction and ReferenceDate are parsed from the source
// query string on a best-effort basis and are zero when absent or malformed.
type Descriptor struct {
	Environment string
	FetchedAt   time.Time
	Source      string // escaped source identifier, scheme stripped

	Airport       string
	Direction     Direction
	ReferenceDate time.Time // UTC midnight of the calendar date, zero if unknown
}

var schemeRE = regexp.MustCompile(`^https?://`)

// EscapeSource makes a URL safe to embed as the final key segment.
// The scheme is dropped and forward slashes become "__"; "__" cannot occur
// in a hostname and does not occur in the upstream API paths, so the
// replacement is reversible.
func EscapeSource(rawURL string) string {
	return strings.ReplaceAll(schemeRE.ReplaceAllString(rawURL, ""), "/", "__")
}

// UnescapeSource reverses EscapeSource, minus the scheme (which is not
// recoverable and not needed to address the blob).
func UnescapeSource(escaped string) string {
	return strings.ReplaceAll(escaped, "__", "/")
}

// Encode builds the object key for a descriptor. Only Environment, FetchedAt
// and Source participate; the best-effort fields live inside Source's query
// string already.
func Encode(d Descriptor) string {
	return d.Environment + "/" + d.FetchedAt.UTC().Format(time.RFC3339) + "/" + KindRaw + "/" + d.Source
}

// EncodeURL is Encode for callers that still hold the original URL.
func EncodeURL(env string, fetchedAt time.Time, rawURL string) string {
	return Encode(Descriptor{Environment: env, FetchedAt: fetchedAt, Source: EscapeSource(rawURL)})
}

// MergeCacheKey returns the key under which a batch's merged snapshot is
// memoized. It shares the batch's env and fetched-at segments so cache
// objects sort next to their members.
func MergeCacheKey(env string, fetchedAt time.Time) string {
	return env + "/" + fetchedAt.UTC().Format(time.RFC3339) + "/" + KindRaw + "/" + MergeCacheName
}

// IsMergeCache reports whether key addresses a merge-cache object. The
// grouper must exclude these or a cache object would be re-merged as an
// ordinary member on the next run.
func IsMergeCache(key string) bool {
	return strings.HasSuffix(key, "/"+MergeCacheName)
}

// Decode parses an object key back into a Descriptor.
//
// Errors:
//   - ErrMalformedKey if the key does not have exactly four segments or the
//     kind segment is not "raw".
//   - ErrInvalidTimestamp if the timestamp segment is not RFC3339.
//
// Query parameters (idarpt, movtp, f) are optional: a missing or unparseable
// parameter leaves the corresponding field zero rather than failing the
// decode.
func Decode(key string) (Descriptor, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return Descriptor{}, fmt.Errorf("%w: want 4 segments, got %d (%q)", ErrMalformedKey, len(parts), key)
	}
	if parts[2] != KindRaw {
		return Descriptor{}, fmt.Errorf("%w: kind %q (%q)", ErrMalformedKey, parts[2], key)
	}

	fetchedAt, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, parts[1])
	}

	d := Descriptor{
		Environment: parts[0],
		FetchedAt:   fetchedAt.UTC(),
		Source:      parts[3],
	}
	d.Airport, d.Direction, d.ReferenceDate = parseSourceQuery(parts[3])
	return d, nil
}

// parseSourceQuery pulls the known upstream query parameters out of the
// escaped source segment. Everything here is best-effort.
func parseSourceQuery(source string) (airport string, dir Direction, refDate time.Time) {
	_, rawQuery, ok := strings.Cut(source, "?")
	if !ok {
		return "", "", time.Time{}
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", "", time.Time{}
	}

	airport = q.Get("idarpt")

	switch q.Get("movtp") {
	case "A":
		dir = DirectionArrival
	case "D":
		dir = DirectionDeparture
	}

	// f is a comma-separated date range; only the first date matters and it
	// arrives as DD-MM-YYYY.
	if f := q.Get("f"); f != "" {
		first, _, _ := strings.Cut(f, ",")
		if t, err := time.Parse("02-01-2006", first); err == nil {
			refDate = t.UTC()
		}
	}
	return airport, dir, refDate
}
