// Package blobstore defines the object-store contract the pipeline consumes
// and a paginated listing helper. Backends live in subpackages (s3 for
// production, memory for tests).
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound reports a Get against a key that has no object.
var ErrNotFound = errors.New("blobstore: object not found")

// Entry is one listing result. Size is the object's byte length, used by the
// grouper to discard empty-array artifacts without fetching them.
type Entry struct {
	Key  string
	Size int64
}

// Page is one page of a (possibly truncated) listing.
type Page struct {
	Entries     []Entry
	IsTruncated bool
	NextToken   string
}

// Store is the minimal object-store surface the pipeline needs.
//
// IMPORTANT: implementations must treat keys as opaque strings; all key
// structure lives in internal/blobpath.
type Store interface {
	// List returns one page of entries under prefix. token is the
	// continuation token from the previous page, empty for the first page.
	List(ctx context.Context, prefix, token string) (Page, error)

	// Get returns the object's content, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object, overwriting any existing content. Merge-cache
	// writes rely on Put being a pure overwrite: writing the same content
	// twice is harmless.
	Put(ctx context.Context, key string, body []byte) error
}

// ListAll follows pagination until the listing is no longer truncated and
// returns every entry under prefix.
//
// Edge cases:
//   - An error on any page aborts the walk; partial results are discarded
//     because an incomplete listing would silently drop batches.
func ListAll(ctx context.Context, s Store, prefix string) ([]Entry, error) {
	var (
		entries []Entry
		token   string
	)
	for {
		page, err := s.List(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Entries...)
		if !page.IsTruncated {
			return entries, nil
		}
		token = page.NextToken
	}
}
