package memory

import (
	"context"
	"fmt"
	"testing"

	"flightetl/internal/blobstore"
)

func TestListAll_FollowsPagination(t *testing.T) {
	t.Parallel()

	s := New(3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Put(ctx, fmt.Sprintf("prod/obj-%02d", i), []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	// Outside the prefix; must not appear.
	if err := s.Put(ctx, "dev/obj-00", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	entries, err := blobstore.ListAll(ctx, s, "prod/")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("want 10 entries, got %d", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("prod/obj-%02d", i)
		if e.Key != want {
			t.Fatalf("entry %d: got %q want %q", i, e.Key, want)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	s := New(0)
	if _, err := s.Get(context.Background(), "nope"); err != blobstore.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
