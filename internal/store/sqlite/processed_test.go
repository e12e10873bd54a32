package sqlite

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/inboxrelay/internal/store"
)

func openTestStore(t *testing.T) *SQLiteProcessedStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkProcessed_InsertThenUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.ProcessedKey{EnvelopeID: "env-1", Site: "acme", ObjectType: "email"}

	if err := s.MarkProcessed(ctx, key, map[string]string{"task": "run-1"}); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		t.Fatalf("get after insert: rec=%v err=%v", rec, err)
	}
	if rec.ProcessCount != 1 {
		t.Errorf("process_count = %d, want 1", rec.ProcessCount)
	}

	// Second encounter of the same key: update, not duplicate insert.
	if err := s.MarkProcessed(ctx, key, map[string]string{"task": "run-2", "extra": "x"}); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	rec, err = s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ProcessCount != 2 {
		t.Errorf("process_count = %d, want 2", rec.ProcessCount)
	}
	if rec.Metadata["task"] != "run-2" || rec.Metadata["extra"] != "x" {
		t.Errorf("metadata not merged: %v", rec.Metadata)
	}
	if !rec.LastProcessedAt.After(rec.FirstSeenAt) && !rec.LastProcessedAt.Equal(rec.FirstSeenAt) {
		t.Errorf("last_processed_at %v before first_seen_at %v", rec.LastProcessedAt, rec.FirstSeenAt)
	}
}

func TestMarkProcessed_KeysAreScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := store.ProcessedKey{EnvelopeID: "env-1", Site: "acme", ObjectType: "email"}
	otherSite := store.ProcessedKey{EnvelopeID: "env-1", Site: "globex", ObjectType: "email"}

	if err := s.MarkProcessed(ctx, base, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkProcessed(ctx, otherSite, nil); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Get(ctx, base)
	if rec.ProcessCount != 1 {
		t.Errorf("same envelope on another site must not bump the count, got %d", rec.ProcessCount)
	}
}

func TestExistingIDs_Batch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.MarkProcessed(ctx, store.ProcessedKey{EnvelopeID: id, Site: "acme", ObjectType: "email"}, nil); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ExistingIDs(ctx, "acme", "email", []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["a"] || !got["b"] || got["c"] {
		t.Errorf("ExistingIDs = %v, want a,b present and c absent", got)
	}

	empty, err := s.ExistingIDs(ctx, "acme", "email", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("empty batch should return empty map, got %v", empty)
	}
}

func TestGet_Missing(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Get(context.Background(), store.ProcessedKey{EnvelopeID: "nope", Site: "acme", ObjectType: "email"})
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}
