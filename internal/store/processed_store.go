package store

import (
	"context"
	"time"
)

// ProcessedKey identifies one handled message: the content-addressed
// envelope ID scoped by site and object type ("email" for mailbox intake).
type ProcessedKey struct {
	EnvelopeID string
	Site       string
	ObjectType string
}

// ProcessedRecord is the persisted idempotency marker. At most one record
// exists per key; repeat encounters bump ProcessCount and merge Metadata.
type ProcessedRecord struct {
	EnvelopeID      string            `json:"envelope_id"`
	Site            string            `json:"site"`
	ObjectType      string            `json:"object_type"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	FirstSeenAt     time.Time         `json:"first_seen_at"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	ProcessCount    int               `json:"process_count"`
}

// ProcessedStore records which messages have already been handled.
//
// MarkProcessed is an idempotent upsert: concurrent or duplicate calls for
// the same key never create duplicate rows; correctness relies on the
// backing store's native conflict resolution, not in-process locking.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, key ProcessedKey, metadata map[string]string) error

	// ExistingIDs reports which of the given envelope IDs already have a
	// record for (site, objectType). One round trip for the whole batch.
	ExistingIDs(ctx context.Context, site, objectType string, ids []string) (map[string]bool, error)

	// Get returns the record for a key, or nil when none exists.
	Get(ctx context.Context, key ProcessedKey) (*ProcessedRecord, error)
}
