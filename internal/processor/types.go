// Package processor defines the client interface to the external
// AI command processor and its work item model. After submission a work
// item is mutated only by the processor; this side treats it as read-only.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Work item status values. Terminal states are completed, failed and
// cancelled; a failed item with results is still usable (degraded success).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrWorkItemNotFound is returned by GetByID when no work item exists
// under the given identifier.
var ErrWorkItemNotFound = errors.New("work item not found")

// WorkItem is one unit of dispatched work.
type WorkItem struct {
	// ID is the internal handle returned at submission. The processor's
	// own storage layer may assign a second identifier later; see
	// PersistedID and ResolvePersistedID.
	ID string `json:"id"`

	// PersistedID is the processor-side storage identifier, when known.
	// Empty until the lazily-resolved mapping exists.
	PersistedID string `json:"persisted_id,omitempty"`

	Task      string `json:"task"`
	Submitter string `json:"submitter"`
	Site      string `json:"site"`

	// Targets is the expected-output schema template. Items that appear
	// only here are unfilled templates, never real output.
	Targets json.RawMessage `json:"targets,omitempty"`

	// Context carries the serialized survivor messages plus metadata.
	Context string `json:"context"`

	Status   string            `json:"status"`
	Results  []json.RawMessage `json:"results,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the status is a terminal state.
func (w *WorkItem) IsTerminal() bool {
	switch w.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// EffectivelyCompleted applies the degraded-success rule: completed, or
// failed with a non-empty result list.
func (w *WorkItem) EffectivelyCompleted() bool {
	if w.Status == StatusCompleted {
		return true
	}
	return w.Status == StatusFailed && len(w.Results) > 0
}

// WorkItemRef is a lightweight listing entry used for recency matching.
type WorkItemRef struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Submitter string    `json:"submitter"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Processor is the external command processor, reduced to the calls this
// service makes. Implementations are owned by process bootstrap and
// injected, never a lazily-initialized global.
type Processor interface {
	// Submit persists the work item and returns its internal handle.
	Submit(ctx context.Context, item *WorkItem) (string, error)

	// GetByID fetches a work item by either identifier.
	// Returns ErrWorkItemNotFound when neither side knows the id.
	GetByID(ctx context.Context, id string) (*WorkItem, error)

	// ResolvePersistedID maps an internal handle to the processor's own
	// storage identifier, if the mapping exists yet.
	ResolvePersistedID(ctx context.Context, internalID string) (string, bool)

	// ListRecent returns recent work items matching (task, submitter,
	// status), most recent first. Used as the last reconciliation fallback.
	ListRecent(ctx context.Context, task, submitter, status string, limit int) ([]WorkItemRef, error)
}
