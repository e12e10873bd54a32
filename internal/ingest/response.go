package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
)

// Response is the caller-visible outcome of one ingestion run.
type Response struct {
	RunID   string           `json:"runId"`
	Site    string           `json:"site"`
	Summary pipeline.Summary `json:"summary"`

	// WorkItemID is the processor's internal handle; PersistedID the
	// durable identifier when reconciliation found one.
	WorkItemID  string `json:"workItemId,omitempty"`
	PersistedID string `json:"persistedId,omitempty"`

	Results []json.RawMessage `json:"results,omitempty"`

	// Reason explains a zero-survivor run in plain language.
	Reason string `json:"reason,omitempty"`

	// Partial marks a degraded success (terminal failure with usable
	// results, or a salvaged timeout); Warning carries the detail.
	Partial bool   `json:"partial,omitempty"`
	Warning string `json:"warning,omitempty"`

	// Detached is set when the dispatch continued in the background and
	// results will not appear in this response.
	Detached bool `json:"detached,omitempty"`
}

// zeroSurvivorReason renders the human-readable explanation for a run
// where filtering removed everything.
func zeroSurvivorReason(s pipeline.Summary) string {
	if s.OriginalCount == 0 {
		return "no messages were fetched from the mailbox"
	}
	return fmt.Sprintf(
		"all %d fetched messages were filtered: %d feedback-loop, %d self-sent or alias, %d already processed, %d suspicious",
		s.OriginalCount, s.FeedbackLoopFiltered, s.SelfSentOrAliasFiltered,
		s.DuplicateFiltered, s.SuspiciousFiltered,
	)
}
