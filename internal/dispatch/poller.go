package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/inboxrelay/internal/processor"
	"github.com/nextlevelbuilder/inboxrelay/internal/telemetry"
)

// PollConfig bounds the completion wait: interval × maxAttempts is the
// total ceiling (defaults: 1s × 180 = 3 minutes).
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: time.Second, MaxAttempts: 180}
}

// PollResult is the outcome of waiting on one work item.
type PollResult struct {
	// Completed is true when the work item reached a usable terminal
	// state, including the degraded case of failed-with-results.
	Completed bool

	// Degraded marks the failed-with-results case: usable, but the caller
	// should annotate the response with a warning.
	Degraded bool

	// TimedOut is true when the attempt budget ran out first. The
	// processor may still be running server-side; the unit of work was
	// NOT cancelled.
	TimedOut bool

	Item        *processor.WorkItem
	Results     []json.RawMessage
	PersistedID string
}

// Poller waits for a work item to reach a terminal state.
type Poller struct {
	proc processor.Processor
	cfg  PollConfig
}

func NewPoller(proc processor.Processor, cfg PollConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 180
	}
	return &Poller{proc: proc, cfg: cfg}
}

// Wait polls until the item is terminal, vanishes, or the attempt budget
// runs out. A plain loop with a sleep between iterations, no overlap.
//
// Identifier reconciliation runs immediately after submission and again
// once the item is terminal, since the processor-side mapping may not
// exist at submission time.
func (p *Poller) Wait(ctx context.Context, internalID string) PollResult {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "dispatch.poll")
	span.SetAttributes(attribute.String("work_item", internalID))
	defer span.End()

	persistedID, _ := p.proc.ResolvePersistedID(ctx, internalID)

	var last *processor.WorkItem
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		item, err := p.proc.GetByID(ctx, internalID)
		if err != nil {
			if errors.Is(err, processor.ErrWorkItemNotFound) {
				// Retry under the persisted id when we have one; the
				// internal handle may have been superseded.
				if persistedID != "" && persistedID != internalID {
					if item2, err2 := p.proc.GetByID(ctx, persistedID); err2 == nil {
						item, err = item2, nil
					}
				}
				if err != nil {
					slog.Warn("poll.work_item_vanished", "work_item", internalID)
					return PollResult{Completed: false, PersistedID: persistedID}
				}
			} else {
				slog.Warn("poll.read_failed", "work_item", internalID, "attempt", attempt, "error", err)
				item = nil
			}
		}

		if item != nil {
			last = item
			if item.IsTerminal() {
				return p.finish(ctx, internalID, persistedID, item)
			}
		}

		select {
		case <-ctx.Done():
			return p.timeout(ctx, internalID, persistedID, last)
		case <-time.After(p.cfg.Interval):
		}
	}

	return p.timeout(ctx, internalID, persistedID, last)
}

func (p *Poller) finish(ctx context.Context, internalID, persistedID string, item *processor.WorkItem) PollResult {
	// Second reconciliation pass: the mapping often appears only after
	// the processor persists the terminal state.
	if persistedID == "" {
		persistedID, _ = p.proc.ResolvePersistedID(ctx, internalID)
	}

	res := PollResult{
		Item:        item,
		PersistedID: persistedID,
	}

	switch {
	case item.Status == processor.StatusCompleted:
		res.Completed = true
		res.Results = item.Results
	case item.EffectivelyCompleted():
		// Terminal failed, but with usable results.
		res.Completed = true
		res.Degraded = true
		res.Results = item.Results
		slog.Warn("poll.degraded_success", "work_item", internalID, "results", len(item.Results))
	default:
		res.Completed = false
		slog.Warn("poll.terminal_failure", "work_item", internalID, "status", item.Status)
	}
	return res
}

func (p *Poller) timeout(ctx context.Context, internalID, persistedID string, last *processor.WorkItem) PollResult {
	// Timeout: usable results salvage the run, otherwise it failed.
	// Polling stops here but the processor may keep running server-side.
	if persistedID == "" {
		persistedID, _ = p.proc.ResolvePersistedID(ctx, internalID)
	}
	if last != nil && len(last.Results) > 0 {
		slog.Warn("poll.timeout_with_results", "work_item", internalID, "results", len(last.Results))
		return PollResult{
			Completed:   true,
			Degraded:    true,
			TimedOut:    true,
			Item:        last,
			Results:     last.Results,
			PersistedID: persistedID,
		}
	}
	slog.Warn("poll.timeout", "work_item", internalID)
	return PollResult{Completed: false, TimedOut: true, Item: last, PersistedID: persistedID}
}
