// Package pipeline applies the layered inbound-message filters: feedback
// loop, self-sent, known-lead override, alias matching, duplicate check,
// and the optional heuristic content guard. Stage order is fixed; given
// identical input and external state, output is identical across runs.
package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/inboxrelay/internal/crm"
	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
	"github.com/nextlevelbuilder/inboxrelay/internal/store"
	"github.com/nextlevelbuilder/inboxrelay/internal/telemetry"
)

// ObjectTypeEmail scopes processed records written by this pipeline.
const ObjectTypeEmail = "email"

// Summary aggregates per-stage rejection counters for one run.
type Summary struct {
	OriginalCount           int `json:"originalCount"`
	FeedbackLoopFiltered    int `json:"feedbackLoopFiltered"`
	SelfSentOrAliasFiltered int `json:"selfSentOrAliasFiltered"`
	DuplicateFiltered       int `json:"duplicateFiltered"`
	SuspiciousFiltered      int `json:"suspiciousFiltered"`
	AILeadMatches           int `json:"aiLeadMatches"`
	FinalCount              int `json:"finalCount"`
}

// candidate is a message that survived the stateless stages, paired with
// its envelope ID when one is computable.
type candidate struct {
	env        *envelope.Envelope
	envelopeID string
	hasID      bool
}

// Pipeline filters a fetched batch down to the messages worth dispatching.
type Pipeline struct {
	processed store.ProcessedStore
	leads     crm.Lookup
}

func New(processed store.ProcessedStore, leads crm.Lookup) *Pipeline {
	return &Pipeline{processed: processed, leads: leads}
}

// Run applies all stages to the batch and returns the survivors in input
// order plus the per-stage summary. External lookups (CRM match, duplicate
// check) are batched into one round trip each; lookup failures fail open
// and never abort the run.
func (p *Pipeline) Run(ctx context.Context, site string, rules SiteRules, batch []*envelope.Envelope) ([]*envelope.Envelope, Summary) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "pipeline.filter")
	span.SetAttributes(attribute.String("site", site), attribute.Int("batch", len(batch)))
	defer span.End()

	summary := Summary{OriginalCount: len(batch)}

	// Stages 1-2 need no external state; apply them first so the batched
	// lookups only cover real candidates.
	var candidates []candidate

	for _, e := range batch {
		if isFeedbackLoop(e, rules) {
			summary.FeedbackLoopFiltered++
			slog.Debug("pipeline.feedback_loop_filtered", "site", site, "from", e.From)
			continue
		}
		if isSelfSent(e) {
			summary.SelfSentOrAliasFiltered++
			slog.Debug("pipeline.self_sent_filtered", "site", site, "from", e.From)
			continue
		}
		id, ok := envelope.ComputeID(e)
		if !ok {
			slog.Info("pipeline.envelope_not_deduplicable", "site", site, "from", e.From, "subject", e.Subject)
		}
		candidates = append(candidates, candidate{env: e, envelopeID: id, hasID: ok})
	}

	// One batched CRM lookup over every candidate sender (stage 3) and one
	// batched duplicate lookup over every computable ID (stage 5).
	leadMatches := p.lookupLeads(ctx, site, candidates)
	existing := p.lookupExisting(ctx, site, candidates)

	var survivors []*envelope.Envelope
	for _, c := range candidates {
		e := c.env

		// Stage 3: a sender already known to the CRM and still owned by
		// automation is accepted without alias matching. Duplicate and
		// content checks still apply.
		_, knownLead := leadMatches[envelope.NormalizeAddress(e.From)]
		if knownLead {
			summary.AILeadMatches++
		}

		// Stage 4: alias/destination match, skipped for known leads.
		// No configured aliases = pass-through.
		if !knownLead && len(rules.Aliases) > 0 && !matchesAnyAlias(e, rules.Aliases) {
			summary.SelfSentOrAliasFiltered++
			slog.Debug("pipeline.alias_filtered", "site", site, "to", e.To)
			continue
		}

		// Stage 5: duplicate check. Messages without a computable ID are
		// processed unconditionally.
		if c.hasID && existing[c.envelopeID] {
			summary.DuplicateFiltered++
			slog.Debug("pipeline.duplicate_filtered", "site", site, "envelope_id", c.envelopeID)
			continue
		}

		// Stage 6: optional heuristic content guard.
		if hasSuspiciousContent(e, rules.SuspiciousTerms) {
			summary.SuspiciousFiltered++
			slog.Info("pipeline.suspicious_filtered", "site", site, "from", e.From, "subject", e.Subject)
			continue
		}

		survivors = append(survivors, e)
	}

	summary.FinalCount = len(survivors)
	return survivors, summary
}

// lookupLeads batches the stage-3 CRM query. Errors degrade to "no match".
func (p *Pipeline) lookupLeads(ctx context.Context, site string, candidates []candidate) map[string]crm.Contact {
	if p.leads == nil || len(candidates) == 0 {
		return nil
	}
	addrs := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		addr := envelope.NormalizeAddress(c.env.From)
		if addr != "" && !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}

	matches, err := p.leads.FindUnassignedByAddresses(ctx, site, addrs)
	if err != nil {
		slog.Warn("pipeline.lookup_degraded", "stage", "crm", "site", site, "error", err)
		return nil
	}
	return matches
}

// lookupExisting batches the stage-5 duplicate query. Errors degrade to
// "no match".
func (p *Pipeline) lookupExisting(ctx context.Context, site string, candidates []candidate) map[string]bool {
	if p.processed == nil {
		return nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.hasID {
			ids = append(ids, c.envelopeID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	existing, err := p.processed.ExistingIDs(ctx, site, ObjectTypeEmail, ids)
	if err != nil {
		slog.Warn("pipeline.lookup_degraded", "stage", "duplicate", "site", site, "error", err)
		return nil
	}
	return existing
}
