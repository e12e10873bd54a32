// Package dispatch builds bounded work requests from filter survivors,
// submits them to the external command processor, polls for a terminal
// state, and validates the structured output.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
	"github.com/nextlevelbuilder/inboxrelay/internal/processor"
)

const (
	// TaskLeadAnalysis is the task descriptor for inbound-email analysis.
	TaskLeadAnalysis = "email_lead_analysis"

	// perMessageCharBudget truncates each survivor body before embedding.
	perMessageCharBudget = 2000

	// aggregateContextBudget caps the total embedded payload. Messages
	// past the cap are summarized by count only.
	aggregateContextBudget = 24000
)

// Dispatcher creates and submits work items.
type Dispatcher struct {
	proc processor.Processor
}

func NewDispatcher(proc processor.Processor) *Dispatcher {
	return &Dispatcher{proc: proc}
}

// Build assembles a work item from the surviving messages. Bodies are
// truncated per message, the aggregate payload is capped, and the context
// states explicitly that an empty result list is valid output.
func (d *Dispatcher) Build(agentID, site string, survivors []*envelope.Envelope, analysisContext string) *processor.WorkItem {
	var b strings.Builder

	b.WriteString("Analyze the following inbound email messages and extract qualified sales leads.\n")
	b.WriteString("Fill every field of the output schema for each qualifying message.\n")
	b.WriteString("If no message qualifies, an empty result list is valid output — do not invent leads.\n\n")

	if analysisContext != "" {
		b.WriteString("Additional context: ")
		b.WriteString(analysisContext)
		b.WriteString("\n\n")
	}

	embedded := 0
	for i, e := range survivors {
		block := formatMessage(i+1, e)
		if b.Len()+len(block) > aggregateContextBudget {
			break
		}
		b.WriteString(block)
		embedded++
	}
	if omitted := len(survivors) - embedded; omitted > 0 {
		fmt.Fprintf(&b, "[%d additional messages omitted to fit the context budget]\n", omitted)
		slog.Info("dispatch.context_truncated", "site", site, "embedded", embedded, "omitted", omitted)
	}

	now := time.Now().UTC()
	return &processor.WorkItem{
		Task:      TaskLeadAnalysis,
		Submitter: agentID,
		Site:      site,
		Targets:   outputSchemaTemplate(),
		Context:   b.String(),
		Status:    processor.StatusPending,
		Metadata: map[string]string{
			"run_id":        uuid.Must(uuid.NewV7()).String(),
			"message_count": fmt.Sprintf("%d", len(survivors)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Submit persists the work item via the processor and returns the
// internal handle. The handle is not guaranteed to equal the processor's
// own storage identifier.
func (d *Dispatcher) Submit(ctx context.Context, item *processor.WorkItem) (string, error) {
	id, err := d.proc.Submit(ctx, item)
	if err != nil {
		return "", fmt.Errorf("submit work item: %w", err)
	}
	item.ID = id
	slog.Info("dispatch.submitted", "work_item", id, "site", item.Site, "messages", item.Metadata["message_count"])
	return id, nil
}

func formatMessage(n int, e *envelope.Envelope) string {
	body := e.Body
	if len(body) > perMessageCharBudget {
		// Back up to a rune boundary so a multibyte character is never
		// split mid-sequence.
		cut := perMessageCharBudget
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "…[truncated]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- Message %d ---\n", n)
	fmt.Fprintf(&b, "From: %s\n", e.From)
	fmt.Fprintf(&b, "To: %s\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	fmt.Fprintf(&b, "Date: %s\n", e.Date)
	if id, ok := envelope.ComputeID(e); ok {
		fmt.Fprintf(&b, "Envelope-ID: %s\n", id)
	}
	b.WriteString(body)
	b.WriteString("\n\n")
	return b.String()
}
