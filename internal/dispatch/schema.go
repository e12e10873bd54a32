package dispatch

import "encoding/json"

// Placeholder phrases embedded in the output-schema template. Extraction
// scans returned items for these exact strings: a processor that echoes
// the template unfilled is rejected, not surfaced.
const (
	placeholderSummary   = "<one-sentence summary of the inquiry>"
	placeholderIntent    = "<buyer intent: high, medium, or low>"
	placeholderName      = "<sender full name, or empty>"
	placeholderEmail     = "<sender email address>"
	placeholderPhone     = "<phone number if present, or empty>"
	placeholderCompany   = "<company name if present, or empty>"
	placeholderNextStep  = "<suggested next step for the sales team>"
	placeholderReference = "<envelope id of the source message>"
)

// templatePlaceholders is the scan list for extraction.
var templatePlaceholders = []string{
	placeholderSummary,
	placeholderIntent,
	placeholderName,
	placeholderEmail,
	placeholderPhone,
	placeholderCompany,
	placeholderNextStep,
	placeholderReference,
}

// leadTarget is the expected shape of one extracted lead, with
// placeholder values the processor must replace.
type leadTarget struct {
	Summary     string            `json:"summary"`
	Intent      string            `json:"intent"`
	ContactInfo leadContactTarget `json:"contact_info"`
	NextStep    string            `json:"next_step"`
	SourceID    string            `json:"source_envelope_id"`
}

type leadContactTarget struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// outputSchemaTemplate renders the targets block embedded in every work
// item: one template item describing the expected fields.
func outputSchemaTemplate() json.RawMessage {
	tmpl := []leadTarget{{
		Summary: placeholderSummary,
		Intent:  placeholderIntent,
		ContactInfo: leadContactTarget{
			Name:    placeholderName,
			Email:   placeholderEmail,
			Phone:   placeholderPhone,
			Company: placeholderCompany,
		},
		NextStep: placeholderNextStep,
		SourceID: placeholderReference,
	}}
	b, _ := json.Marshal(tmpl)
	return b
}
