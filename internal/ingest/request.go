package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Request is one ingestion run for a site. Upstream callers use several
// field-naming conventions for the same logical fields, so decoding is
// deliberately tolerant: camelCase, snake_case, and bare names all bind.
type Request struct {
	SiteID       string
	Limit        int
	SinceDate    time.Time
	LeadID       string
	AgentID      string
	TeamMemberID string
	AnalysisType string
	UserID       string
}

type requestWire struct {
	SiteID  string `json:"siteId"`
	SiteID2 string `json:"site_id"`
	SiteID3 string `json:"site"`

	Limit  int `json:"limit"`
	Limit2 int `json:"max_messages"`

	SinceDate  string `json:"sinceDate"`
	SinceDate2 string `json:"since_date"`
	SinceDate3 string `json:"since"`

	LeadID  string `json:"leadId"`
	LeadID2 string `json:"lead_id"`

	AgentID  string `json:"agentId"`
	AgentID2 string `json:"agent_id"`

	TeamMemberID  string `json:"teamMemberId"`
	TeamMemberID2 string `json:"team_member_id"`

	AnalysisType  string `json:"analysisType"`
	AnalysisType2 string `json:"analysis_type"`

	UserID  string `json:"userId"`
	UserID2 string `json:"user_id"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	r.SiteID = firstNonEmpty(w.SiteID, w.SiteID2, w.SiteID3)
	r.LeadID = firstNonEmpty(w.LeadID, w.LeadID2)
	r.AgentID = firstNonEmpty(w.AgentID, w.AgentID2)
	r.TeamMemberID = firstNonEmpty(w.TeamMemberID, w.TeamMemberID2)
	r.AnalysisType = firstNonEmpty(w.AnalysisType, w.AnalysisType2)
	r.UserID = firstNonEmpty(w.UserID, w.UserID2)

	r.Limit = w.Limit
	if r.Limit == 0 {
		r.Limit = w.Limit2
	}

	if raw := firstNonEmpty(w.SinceDate, w.SinceDate2, w.SinceDate3); raw != "" {
		ts, err := parseSince(raw)
		if err != nil {
			return fmt.Errorf("%w: sinceDate: %v", ErrInvalidRequest, err)
		}
		r.SinceDate = ts
	}
	return nil
}

// parseSince accepts RFC 3339 timestamps and bare dates.
func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// Validate checks required fields, wrapping ErrInvalidRequest with the
// failing field's name.
func (r *Request) Validate() error {
	if r.SiteID == "" {
		return fmt.Errorf("%w: siteId is required", ErrInvalidRequest)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative", ErrInvalidRequest)
	}
	return nil
}
