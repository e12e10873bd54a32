package pipeline

import (
	"strings"

	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
)

// SiteRules are the per-site filter settings, resolved from config before
// a pipeline run.
type SiteRules struct {
	// Aliases are the configured destination addresses for this site.
	// Empty list disables the alias stage entirely.
	Aliases []string

	// SystemDomain is this system's own outbound domain/URL. Messages
	// referencing it are feedback from our own sends.
	SystemDomain string

	// NoReplyAddress is the site's configured no-reply sender.
	NoReplyAddress string

	// SuspiciousTerms drive the optional heuristic content guard.
	// Empty list disables the stage.
	SuspiciousTerms []string
}

// automatedSenderNames are local-part prefixes of common machine senders.
var automatedSenderNames = []string{
	"postmaster",
	"mailer-daemon",
	"no-reply",
	"noreply",
	"do-not-reply",
	"donotreply",
	"auto-reply",
	"autoresponder",
	"bounce",
	"bounces",
}

// bulkPrecedenceValues mark list/automated mail in the Precedence header.
var bulkPrecedenceValues = map[string]bool{
	"bulk":       true,
	"junk":       true,
	"list":       true,
	"auto_reply": true,
}

// isFeedbackLoop reports whether the message is an echo of, or an
// automated reaction to, this system's own outbound mail.
func isFeedbackLoop(e *envelope.Envelope, rules SiteRules) bool {
	from := envelope.NormalizeAddress(e.From)

	if rules.SystemDomain != "" {
		domain := strings.ToLower(rules.SystemDomain)
		if strings.Contains(strings.ToLower(e.Body), domain) ||
			strings.Contains(strings.ToLower(e.Subject), domain) {
			return true
		}
		if strings.HasSuffix(from, "@"+strings.TrimPrefix(domain, "@")) {
			return true
		}
	}

	if rules.NoReplyAddress != "" && from == envelope.NormalizeAddress(rules.NoReplyAddress) {
		return true
	}

	local := from
	if i := strings.IndexByte(from, '@'); i >= 0 {
		local = from[:i]
	}
	for _, name := range automatedSenderNames {
		if strings.HasPrefix(local, name) {
			return true
		}
	}

	if v := strings.ToLower(strings.TrimSpace(e.Header("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	if bulkPrecedenceValues[strings.ToLower(strings.TrimSpace(e.Header("Precedence")))] {
		return true
	}
	if strings.TrimSpace(e.Header("X-Auto-Response-Suppress")) != "" {
		return true
	}

	return false
}

// isSelfSent reports whether the message's normalized sender equals its
// normalized recipient.
func isSelfSent(e *envelope.Envelope) bool {
	from := envelope.NormalizeAddress(e.From)
	to := envelope.NormalizeAddress(e.To)
	return from != "" && from == to
}

// matchesAnyAlias checks the message's destination-bearing fields against
// the configured aliases: exact, substring, bracketed-address, or entry in
// a comma-separated list, all case-insensitive.
func matchesAnyAlias(e *envelope.Envelope, aliases []string) bool {
	dests := e.DeliveredTo()
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		for _, dest := range dests {
			if aliasMatchesDest(a, dest) {
				return true
			}
		}
	}
	return false
}

func aliasMatchesDest(alias, dest string) bool {
	d := strings.ToLower(strings.TrimSpace(dest))
	if d == alias || strings.Contains(d, alias) {
		return true
	}
	if envelope.NormalizeAddress(d) == alias {
		return true
	}
	for _, part := range strings.Split(d, ",") {
		if envelope.NormalizeAddress(part) == alias {
			return true
		}
	}
	return false
}

// hasSuspiciousContent applies the optional heuristic guard. Best effort,
// non-authoritative.
func hasSuspiciousContent(e *envelope.Envelope, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	body := strings.ToLower(e.Body)
	subject := strings.ToLower(e.Subject)
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(body, t) || strings.Contains(subject, t) {
			return true
		}
	}
	return false
}
