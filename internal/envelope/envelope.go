package envelope

import (
	"strings"
)

// Envelope is the in-memory view of one fetched message's routing and
// content fields. It is never persisted directly; only the derived ID is.
type Envelope struct {
	To      string            `json:"to"`
	From    string            `json:"from"`
	Subject string            `json:"subject"`
	Date    string            `json:"date"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// ProviderID is the mailbox provider's own message ID. Providers may
	// reassign it across refetches, so it never participates in ID derivation.
	ProviderID string `json:"provider_id,omitempty"`
}

// deliveredToHeaders are the header names a provider may use for the
// actual delivery address, checked in addition to the To field.
var deliveredToHeaders = []string{
	"delivered-to",
	"x-delivered-to",
	"envelope-to",
	"x-envelope-to",
	"x-original-to",
}

// Header returns the named header, matching case-insensitively.
func (e *Envelope) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	if v, ok := e.Headers[name]; ok {
		return v
	}
	lower := strings.ToLower(name)
	for k, v := range e.Headers {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// DeliveredTo collects every destination-bearing value on the message:
// the To field plus provider delivered-to/envelope-to style headers.
// Empty values are omitted.
func (e *Envelope) DeliveredTo() []string {
	var out []string
	if v := strings.TrimSpace(e.To); v != "" {
		out = append(out, v)
	}
	for _, h := range deliveredToHeaders {
		if v := strings.TrimSpace(e.Header(h)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// NormalizeAddress lowercases an address and strips an optional
// "Display Name <addr>" wrapper.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			return strings.TrimSpace(s[i+1 : i+j])
		}
	}
	return s
}
