package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idSeparator joins the normalized fields before hashing. A control byte
// keeps "a|b" + "c" and "a" + "b|c" from colliding.
const idSeparator = "\x1f"

// ComputeID derives a stable content-addressed identifier from the
// message's routing fields. The same logical message always hashes to the
// same ID, even when the provider reassigns its internal message ID on a
// refetch.
//
// Returns ok=false when to, from, or subject is blank: such a message is
// not deduplicable and callers must process it unconditionally.
func ComputeID(e *Envelope) (string, bool) {
	to := normalizeField(e.To)
	from := normalizeField(e.From)
	subject := normalizeField(e.Subject)
	if to == "" || from == "" || subject == "" {
		return "", false
	}
	date := normalizeField(e.Date)

	h := sha256.Sum256([]byte(to + idSeparator + from + idSeparator + subject + idSeparator + date))
	return hex.EncodeToString(h[:]), true
}

func normalizeField(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
