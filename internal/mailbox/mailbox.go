// Package mailbox abstracts the external mailbox provider. How messages
// are physically retrieved or deleted (IMAP, provider API, webhooks) is a
// provider concern; this core only consumes the narrow interface below.
package mailbox

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/envelope"
)

// Config is the resolved provider configuration for one site. It is
// produced by the credential resolver and passed through opaquely.
type Config struct {
	Provider string
	Address  string
	// Secret carries provider credentials. Never logged.
	Secret map[string]string
}

// Client fetches and deletes messages from a site's mailbox.
type Client interface {
	// Fetch returns up to limit inbound messages received since the given
	// time (zero time = no lower bound).
	Fetch(ctx context.Context, cfg Config, limit int, since time.Time) ([]*envelope.Envelope, error)

	// Delete removes a message by provider ID. fromSent selects the sent
	// folder instead of the inbox. Best effort; returns false when the
	// message no longer exists.
	Delete(ctx context.Context, cfg Config, providerID string, fromSent bool) (bool, error)
}
