package ingest

import "errors"

// Error taxonomy. Only these four reach the caller as failures; lookup
// degradations and partial successes are handled inside the run.
var (
	// ErrSiteNotConfigured means no mailbox/filter config exists for the
	// requested site. Surfaced as not-found, never retried.
	ErrSiteNotConfigured = errors.New("site not configured")

	// ErrFetchFailed wraps a mailbox fetch failure. Surfaced as a server
	// error; the run is not retried automatically.
	ErrFetchFailed = errors.New("mailbox fetch failed")

	// ErrInvalidRequest marks a malformed request, wrapped with field detail.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCommandExecution means the work item never reached a usable
	// terminal state within the poll budget and produced no results.
	ErrCommandExecution = errors.New("command execution failed")
)
