package dispatch

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/inboxrelay/internal/processor"
)

// ExtractResults returns the usable output items of a finished work item.
// Only entries in Results count as real output; anything living solely in
// Targets is an unfilled schema template. Each item is scanned for the
// literal placeholder phrases from the template; an item still carrying
// one was echoed back unfilled and is discarded.
func ExtractResults(item *processor.WorkItem) []json.RawMessage {
	if item == nil || len(item.Results) == 0 {
		return nil
	}

	out := make([]json.RawMessage, 0, len(item.Results))
	for i, raw := range item.Results {
		if leaked := findPlaceholder(raw); leaked != "" {
			slog.Warn("dispatch.placeholder_rejected",
				"work_item", item.ID, "index", i, "placeholder", leaked)
			continue
		}
		out = append(out, raw)
	}
	return out
}

// findPlaceholder returns the first template placeholder present in the
// serialized item, or "".
func findPlaceholder(raw json.RawMessage) string {
	s := string(raw)
	for _, p := range templatePlaceholders {
		if strings.Contains(s, p) {
			return p
		}
	}
	return ""
}
