package viz

import (
	"fmt"
	"strings"
)

// TraceList renders a compact table of stored traces.
func TraceList(traces []TraceListEntry) string {
	if len(traces) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Traces (%d)\n", len(traces))

	for _, t := range traces {
		shortID := t.TraceID
		if len(shortID) > 16 {
			shortID = shortID[:16]
		}

		status := "✓"
		if t.HasError {
			status = "✗"
		}

		label := t.RootService + "/" + t.RootOperation
		if t.RootService == "" && t.RootOperation == "" {
			label = "(empty)"
		}
		if len(label) > 40 {
			label = label[:39] + "…"
		}

		fmt.Fprintf(&b, "  %s %-16s  %-40s  %5d spans  %8s\n", status, shortID, label, t.SpanCount, formatMs(t.DurationMs))
	}

	return b.String()
}
