package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

// StatsOverview renders trace store fill levels.
func StatsOverview(stats StoreStats) string {
	var b strings.Builder

	b.WriteString("Trace Store\n")
	writeBar(&b, "Traces", stats.TraceCount, stats.TraceCapacity)
	fmt.Fprintf(&b, "  Spans held: %s  received: %s  evicted traces: %s\n",
		formatCount(stats.SpanCount), formatCount(int(stats.SpansReceived)), formatCount(int(stats.Evicted)))

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	fmt.Fprintf(b, "  %-8s [%s]  %s / %s\n", label, bar, formatCount(count), formatCount(capacity))
}

// ServiceStatsFor counts spans and errors per service in t and marks the
// services emphasized by sel.
func ServiceStatsFor(t *timeline.Trace, sel timeline.ServiceSelection) []ServiceStats {
	byName := make(map[string]*ServiceStats)
	t.Walk(func(n *timeline.SpanNode, _ int) bool {
		s := byName[n.ServiceName]
		if s == nil {
			s = &ServiceStats{Name: n.ServiceName, Selected: sel.Shows(n.ServiceName)}
			byName[n.ServiceName] = s
		}
		s.SpanCount++
		if n.HasError {
			s.ErrorCount++
		}
		return true
	})

	out := make([]ServiceStats, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpanCount != out[j].SpanCount {
			return out[i].SpanCount > out[j].SpanCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ServiceSummary renders the service legend as a bar chart. When only some
// services are selected, each line is prefixed with [x] or [ ].
func ServiceSummary(services []ServiceStats, width int) string {
	if len(services) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	totalSpans, maxCount, maxNameLen := 0, 0, 0
	partial := false
	for _, s := range services {
		totalSpans += s.SpanCount
		maxCount = max(maxCount, s.SpanCount)
		maxNameLen = max(maxNameLen, len(s.Name))
		if !s.Selected {
			partial = true
		}
	}
	maxNameLen = min(maxNameLen, 20)
	barBudget := min(20, max(width-maxNameLen-30, 5))

	var b strings.Builder
	fmt.Fprintf(&b, "Services (%d, %d spans)\n", len(services), totalSpans)

	for _, s := range services {
		name := s.Name
		if len(name) > maxNameLen {
			name = name[:maxNameLen-1] + "…"
		}

		barLen := 0
		if maxCount > 0 {
			barLen = s.SpanCount * barBudget / maxCount
		}
		if barLen < 1 && s.SpanCount > 0 {
			barLen = 1
		}
		fill := "#"
		if !s.Selected {
			fill = "-"
		}
		bar := strings.Repeat(fill, barLen) + strings.Repeat(" ", barBudget-barLen)

		mark := ""
		if partial {
			mark = "[ ] "
			if s.Selected {
				mark = "[x] "
			}
		}

		errStr := ""
		if s.ErrorCount > 0 {
			errStr = fmt.Sprintf(" (%d errors)", s.ErrorCount)
		}

		fmt.Fprintf(&b, "  %s%-*s  %s  %d spans%s\n", mark, maxNameLen, name, bar, s.SpanCount, errStr)
	}

	return b.String()
}

// ErrorSpans lists the spans of t flagged as errors in document order.
func ErrorSpans(t *timeline.Trace) string {
	var lines []string
	t.Walk(func(n *timeline.SpanNode, _ int) bool {
		if n.HasError {
			label := n.ServiceName + "/" + n.OperationName
			if len(label) > 40 {
				label = label[:39] + "…"
			}
			lines = append(lines, fmt.Sprintf("  ✗ %-16s  %-40s  %s", shortSpanID(n.SpanID), label, formatMs(n.DurationMs)))
		}
		return true
	})
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("Errors (%d)\n%s\n", len(lines), strings.Join(lines, "\n"))
}

func shortSpanID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
