package viz

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

const (
	maxRows     = 200
	minBarWidth = 20
	maxBarWidth = 60
)

// WaterfallOptions controls detail grid rendering.
type WaterfallOptions struct {
	Width int       // total line width; 0 uses 100
	Ticks []float64 // tick offsets in ms; nil picks them from the scale
}

// Waterfall renders the detail grid for flattened rows: a header, a tick
// axis for the scale's window and one bar per row. Dimmed rows draw with
// '-' instead of '#'; '<' and '>' mark bars cut off by the window.
func Waterfall(t *timeline.Trace, rows []timeline.Row, scale timeline.Scale, opts WaterfallOptions) string {
	if t.Empty() {
		return ""
	}
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	barWidth := min(max(width*2/5, minBarWidth), maxBarWidth)

	ticks := opts.Ticks
	if ticks == nil {
		ticks = scale.Ticks(timeline.TickCount(scale.Domain(), false))
	}

	var b strings.Builder
	d := scale.Domain()
	shortID := t.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(&b, "Trace %s (%d spans, %s)", shortID, t.SpanCount, formatMs(t.Extent.Width()))
	if !d.IsDefault() {
		fmt.Fprintf(&b, " window %.1f-%.1f%%", d.Lo, d.Hi)
	}
	b.WriteByte('\n')

	overflow := 0
	if len(rows) > maxRows {
		overflow = len(rows) - maxRows
		rows = rows[:maxRows]
	}

	lastChild := lastChildren(t)
	hidden := make(map[string]int)

	// Pass 1: Find max length of duration + error suffix for alignment
	maxDurErrLen := 0
	for _, r := range rows {
		l := len(durErr(r.Node))
		if l > maxDurErrLen {
			maxDurErrLen = l
		}
	}

	barCol := width - barWidth - 3 - maxDurErrLen // display column of '['
	writeAxis(&b, ticks, scale, barCol, barWidth)

	// Pass 2: Render each row. isLast[level] tracks the ancestors so the
	// tree connectors match the hierarchy.
	var isLast []bool
	for _, r := range rows {
		isLast = append(isLast[:r.Level], lastChild[r.Node])

		label := r.Node.ServiceName + "." + r.Node.OperationName
		if r.Collapsed && r.HasChildren {
			n, ok := hidden[r.Node.SpanID]
			if !ok {
				n = countDescendants(r.Node)
				hidden[r.Node.SpanID] = n
			}
			label += fmt.Sprintf(" (+%d hidden)", n)
		}
		renderRow(&b, r, isLast, label, scale, barCol, barWidth, maxDurErrLen)
	}

	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", overflow)
	}

	return b.String()
}

func renderRow(b *strings.Builder, r timeline.Row, isLast []bool, label string, scale timeline.Scale, barCol, barWidth, maxDurErrLen int) {
	// Tree-drawing characters (│, ├─, └─) are multi-byte UTF-8 but each
	// occupies a single display column.
	var prefix strings.Builder
	prefix.WriteString(" ")
	for d := 0; d < r.Level-1; d++ {
		if isLast[d+1] {
			prefix.WriteString("   ")
		} else {
			prefix.WriteString("│  ")
		}
	}
	if r.Level > 0 {
		if isLast[r.Level] {
			prefix.WriteString("└─ ")
		} else {
			prefix.WriteString("├─ ")
		}
	}
	prefixStr := prefix.String()
	prefixCols := utf8.RuneCountInString(prefixStr)

	labelBudget := max(barCol-1-prefixCols, 8)
	if utf8.RuneCountInString(label) > labelBudget {
		label = string([]rune(label)[:labelBudget-1]) + "…"
	}
	paddedLabel := label + strings.Repeat(" ", max(0, labelBudget-utf8.RuneCountInString(label)))

	de := durErr(r.Node)
	paddedDurErr := de + strings.Repeat(" ", max(0, maxDurErrLen-len(de)))

	bar := buildBar(scale.Map(r.Node.StartUnixNano), scale.Map(r.Node.EndUnixNano()), barWidth, r.Dimmed)
	fmt.Fprintf(b, "%s%s [%s] %s\n", prefixStr, paddedLabel, bar, strings.TrimRight(paddedDurErr, " "))
}

// buildBar draws a span occupying visual range [left, right] of a 0-100
// axis into width cells.
func buildBar(left, right float64, width int, dimmed bool) string {
	bar := make([]byte, width)
	for i := range bar {
		bar[i] = '.'
	}
	if right < 0 || left > 100 {
		return string(bar)
	}

	fill := byte('#')
	if dimmed {
		fill = '-'
	}
	startPos := int(math.Floor(math.Max(left, 0) / 100 * float64(width)))
	endPos := int(math.Ceil(math.Min(right, 100) / 100 * float64(width)))
	startPos = min(startPos, width-1)
	// at least 1 char active
	endPos = min(max(endPos, startPos+1), width)
	for i := startPos; i < endPos; i++ {
		bar[i] = fill
	}
	if left < 0 {
		bar[0] = '<'
	}
	if right > 100 {
		bar[width-1] = '>'
	}
	return string(bar)
}

// writeAxis prints tick labels and a ruler aligned with the bar column.
func writeAxis(b *strings.Builder, ticks []float64, scale timeline.Scale, barCol, barWidth int) {
	labels := []rune(strings.Repeat(" ", barWidth+12))
	ruler := []rune(strings.Repeat("-", barWidth))
	next := 0
	for _, off := range ticks {
		pos := scale.MapOffset(off)
		if pos < -1e-9 || pos > 100+1e-9 {
			continue
		}
		col := int(math.Round(pos / 100 * float64(barWidth-1)))
		ruler[col] = '|'

		text := []rune(timeline.FormatTick(off))
		if col < next || col+len(text) > len(labels) {
			continue
		}
		copy(labels[col:], text)
		next = col + len(text) + 1
	}
	pad := strings.Repeat(" ", max(barCol+1, 0))
	fmt.Fprintf(b, "%s%s\n", pad, strings.TrimRight(string(labels), " "))
	fmt.Fprintf(b, "%s%s\n", pad, string(ruler))
}

func durErr(n *timeline.SpanNode) string {
	s := formatMs(n.DurationMs)
	if n.HasError {
		s += " !! ERR"
	}
	return s
}

// lastChildren marks every node that is the last of its siblings.
func lastChildren(t *timeline.Trace) map[*timeline.SpanNode]bool {
	out := make(map[*timeline.SpanNode]bool, t.SpanCount)
	var mark func(nodes []*timeline.SpanNode)
	mark = func(nodes []*timeline.SpanNode) {
		for i, n := range nodes {
			out[n] = i == len(nodes)-1
			mark(n.Children)
		}
	}
	mark(t.Roots)
	return out
}

func countDescendants(n *timeline.SpanNode) int {
	total := 0
	for _, c := range n.Children {
		total += 1 + countDescendants(c)
	}
	return total
}

// formatMs renders a millisecond duration at a readable precision.
func formatMs(ms float64) string {
	switch {
	case ms <= 0:
		return "0ns"
	case ms < 0.001:
		return fmt.Sprintf("%.0fns", ms*1e6)
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.0fms", ms)
	default:
		return fmt.Sprintf("%.1fs", ms/1000)
	}
}
