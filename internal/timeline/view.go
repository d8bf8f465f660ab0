package timeline

// TickMark is a labelled tick on the detail axis.
type TickMark struct {
	OffsetMs float64 `json:"offset_ms"`
	Position float64 `json:"position"` // 0-100
	Label    string  `json:"label"`
}

// RowView is the serializable form of one detail row. Left and Right are
// visual coordinates clipped to [0,100]; InWindow is false when the bar
// lies entirely outside the zoomed window.
type RowView struct {
	SpanID        string  `json:"span_id"`
	Service       string  `json:"service"`
	Operation     string  `json:"operation"`
	Level         int     `json:"level"`
	Dimmed        bool    `json:"dimmed,omitempty"`
	HasChildren   bool    `json:"has_children,omitempty"`
	Collapsed     bool    `json:"collapsed,omitempty"`
	HasError      bool    `json:"has_error,omitempty"`
	StartOffsetMs float64 `json:"start_offset_ms"`
	DurationMs    float64 `json:"duration_ms"`
	Left          float64 `json:"left"`
	Right         float64 `json:"right"`
	InWindow      bool    `json:"in_window"`
}

// View is a point-in-time snapshot of everything a detail renderer needs.
type View struct {
	TraceID   string     `json:"trace_id"`
	Empty     bool       `json:"empty"`
	SpanCount int        `json:"span_count"`
	Domain    Domain     `json:"domain"`
	State     string     `json:"state"`
	Gesture   string     `json:"gesture,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	Ticks     []TickMark `json:"ticks"`
	Rows      []RowView  `json:"rows"`
	Services  []string   `json:"services"`
	Selected  []string   `json:"selected_services"`
	Report    string     `json:"report,omitempty"`
	Version   uint64     `json:"version"`
}

// BuildRowViews positions rows against a scale.
func BuildRowViews(rows []Row, scale Scale, extent Extent) []RowView {
	out := make([]RowView, 0, len(rows))
	for _, r := range rows {
		n := r.Node
		left := scale.Map(n.StartUnixNano)
		right := scale.Map(n.EndUnixNano())
		out = append(out, RowView{
			SpanID:        n.SpanID,
			Service:       n.ServiceName,
			Operation:     n.OperationName,
			Level:         r.Level,
			Dimmed:        r.Dimmed,
			HasChildren:   r.HasChildren,
			Collapsed:     r.Collapsed,
			HasError:      n.HasError,
			StartOffsetMs: extent.OffsetMs(n.StartUnixNano),
			DurationMs:    n.DurationMs,
			Left:          clamp(left, 0, 100),
			Right:         clamp(right, 0, 100),
			InWindow:      right >= 0 && left <= 100,
		})
	}
	return out
}

// BuildTickMarks labels tick offsets against a scale.
func BuildTickMarks(offsets []float64, scale Scale) []TickMark {
	out := make([]TickMark, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, TickMark{OffsetMs: o, Position: scale.MapOffset(o), Label: FormatTick(o)})
	}
	return out
}

// View snapshots the session for rendering or serialization.
func (s *Session) View() View {
	scale := s.Scale()
	v := View{
		Domain:   s.domain,
		State:    s.ctrl.State().String(),
		Ticks:    BuildTickMarks(s.Ticks(), scale),
		Selected: s.services.Names(),
		Version:  s.version,
		Empty:    s.trace.Empty(),
	}
	if g := s.ctrl.Gesture(); g != GestureNone {
		v.Gesture = g.String()
	}
	if sel, ok := s.ctrl.Selection(); ok {
		v.Selection = &sel
	}
	if s.trace == nil {
		return v
	}
	v.TraceID = s.trace.ID
	v.SpanCount = s.trace.SpanCount
	v.Services = s.trace.Services()
	v.Rows = BuildRowViews(s.Rows(), scale, s.trace.Extent)
	if !s.trace.Report.Clean() {
		v.Report = s.trace.Report.String()
	}
	return v
}
