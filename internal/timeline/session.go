package timeline

import "image"

// SessionOptions configures a Session.
type SessionOptions struct {
	Controller ControllerOptions
	Minimap    MinimapConfig
	Compact    bool // two ticks instead of five or ten

	// OnSpanClick receives span ids clicked in the detail grid.
	OnSpanClick func(spanID string)
}

// Session is the interactive state for one viewer of one trace: domain,
// collapse set, service selection and gesture state. Renderers read it;
// all mutation goes through its named operations. A Session is owned by a
// single goroutine.
type Session struct {
	trace    *Trace
	domain   Domain
	collapse CollapseSet
	services ServiceSelection
	colors   ColorMap

	ctrl    *Controller
	minimap *Minimap
	compact bool
	onClick func(string)

	version uint64
}

// NewSession creates a session with no trace loaded.
func NewSession(opts SessionOptions) *Session {
	cfg := opts.Minimap
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg = DefaultMinimapConfig()
	}
	s := &Session{
		domain:   DefaultDomain,
		collapse: CollapseSet{},
		services: ServiceSelection{},
		minimap:  NewMinimap(cfg),
		compact:  opts.Compact,
		onClick:  opts.OnSpanClick,
	}
	s.ctrl = NewController(s, opts.Controller)
	return s
}

// Load swaps in a new trace. The domain resets to [0,100] whenever the
// extent changes; collapsed ids that no longer exist are dropped.
func (s *Session) Load(t *Trace) {
	s.ctrl.Cancel()
	if s.trace == nil || t == nil || s.trace.Extent != t.Extent {
		s.domain = DefaultDomain
	}
	for id := range s.collapse {
		if t == nil || t.Nodes[id] == nil {
			delete(s.collapse, id)
		}
	}
	s.trace = t
	s.touch()
}

// Trace returns the loaded trace, possibly nil.
func (s *Session) Trace() *Trace { return s.trace }

// Domain implements DomainStore.
func (s *Session) Domain() Domain { return s.domain }

// SetDomain implements DomainStore. Bounds are clamped to [0,100]; an
// empty or inverted window is rejected.
func (s *Session) SetDomain(d Domain) {
	d = d.Clamp()
	if !d.Valid() || d == s.domain {
		return
	}
	s.domain = d
	s.touch()
}

// Controller exposes the gesture state machine for pointer events.
func (s *Session) Controller() *Controller { return s.ctrl }

// ToggleCollapse flips the collapse state of a span with children.
func (s *Session) ToggleCollapse(spanID string) bool {
	if s.trace == nil {
		return false
	}
	n := s.trace.Nodes[spanID]
	if n == nil || !n.HasChildren() {
		return false
	}
	s.collapse.Toggle(spanID)
	s.touch()
	return true
}

// CollapseAll collapses every span that has children.
func (s *Session) CollapseAll() {
	s.collapse = CollapseAll(s.trace)
	s.touch()
}

// ExpandAll empties the collapse set.
func (s *Session) ExpandAll() {
	s.collapse = CollapseSet{}
	s.touch()
}

// Collapsed returns the collapse set. Callers must not modify it.
func (s *Session) Collapsed() CollapseSet { return s.collapse }

// SetServices replaces the service selection. No names means all services.
func (s *Session) SetServices(names ...string) {
	s.services = NewServiceSelection(names...)
	s.touch()
}

// Services returns the current service selection.
func (s *Session) Services() ServiceSelection { return s.services }

// SetColors replaces the service color map used by the minimap.
func (s *Session) SetColors(c ColorMap) {
	s.colors = c
	s.touch()
}

// Colors returns the service color map.
func (s *Session) Colors() ColorMap { return s.colors }

// Reset zooms fully out and expands everything. It is the only operation
// that changes both the domain and the collapse set.
func (s *Session) Reset() {
	s.ctrl.Cancel()
	s.domain = DefaultDomain
	s.collapse = CollapseSet{}
	s.touch()
}

// ClickSpan forwards a span click to the host callback.
func (s *Session) ClickSpan(spanID string) bool {
	if s.trace == nil || s.trace.Nodes[spanID] == nil {
		return false
	}
	if s.onClick != nil {
		s.onClick(spanID)
	}
	return true
}

// Tick flushes a due throttled drag update. Hosts call it from their event
// loop at roughly the throttle cadence.
func (s *Session) Tick() bool {
	before := s.version
	ran := s.ctrl.Tick()
	if ran && s.version == before {
		// selection-only updates don't pass through SetDomain
		s.touch()
	}
	return ran
}

// Close cancels pending throttled work so nothing fires after teardown.
func (s *Session) Close() {
	s.ctrl.Cancel()
}

// Version increments on every observable state change.
func (s *Session) Version() uint64 { return s.version }

// Rows flattens the trace for the detail grid.
func (s *Session) Rows() []Row {
	return Flatten(s.trace, s.collapse, s.services)
}

// Scale returns the detail scale for the current domain.
func (s *Session) Scale() Scale {
	if s.trace == nil {
		return NewScale(Extent{}, s.domain)
	}
	return NewScale(s.trace.Extent, s.domain)
}

// MinimapScale returns the full-extent scale.
func (s *Session) MinimapScale() Scale {
	if s.trace == nil {
		return NewMinimapScale(Extent{})
	}
	return NewMinimapScale(s.trace.Extent)
}

// Ticks returns tick offsets for the current domain and layout.
func (s *Session) Ticks() []float64 {
	return s.Scale().Ticks(TickCount(s.domain, s.compact))
}

// MinimapImage renders the overview with the current selection overlay.
func (s *Session) MinimapImage() *image.RGBA {
	return s.minimap.Composite(s.trace, s.colors, s.domain)
}

// Minimap returns the raster cache.
func (s *Session) Minimap() *Minimap { return s.minimap }

func (s *Session) touch() {
	s.version++
}
