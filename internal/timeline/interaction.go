package timeline

import (
	"math"
	"time"
)

// DragState is the controller's current gesture state.
type DragState int

const (
	Idle DragState = iota
	DraggingSelection
	DraggingMinimap
)

func (s DragState) String() string {
	switch s {
	case DraggingSelection:
		return "dragging-selection"
	case DraggingMinimap:
		return "dragging-minimap"
	default:
		return "idle"
	}
}

// Gesture is the kind of minimap drag, decided by where it started.
type Gesture int

const (
	GestureNone Gesture = iota
	GestureMove
	GestureResizeLeft
	GestureResizeRight
)

func (g Gesture) String() string {
	switch g {
	case GestureMove:
		return "move"
	case GestureResizeLeft:
		return "resize-left"
	case GestureResizeRight:
		return "resize-right"
	default:
		return "none"
	}
}

// Selection is a provisional zoom region on the detail surface, as
// fractions of the surface width with Start <= End.
type Selection struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DomainStore owns the domain. Every controller update goes through
// SetDomain so selection commits and minimap drags share one source of truth.
type DomainStore interface {
	Domain() Domain
	SetDomain(Domain)
}

// DefaultEdgeWidth is the minimap resize handle tolerance as a fraction of
// the track width.
const DefaultEdgeWidth = 0.01

// selectionEpsilon keeps a drag of exactly MinDomainWidth from committing
// because of float noise in the subtraction.
const selectionEpsilon = 1e-9

// ControllerOptions tunes a Controller. Zero values use the defaults.
type ControllerOptions struct {
	ThrottleInterval time.Duration
	Now              func() time.Time
	EdgeWidth        float64
}

// Controller is the pointer gesture state machine for the detail surface
// and the minimap. Only one gesture is active at a time.
type Controller struct {
	store    DomainStore
	throttle *Throttle
	edge     float64

	state   DragState
	gesture Gesture

	dragStart float64
	selection Selection

	startFrac   float64
	startDomain Domain
}

// NewController creates an idle controller updating store.
func NewController(store DomainStore, opts ControllerOptions) *Controller {
	edge := opts.EdgeWidth
	if edge <= 0 {
		edge = DefaultEdgeWidth
	}
	return &Controller{
		store:    store,
		throttle: NewThrottle(opts.ThrottleInterval, opts.Now),
		edge:     edge,
	}
}

// State returns the current gesture state.
func (c *Controller) State() DragState { return c.state }

// Gesture returns the active minimap gesture, GestureNone otherwise.
func (c *Controller) Gesture() Gesture { return c.gesture }

// Selection returns the provisional selection while one is being drawn.
func (c *Controller) Selection() (Selection, bool) {
	return c.selection, c.state == DraggingSelection
}

// DetailPointerDown starts a selection drag. Positions outside [0,1] are
// near-miss clicks and are ignored; it reports whether a drag started.
func (c *Controller) DetailPointerDown(frac float64) bool {
	if c.state != Idle || !inUnit(frac) {
		return false
	}
	c.state = DraggingSelection
	c.dragStart = frac
	c.selection = Selection{Start: frac, End: frac}
	return true
}

// DetailPointerMove updates the provisional selection at the throttled rate.
func (c *Controller) DetailPointerMove(frac float64) {
	if c.state != DraggingSelection {
		return
	}
	sel := ordered(c.dragStart, clamp(frac, 0, 1))
	c.throttle.Do(func() { c.selection = sel })
}

// DetailPointerUp ends a selection drag. Selections wider than
// MinDomainWidth points are remapped through the current domain and
// committed; narrower ones are treated as clicks and discarded.
func (c *Controller) DetailPointerUp(frac float64) (Domain, bool) {
	if c.state != DraggingSelection {
		return c.store.Domain(), false
	}
	sel := ordered(c.dragStart, clamp(frac, 0, 1))
	c.finish()

	if (sel.End-sel.Start)*100 <= MinDomainWidth+selectionEpsilon {
		return c.store.Domain(), false
	}
	cur := c.store.Domain()
	next := Domain{
		Lo: cur.Lo + sel.Start*cur.Width(),
		Hi: cur.Lo + sel.End*cur.Width(),
	}.Clamp()
	c.store.SetDomain(next)
	return next, true
}

// HitTest classifies a minimap track position against the current window:
// its left edge, right edge or body. Edges win over the body and the
// nearer edge wins when they overlap.
func (c *Controller) HitTest(frac float64) Gesture {
	d := c.store.Domain()
	lo, hi := d.Lo/100, d.Hi/100
	dl, dr := math.Abs(frac-lo), math.Abs(frac-hi)
	switch {
	case dl <= c.edge && dl <= dr:
		return GestureResizeLeft
	case dr <= c.edge:
		return GestureResizeRight
	case frac > lo && frac < hi:
		return GestureMove
	default:
		return GestureNone
	}
}

// MinimapPointerDown starts a move or resize gesture if frac hits the
// selection overlay. Background presses are left to MinimapClick.
func (c *Controller) MinimapPointerDown(frac float64) bool {
	if c.state != Idle || !inUnit(frac) {
		return false
	}
	g := c.HitTest(frac)
	if g == GestureNone {
		return false
	}
	c.state = DraggingMinimap
	c.gesture = g
	c.startFrac = frac
	c.startDomain = c.store.Domain()
	return true
}

// MinimapPointerMove applies the active gesture at the throttled rate.
func (c *Controller) MinimapPointerMove(frac float64) {
	if c.state != DraggingMinimap {
		return
	}
	next := c.dragDomain(frac)
	c.throttle.Do(func() { c.store.SetDomain(next) })
}

// MinimapPointerUp ends a minimap gesture. A pending throttled update is
// dropped, not flushed.
func (c *Controller) MinimapPointerUp() {
	if c.state != DraggingMinimap {
		return
	}
	c.finish()
}

// MinimapClick recentres the window on frac, keeping its width, when the
// click lands outside it. It reports whether the domain changed.
func (c *Controller) MinimapClick(frac float64) bool {
	if c.state != Idle || !inUnit(frac) {
		return false
	}
	d := c.store.Domain()
	pct := frac * 100
	if d.Contains(pct) {
		return false
	}
	w := d.Width()
	lo := clamp(pct-w/2, 0, 100-w)
	c.store.SetDomain(Domain{Lo: lo, Hi: lo + w}.Clamp())
	return true
}

// PointerLeave abandons any gesture without committing it.
func (c *Controller) PointerLeave() {
	c.finish()
}

// Tick runs a due throttled update. The owner's event loop calls it.
func (c *Controller) Tick() bool {
	return c.throttle.Flush()
}

// Cancel returns to Idle and drops pending work; used on reset and teardown.
func (c *Controller) Cancel() {
	c.finish()
}

func (c *Controller) finish() {
	c.throttle.Cancel()
	c.state = Idle
	c.gesture = GestureNone
	c.selection = Selection{}
}

// dragDomain computes the window for the active gesture with the pointer at
// frac, relative to the domain captured when the gesture began.
func (c *Controller) dragDomain(frac float64) Domain {
	d := c.startDomain
	delta := (clamp(frac, 0, 1) - c.startFrac) * 100

	switch c.gesture {
	case GestureMove:
		w := d.Width()
		lo := clamp(d.Lo+delta, 0, 100-w)
		return Domain{Lo: lo, Hi: lo + w}.Clamp()
	case GestureResizeLeft:
		lo := math.Max(0, math.Min(d.Hi-MinDomainWidth, d.Lo+delta))
		return Domain{Lo: lo, Hi: d.Hi}
	case GestureResizeRight:
		hi := math.Min(100, math.Max(d.Lo+MinDomainWidth, d.Hi+delta))
		return Domain{Lo: d.Lo, Hi: hi}
	default:
		return d
	}
}

func inUnit(frac float64) bool {
	return frac >= 0 && frac <= 1
}

func ordered(a, b float64) Selection {
	if a > b {
		a, b = b, a
	}
	return Selection{Start: a, End: b}
}
