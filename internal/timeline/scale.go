package timeline

import (
	"math"
	"strconv"
)

// MinDomainWidth is the smallest window, in percentage points, that a drag
// may commit or a minimap resize may shrink to.
const MinDomainWidth = 2.0

// Domain is the zoomed sub-range of a trace extent as percentages [Lo, Hi].
type Domain struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// DefaultDomain is the fully zoomed out window.
var DefaultDomain = Domain{Lo: 0, Hi: 100}

// Width returns Hi - Lo.
func (d Domain) Width() float64 {
	return d.Hi - d.Lo
}

// IsDefault reports whether d is [0,100].
func (d Domain) IsDefault() bool {
	return d == DefaultDomain
}

// Valid reports whether 0 <= Lo < Hi <= 100.
func (d Domain) Valid() bool {
	return d.Lo >= 0 && d.Hi <= 100 && d.Lo < d.Hi
}

// Contains reports whether pct lies inside the window.
func (d Domain) Contains(pct float64) bool {
	return pct >= d.Lo && pct <= d.Hi
}

// Clamp pulls both bounds into [0,100].
func (d Domain) Clamp() Domain {
	return Domain{Lo: clamp(d.Lo, 0, 100), Hi: clamp(d.Hi, 0, 100)}
}

// Scale maps trace time onto a 0-100 visual axis. Internally it works in
// millisecond offsets from the extent start, so tick values are relative to
// the beginning of the trace.
type Scale struct {
	extent Extent
	domain Domain
	d0, d1 float64 // offsets in ms mapped to 0 and 100
	niced  bool
}

// NewScale builds the detail scale for a domain. The default domain is
// niced outward to round tick values; zoomed domains map the exact
// sub-range so the grid stays aligned with the minimap selection.
func NewScale(extent Extent, domain Domain) Scale {
	w := extentWidth(extent)
	s := Scale{
		extent: extent,
		domain: domain,
		d0:     domain.Lo / 100 * w,
		d1:     domain.Hi / 100 * w,
	}
	if domain.IsDefault() {
		s.d0, s.d1 = niceDomain(s.d0, s.d1, 10)
		s.niced = true
	}
	if s.d1 <= s.d0 {
		s.d1 = s.d0 + 1
	}
	return s
}

// NewMinimapScale maps the entire extent onto [0,100], ignoring any zoom.
func NewMinimapScale(extent Extent) Scale {
	return Scale{extent: extent, domain: DefaultDomain, d0: 0, d1: extentWidth(extent)}
}

// Domain returns the window the scale was built for.
func (s Scale) Domain() Domain { return s.domain }

// Niced reports whether the mapped interval was rounded outward.
func (s Scale) Niced() bool { return s.niced }

// Bounds returns the mapped interval as offsets from the trace start.
func (s Scale) Bounds() (lo, hi float64) { return s.d0, s.d1 }

// Map converts an absolute time in unix nanoseconds to a visual coordinate.
// Values outside the window map outside [0,100]; callers clip.
func (s Scale) Map(nanos int64) float64 {
	return s.MapOffset(s.extent.OffsetMs(nanos))
}

// MapOffset converts an offset from the trace start to a visual coordinate.
func (s Scale) MapOffset(offsetMs float64) float64 {
	return (offsetMs - s.d0) / (s.d1 - s.d0) * 100
}

// Invert converts a visual coordinate back to an offset in ms from the
// trace start.
func (s Scale) Invert(v float64) float64 {
	return s.d0 + v/100*(s.d1-s.d0)
}

// Ticks returns roughly count round tick values, as offsets in ms from the
// trace start, spaced evenly across the mapped interval.
func (s Scale) Ticks(count int) []float64 {
	return ticks(s.d0, s.d1, count)
}

// TickCount picks the tick density for a layout: 10 fully zoomed out,
// 5 when zoomed and 2 for compact layouts.
func TickCount(d Domain, compact bool) int {
	switch {
	case compact:
		return 2
	case d.IsDefault():
		return 10
	default:
		return 5
	}
}

// FormatTick renders a tick offset as "<value> ms", truncated to
// microsecond precision.
func FormatTick(offsetMs float64) string {
	v := math.Trunc(offsetMs*1000) / 1000
	if v == 0 {
		v = 0 // normalize -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + " ms"
}

func extentWidth(e Extent) float64 {
	w := e.Width()
	if !(w > 0) || math.IsInf(w, 0) {
		return 1
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var (
	e10 = math.Sqrt(50)
	e5  = math.Sqrt(10)
	e2  = math.Sqrt(2)
)

// tickSpec computes integer tick bounds and the increment for a range.
// A negative inc means the step is 1/-inc, which keeps sub-unit steps exact.
func tickSpec(start, stop float64, count float64) (i1, i2, inc float64) {
	step := (stop - start) / math.Max(0, count)
	power := math.Floor(math.Log10(step))
	errv := step / math.Pow(10, power)
	factor := 1.0
	switch {
	case errv >= e10:
		factor = 10
	case errv >= e5:
		factor = 5
	case errv >= e2:
		factor = 2
	}
	if power < 0 {
		inc = math.Pow(10, -power) / factor
		i1 = math.Round(start * inc)
		i2 = math.Round(stop * inc)
		if i1/inc < start {
			i1++
		}
		if i2/inc > stop {
			i2--
		}
		inc = -inc
	} else {
		inc = math.Pow(10, power) * factor
		i1 = math.Round(start / inc)
		i2 = math.Round(stop / inc)
		if i1*inc < start {
			i1++
		}
		if i2*inc > stop {
			i2--
		}
	}
	if i2 < i1 && 0.5 <= count && count < 2 {
		return tickSpec(start, stop, count*2)
	}
	return i1, i2, inc
}

func ticks(start, stop float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	if start == stop {
		return []float64{start}
	}
	i1, i2, inc := tickSpec(start, stop, float64(count))
	if !(i2 >= i1) {
		return nil
	}
	n := int(i2-i1) + 1
	out := make([]float64, n)
	for i := range out {
		if inc < 0 {
			out[i] = (i1 + float64(i)) / -inc
		} else {
			out[i] = (i1 + float64(i)) * inc
		}
	}
	return out
}

func tickIncrement(start, stop float64, count int) float64 {
	_, _, inc := tickSpec(start, stop, float64(count))
	return inc
}

// niceDomain extends [start, stop] outward to multiples of the tick step.
func niceDomain(start, stop float64, count int) (float64, float64) {
	var prestep float64
	for i := 0; i < 10; i++ {
		step := tickIncrement(start, stop, count)
		if step == prestep || step == 0 || math.IsInf(step, 0) || math.IsNaN(step) {
			break
		}
		if step > 0 {
			start = math.Floor(start/step) * step
			stop = math.Ceil(stop/step) * step
		} else {
			start = math.Ceil(start*step) / step
			stop = math.Floor(stop*step) / step
		}
		prestep = step
	}
	return start, stop
}
