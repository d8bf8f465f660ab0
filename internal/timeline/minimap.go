package timeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// maxSpanBarHeight caps minimap bars so small traces don't render as slabs.
const maxSpanBarHeight = 4.0

// ColorMap assigns a display color per service name. It is computed by the
// host, not by this package.
type ColorMap map[string]color.Color

var (
	defaultSpanColor  = color.RGBA{R: 0x8a, G: 0x8a, B: 0x8a, A: 0xff}
	overlayFill       = color.RGBA{R: 0x33, G: 0x66, B: 0xcc, A: 0x40}
	overlayHandle     = color.RGBA{R: 0x33, G: 0x66, B: 0xcc, A: 0xff}
	minimapBackground = color.RGBA{A: 0}
)

// MinimapConfig fixes the raster surface size. HorizontalPad is reserved on
// both sides for the selection drag handles.
type MinimapConfig struct {
	Width         int
	Height        int
	VerticalPad   int
	HorizontalPad int
}

// DefaultMinimapConfig returns the standard overview surface.
func DefaultMinimapConfig() MinimapConfig {
	return MinimapConfig{Width: 800, Height: 60, VerticalPad: 2, HorizontalPad: 6}
}

func (c MinimapConfig) availableHeight() float64 {
	return math.Max(0, float64(c.Height-2*c.VerticalPad))
}

func (c MinimapConfig) trackWidth() float64 {
	return math.Max(1, float64(c.Width-2*c.HorizontalPad))
}

// MinimapLayout holds the vertical metrics of the overview.
type MinimapLayout struct {
	TotalRows      int
	RowHeight      float64
	SpanBarHeight  float64
	VerticalOffset float64
}

// ComputeLayout counts every span in t, ignoring collapse and service
// filters, and fits one bar per span into the available height.
func ComputeLayout(t *Trace, cfg MinimapConfig) MinimapLayout {
	var rows int
	t.Walk(func(*SpanNode, int) bool {
		rows++
		return true
	})
	if rows == 0 {
		return MinimapLayout{}
	}
	avail := cfg.availableHeight()
	l := MinimapLayout{TotalRows: rows, RowHeight: avail / float64(rows)}
	l.SpanBarHeight = math.Min(maxSpanBarHeight, l.RowHeight)
	if used := l.SpanBarHeight * float64(rows); used < avail {
		l.VerticalOffset = (avail - used) / 2
	}
	return l
}

// Draw paints one rectangle per span onto dst. Rows follow depth-first
// document order, which produces the waterfall silhouette. Horizontal
// positions come from scale, which should be the full-extent minimap scale.
func Draw(dst draw.Image, t *Trace, scale Scale, colors ColorMap, layout MinimapLayout, cfg MinimapConfig) {
	if layout.TotalRows == 0 {
		return
	}
	track := cfg.trackWidth()
	pad := float64(cfg.HorizontalPad)
	top := float64(cfg.VerticalPad) + layout.VerticalOffset
	bounds := dst.Bounds()

	row := 0
	t.Walk(func(n *SpanNode, _ int) bool {
		y0 := top + float64(row)*layout.SpanBarHeight
		y1 := y0 + layout.SpanBarHeight
		row++

		x0 := pad + clamp(scale.Map(n.StartUnixNano), 0, 100)/100*track
		x1 := pad + clamp(scale.Map(n.EndUnixNano()), 0, 100)/100*track

		r := image.Rect(
			int(math.Floor(x0)), int(math.Floor(y0)),
			int(math.Ceil(x1)), int(math.Ceil(y1)),
		)
		if r.Dx() < 1 {
			r.Max.X = r.Min.X + 1
		}
		if r.Dy() < 1 {
			r.Max.Y = r.Min.Y + 1
		}
		draw.Draw(dst, r.Intersect(bounds), image.NewUniform(colors.lookup(n.ServiceName)), image.Point{}, draw.Src)
		return true
	})
}

func (m ColorMap) lookup(service string) color.Color {
	if c, ok := m[service]; ok && c != nil {
		return c
	}
	return defaultSpanColor
}

// fingerprint is a stable identity for the color map contents.
func (m ColorMap) fingerprint() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		r, g, bl, a := m.lookup(k).RGBA()
		fmt.Fprintf(&b, "%s=%04x%04x%04x%04x;", k, r, g, bl, a)
	}
	return b.String()
}

// Overlay returns the pixel rectangle of the selection window for domain.
func Overlay(domain Domain, cfg MinimapConfig) image.Rectangle {
	track := cfg.trackWidth()
	pad := float64(cfg.HorizontalPad)
	x0 := pad + domain.Lo/100*track
	x1 := pad + domain.Hi/100*track
	return image.Rect(int(math.Floor(x0)), 0, int(math.Ceil(x1)), cfg.Height)
}

// DrawOverlay shades the selection window and draws its two edge handles.
func DrawOverlay(dst draw.Image, domain Domain, cfg MinimapConfig) {
	r := Overlay(domain, cfg).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(overlayFill), image.Point{}, draw.Over)
	handle := image.NewUniform(overlayHandle)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), handle, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), handle, image.Point{}, draw.Src)
}

// TrackFraction converts a surface x coordinate to a fraction of the span
// track. The handle pads clamp to the track ends; points off the surface
// return values outside [0,1], which the controller ignores.
func TrackFraction(px float64, cfg MinimapConfig) float64 {
	if px >= 0 && px <= float64(cfg.Width) {
		px = clamp(px, float64(cfg.HorizontalPad), float64(cfg.Width-cfg.HorizontalPad))
	}
	return (px - float64(cfg.HorizontalPad)) / cfg.trackWidth()
}

// Minimap caches the span raster. The expensive span pass reruns only when
// the trace, color map or layout metrics change; domain changes only
// recomposite the overlay.
type Minimap struct {
	cfg MinimapConfig

	base     *image.RGBA
	trace    *Trace
	colorKey string
	layout   MinimapLayout

	redraws int
}

// NewMinimap creates an empty cache for surfaces of cfg's size.
func NewMinimap(cfg MinimapConfig) *Minimap {
	return &Minimap{cfg: cfg}
}

// Config returns the surface configuration.
func (m *Minimap) Config() MinimapConfig { return m.cfg }

// Redraws counts full span passes since creation.
func (m *Minimap) Redraws() int { return m.redraws }

// Layout returns the metrics of the last render.
func (m *Minimap) Layout() MinimapLayout { return m.layout }

// Render returns the span raster for t, redrawing only when needed.
// The returned image must not be modified.
func (m *Minimap) Render(t *Trace, colors ColorMap) *image.RGBA {
	layout := ComputeLayout(t, m.cfg)
	key := colors.fingerprint()
	if m.base != nil && m.trace == t && m.colorKey == key && m.layout == layout {
		return m.base
	}

	img := image.NewRGBA(image.Rect(0, 0, m.cfg.Width, m.cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(minimapBackground), image.Point{}, draw.Src)
	if !t.Empty() {
		Draw(img, t, NewMinimapScale(t.Extent), colors, layout, m.cfg)
	}

	m.base, m.trace, m.colorKey, m.layout = img, t, key, layout
	m.redraws++
	return img
}

// Composite copies the cached raster and draws the selection overlay for
// domain on top.
func (m *Minimap) Composite(t *Trace, colors ColorMap, domain Domain) *image.RGBA {
	base := m.Render(t, colors)
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, image.Point{}, draw.Src)
	DrawOverlay(out, domain, m.cfg)
	return out
}

// EncodePNG writes img as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode minimap png: %w", err)
	}
	return nil
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa".
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if len(h) == 6 {
		h += "ff"
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
