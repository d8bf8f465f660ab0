package viz

import (
	"image/color"
	"sort"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

// palette is a qualitative set that stays readable on light and dark
// backgrounds.
var palette = []string{
	"#4e79a7", "#f28e2b", "#59a14f", "#e15759", "#76b7b2",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

// ServiceColors assigns palette colors to services in name order so the
// same set of services always gets the same colors.
func ServiceColors(services []string) timeline.ColorMap {
	names := append([]string(nil), services...)
	sort.Strings(names)

	out := make(timeline.ColorMap, len(names))
	for i, name := range names {
		c, _ := timeline.ParseHexColor(palette[i%len(palette)])
		out[name] = c
	}
	return out
}

// HexColor formats c as "#rrggbb".
func HexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	const hex = "0123456789abcdef"
	buf := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint32{r >> 8, g >> 8, b >> 8} {
		buf[1+2*i] = hex[v>>4]
		buf[2+2*i] = hex[v&0xf]
	}
	return string(buf)
}
