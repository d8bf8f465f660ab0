package webui

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/viz"
)

const maxMinimapSide = 4096

// viewQuery is view state carried in a query string.
type viewQuery struct {
	Domain    timeline.Domain
	Collapsed []string
	Services  []string
	Colors    timeline.ColorMap
	Compact   bool
	Minimap   timeline.MinimapConfig
}

// parseViewQuery reads lo, hi, collapsed, services, colors, compact, w and h.
// Missing bounds default to the full range.
func parseViewQuery(q url.Values, base timeline.MinimapConfig) (viewQuery, error) {
	vq := viewQuery{Domain: timeline.DefaultDomain, Minimap: base}

	var err error
	if vq.Domain.Lo, err = floatParam(q, "lo", 0); err != nil {
		return vq, err
	}
	if vq.Domain.Hi, err = floatParam(q, "hi", 100); err != nil {
		return vq, err
	}
	if !vq.Domain.Valid() {
		return vq, fmt.Errorf("invalid domain [%g, %g]: need 0 <= lo < hi <= 100", vq.Domain.Lo, vq.Domain.Hi)
	}

	vq.Collapsed = listParam(q, "collapsed")
	vq.Services = listParam(q, "services")
	vq.Compact = q.Get("compact") == "true"

	if colors := listParam(q, "colors"); len(colors) > 0 {
		vq.Colors = make(timeline.ColorMap, len(colors))
		for _, pair := range colors {
			name, hex, ok := strings.Cut(pair, ":")
			if !ok {
				return vq, fmt.Errorf("invalid color %q: want service:#rrggbb", pair)
			}
			c, err := timeline.ParseHexColor(hex)
			if err != nil {
				return vq, err
			}
			vq.Colors[name] = c
		}
	}

	if vq.Minimap.Width, err = intParam(q, "w", base.Width); err != nil {
		return vq, err
	}
	if vq.Minimap.Height, err = intParam(q, "h", base.Height); err != nil {
		return vq, err
	}
	if vq.Minimap.Width <= 2*vq.Minimap.HorizontalPad || vq.Minimap.Height <= 2*vq.Minimap.VerticalPad ||
		vq.Minimap.Width > maxMinimapSide || vq.Minimap.Height > maxMinimapSide {
		return vq, fmt.Errorf("invalid minimap size %dx%d", vq.Minimap.Width, vq.Minimap.Height)
	}

	return vq, nil
}

// apply loads t into sess and replays the query's view state on it.
func (vq viewQuery) apply(sess *timeline.Session, t *timeline.Trace) {
	sess.Load(t)

	colors := viz.ServiceColors(t.Services())
	for name, c := range vq.Colors {
		colors[name] = c
	}
	sess.SetColors(colors)

	sess.SetDomain(vq.Domain)
	for _, id := range vq.Collapsed {
		if !sess.Collapsed().Has(id) {
			sess.ToggleCollapse(id)
		}
	}
	if len(vq.Services) > 0 {
		sess.SetServices(vq.Services...)
	}
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

// listParam accepts both repeated keys and comma separated values.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
