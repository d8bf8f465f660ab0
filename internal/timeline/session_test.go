package timeline

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() (*Session, *fakeClock) {
	clock := newFakeClock()
	s := NewSession(SessionOptions{
		Controller: ControllerOptions{Now: clock.Now},
		Minimap:    testMinimapConfig(),
	})
	return s, clock
}

func TestSession_LoadResetsDomainOnExtentChange(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())
	s.SetDomain(Domain{Lo: 20, Hi: 40})

	s.Load(sampleTrace())
	assert.Equal(t, Domain{Lo: 20, Hi: 40}, s.Domain(), "same extent keeps the zoom")

	s.Load(chainTrace(4))
	assert.Equal(t, DefaultDomain, s.Domain())
}

func TestSession_LoadPrunesCollapsedIDs(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())
	require.True(t, s.ToggleCollapse("query"))
	require.True(t, s.ToggleCollapse("auth"))

	s.Load(Load(RawTrace{Schema: SchemaParentID, A: []RawSpanA{
		spanA("root", "", "api", 0, 100),
		spanA("auth", "root", "auth", 5, 15),
		spanA("token", "auth", "auth", 6, 4),
	}}))
	assert.Equal(t, []string{"auth"}, s.Collapsed().IDs())
}

func TestSession_ToggleCollapseNeedsChildren(t *testing.T) {
	s, _ := newTestSession()
	assert.False(t, s.ToggleCollapse("root"), "no trace loaded")

	s.Load(sampleTrace())
	assert.False(t, s.ToggleCollapse("token"), "leaf")
	assert.False(t, s.ToggleCollapse("nope"))
	assert.True(t, s.ToggleCollapse("root"))
	assert.Equal(t, []string{"root"}, rowIDs(s.Rows()))
}

func TestSession_CollapseAndExpandAll(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())

	s.CollapseAll()
	assert.Equal(t, []string{"root"}, rowIDs(s.Rows()))
	s.ToggleCollapse("root")
	assert.Equal(t, []string{"root", "auth", "query"}, rowIDs(s.Rows()), "nested parents stay collapsed")

	s.ExpandAll()
	assert.Len(t, s.Rows(), 6)
}

func TestSession_ResetClearsDomainAndCollapse(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())
	s.SetDomain(Domain{Lo: 10, Hi: 30})
	s.ToggleCollapse("query")
	s.SetServices("db")

	s.Reset()
	assert.Equal(t, DefaultDomain, s.Domain())
	assert.Empty(t, s.Collapsed())
	assert.Equal(t, []string{"db"}, s.Services().Names(), "service selection survives reset")
}

func TestSession_SetDomainRejectsInvalid(t *testing.T) {
	s, _ := newTestSession()
	v := s.Version()

	s.SetDomain(Domain{Lo: 50, Hi: 50})
	s.SetDomain(Domain{Lo: 70, Hi: 30})
	assert.Equal(t, DefaultDomain, s.Domain())
	assert.Equal(t, v, s.Version())

	s.SetDomain(Domain{Lo: -10, Hi: 50})
	assert.Equal(t, Domain{Lo: 0, Hi: 50}, s.Domain())
}

func TestSession_ClickSpan(t *testing.T) {
	var clicked []string
	s := NewSession(SessionOptions{OnSpanClick: func(id string) { clicked = append(clicked, id) }})
	assert.False(t, s.ClickSpan("root"))

	s.Load(sampleTrace())
	assert.True(t, s.ClickSpan("scan"))
	assert.False(t, s.ClickSpan("missing"))
	assert.Equal(t, []string{"scan"}, clicked)
}

func TestSession_DragThroughController(t *testing.T) {
	s, clock := newTestSession()
	s.Load(sampleTrace())
	c := s.Controller()

	require.True(t, c.DetailPointerDown(0.25))
	v := s.Version()
	c.DetailPointerMove(0.5) // leading edge, selection only
	c.DetailPointerMove(0.75)
	clock.Advance(DefaultThrottleInterval)
	assert.True(t, s.Tick())
	assert.Greater(t, s.Version(), v, "selection updates bump the version")

	d, ok := c.DetailPointerUp(0.75)
	require.True(t, ok)
	assert.Equal(t, Domain{Lo: 25, Hi: 75}, d)
	assert.Equal(t, d, s.Domain())
}

func TestSession_CloseCancelsPendingDrag(t *testing.T) {
	s, clock := newTestSession()
	s.Load(sampleTrace())
	s.SetDomain(Domain{Lo: 20, Hi: 60})
	c := s.Controller()

	require.True(t, c.MinimapPointerDown(0.4))
	c.MinimapPointerMove(0.5)
	c.MinimapPointerMove(0.6)
	before := s.Domain()

	s.Close()
	clock.Advance(time.Second)
	assert.False(t, s.Tick())
	assert.Equal(t, before, s.Domain())
	assert.Equal(t, Idle, c.State())
}

func TestSession_MinimapImageCached(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())

	s.MinimapImage()
	s.SetDomain(Domain{Lo: 10, Hi: 50})
	img := s.MinimapImage()
	assert.Equal(t, 1, s.Minimap().Redraws())
	assert.Equal(t, overlayHandle, img.RGBAAt(13, 5))

	s.SetColors(ColorMap{"db": color.RGBA{G: 200, A: 255}})
	s.MinimapImage()
	assert.Equal(t, 2, s.Minimap().Redraws())
}

func TestSession_View(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())
	s.SetServices("auth")

	v := s.View()
	assert.Equal(t, "t1", v.TraceID)
	assert.False(t, v.Empty)
	assert.Equal(t, 6, v.SpanCount)
	assert.Equal(t, "idle", v.State)
	assert.Equal(t, []string{"api", "auth", "db"}, v.Services)
	assert.Equal(t, []string{"auth"}, v.Selected)

	require.Len(t, v.Ticks, 11)
	assert.Equal(t, "0 ms", v.Ticks[0].Label)
	assert.Equal(t, "100 ms", v.Ticks[10].Label)
	assert.InDelta(t, 100, v.Ticks[10].Position, 1e-9)

	require.Len(t, v.Rows, 6)
	assert.True(t, v.Rows[0].Dimmed)
	assert.False(t, v.Rows[1].Dimmed)
	assert.InDelta(t, 30, v.Rows[3].StartOffsetMs, 1e-6)
	assert.InDelta(t, 60, v.Rows[3].DurationMs, 1e-9)
}

func TestSession_ViewZoomedClipsRows(t *testing.T) {
	s, _ := newTestSession()
	s.Load(sampleTrace())
	s.SetDomain(Domain{Lo: 0, Hi: 50})

	v := s.View()
	require.Len(t, v.Rows, 6)
	root, sort := v.Rows[0], v.Rows[5]
	assert.Equal(t, 0.0, root.Left)
	assert.Equal(t, 100.0, root.Right, "clipped to the window")
	assert.True(t, root.InWindow)
	assert.False(t, sort.InWindow, "60-80 ms lies past a 0-50 ms window")

	for _, tick := range v.Ticks {
		assert.GreaterOrEqual(t, tick.Position, -1e-9)
		assert.LessOrEqual(t, tick.Position, 100+1e-9)
	}
}

func TestSession_EmptyView(t *testing.T) {
	s, _ := newTestSession()
	v := s.View()
	assert.True(t, v.Empty)
	assert.Empty(t, v.Rows)
	assert.Empty(t, s.Rows())

	s.Load(Load(RawTrace{Schema: SchemaReference}))
	assert.True(t, s.View().Empty)
	assert.NotNil(t, s.MinimapImage())
}
