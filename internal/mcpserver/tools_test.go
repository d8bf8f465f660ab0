package mcpserver

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-timeline/internal/storage"
)

var (
	testTraceID = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	rootSpanID  = []byte{0, 0, 0, 0, 0, 0, 0, 1}
	chargeID    = []byte{0, 0, 0, 0, 0, 0, 0, 2}
	insertID    = []byte{0, 0, 0, 0, 0, 0, 0, 3}
)

const testTraceHex = "0102030405060708090a0b0c0d0e0f10"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(storage.NewTraceStore(100), "127.0.0.1:4317")
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return srv
}

func makeResourceSpan(serviceName string, spans ...*tracepb.Span) *tracepb.ResourceSpans {
	return &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{
			Attributes: []*commonpb.KeyValue{
				{Key: "service.name", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: serviceName}}},
			},
		},
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
	}
}

func makeSpan(spanID, parentID []byte, name string, startMs, durMs int64) *tracepb.Span {
	base := uint64(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).UnixNano())
	start := base + uint64(startMs)*uint64(time.Millisecond)
	return &tracepb.Span{
		TraceId:           testTraceID,
		SpanId:            spanID,
		ParentSpanId:      parentID,
		Name:              name,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   start + uint64(durMs)*uint64(time.Millisecond),
	}
}

// seedCheckout stores web -> payments -> db, with the payments span failed.
func seedCheckout(t *testing.T, srv *Server) {
	t.Helper()
	charge := makeSpan(chargeID, rootSpanID, "charge", 10, 50)
	charge.Status = &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR, Message: "declined"}

	err := srv.store.ReceiveSpans(context.Background(), []*tracepb.ResourceSpans{
		makeResourceSpan("web", makeSpan(rootSpanID, nil, "POST /checkout", 0, 100)),
		makeResourceSpan("payments", charge),
		makeResourceSpan("db", makeSpan(insertID, chargeID, "INSERT", 20, 10)),
	})
	require.NoError(t, err)
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func ptr(v float64) *float64 { return &v }

func TestGetOTLPEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleGetOTLPEndpoint(context.Background(), nil, GetOTLPEndpointInput{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4317", out.Endpoint)
	assert.Equal(t, "grpc", out.Protocol)
	assert.Equal(t, "127.0.0.1:4317", out.EnvironmentVars["OTEL_EXPORTER_OTLP_ENDPOINT"])
}

func TestListTraces(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	res, out, err := srv.handleListTraces(ctx, nil, ListTracesInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Total)
	assert.NotNil(t, out.Traces)
	assert.Contains(t, resultText(t, res), "No traces stored")

	seedCheckout(t, srv)
	srv.store.Put(rawTrace("other"), "test")

	res, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Stats.TraceCount)
	text := resultText(t, res)
	assert.Contains(t, text, "Traces (2)")
	assert.Contains(t, text, "Trace Store")

	_, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{ErrorsOnly: true})
	require.NoError(t, err)
	require.Len(t, out.Traces, 1)
	assert.Equal(t, testTraceHex, out.Traces[0].TraceID)
	assert.Equal(t, "web", out.Traces[0].RootService)

	_, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{Service: "batch"})
	require.NoError(t, err)
	require.Len(t, out.Traces, 1)
	assert.Equal(t, "other", out.Traces[0].TraceID)

	_, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, out.Traces, 1)
	assert.Equal(t, 2, out.Total)
}

func TestRenderTimeline(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)
	ctx := context.Background()

	res, out, err := srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{})
	require.NoError(t, err)
	assert.Equal(t, testTraceHex, out.TraceID, "defaults to the newest trace")
	assert.Equal(t, 3, out.SpanCount)
	assert.Equal(t, 3, out.VisibleRows)
	assert.Equal(t, 100.0, out.DurationMs)
	require.Len(t, out.Services, 3)

	text := resultText(t, res)
	assert.Contains(t, text, "Trace 01020304 (3 spans, 100ms)")
	assert.Contains(t, text, "web.POST /checkout")
	assert.Contains(t, text, "!! ERR")
	assert.Contains(t, text, "Errors (1)")
	assert.Contains(t, text, "Services (3, 3 spans)")
}

func TestRenderTimeline_ViewState(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)
	ctx := context.Background()

	res, out, err := srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{
		TraceID:   testTraceHex,
		Lo:        ptr(10),
		Hi:        ptr(60),
		Collapsed: []string{"0000000000000002"},
		Services:  []string{"payments"},
		Width:     120,
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.Domain.Lo)
	assert.Equal(t, 60.0, out.Domain.Hi)
	assert.Equal(t, 2, out.VisibleRows)

	text := resultText(t, res)
	assert.Contains(t, text, "window 10.0-60.0%")
	assert.Contains(t, text, "(+1 hidden)")
	assert.Contains(t, text, "[x] payments")
	assert.Contains(t, text, "[ ] web")

	_, out, err = srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{CollapseAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.VisibleRows)
}

func TestRenderTimeline_Errors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{})
	assert.ErrorContains(t, err, "no traces stored")

	seedCheckout(t, srv)
	_, _, err = srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{TraceID: "missing"})
	assert.ErrorContains(t, err, "not found")

	_, _, err = srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{Lo: ptr(70), Hi: ptr(20)})
	assert.ErrorContains(t, err, "invalid window")

	_, _, err = srv.handleRenderTimeline(ctx, nil, RenderTimelineInput{Collapsed: []string{"0000000000000003"}})
	assert.ErrorContains(t, err, "cannot collapse")
}

func TestRenderMinimap(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)

	res, out, err := srv.handleRenderMinimap(context.Background(), nil, RenderMinimapInput{
		Lo: ptr(25), Hi: ptr(50), Width: 300, Height: 40,
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	imgContent, ok := res.Content[0].(*mcp.ImageContent)
	require.True(t, ok, "expected image content, got %T", res.Content[0])
	assert.Equal(t, "image/png", imgContent.MIMEType)

	img, err := png.Decode(bytes.NewReader(imgContent.Data))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	assert.Equal(t, 25.0, out.Domain.Lo)
	assert.Len(t, out.Colors, 3)
	for _, c := range out.Colors {
		assert.True(t, strings.HasPrefix(c, "#") && len(c) == 7, c)
	}

	_, _, err = srv.handleRenderMinimap(context.Background(), nil, RenderMinimapInput{Width: 5})
	assert.ErrorContains(t, err, "invalid minimap size")
}

func TestLoadTraceFile(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "jaeger.json")
	doc := `{"data":[{"traceID":"abc","spans":[
		{"traceID":"abc","spanID":"s1","operationName":"GET","references":[],"startTime":1700000000000000,"duration":2000,"processID":"p1"},
		{"traceID":"abc","spanID":"s2","operationName":"SELECT","references":[{"refType":"CHILD_OF","spanID":"s1"}],"startTime":1700000000000500,"duration":1000,"processID":"p1"}
	],"processes":{"p1":{"serviceName":"api"}}}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, out, err := srv.handleLoadTraceFile(ctx, nil, LoadTraceFileInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "jaeger", out.Format)
	assert.Equal(t, []string{"abc"}, out.TraceIDs)
	assert.Equal(t, 2, out.Spans)

	tr, ok := srv.store.Load("abc")
	require.True(t, ok)
	require.Len(t, tr.Roots, 1)
	assert.Equal(t, "api", tr.Roots[0].ServiceName)

	_, _, err = srv.handleLoadTraceFile(ctx, nil, LoadTraceFileInput{Path: path, Schema: "zipkin"})
	assert.Error(t, err)
	_, _, err = srv.handleLoadTraceFile(ctx, nil, LoadTraceFileInput{})
	assert.ErrorContains(t, err, "path is required")
	_, _, err = srv.handleLoadTraceFile(ctx, nil, LoadTraceFileInput{Path: filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}

func TestFileSourceTools(t *testing.T) {
	srv := newTestServer(t)
	t.Cleanup(srv.Shutdown)
	ctx := context.Background()
	dir := t.TempDir()

	_, out, err := srv.handleAddFileSource(ctx, nil, AddFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.True(t, out.Success, out.Message)
	assert.Equal(t, []string{dir}, out.Directories)

	_, out, err = srv.handleAddFileSource(ctx, nil, AddFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "already being watched")

	_, out, err = srv.handleRemoveFileSource(ctx, nil, RemoveFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Directories)
}

func TestClearTraces(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)

	_, out, err := srv.handleClearTraces(context.Background(), nil, ClearTracesInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Cleared)
	assert.Equal(t, 0, srv.store.Stats().TraceCount)
}
