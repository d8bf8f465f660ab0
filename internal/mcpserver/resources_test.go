package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

func readReq(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: uri},
	}
}

func readText(t *testing.T, result *mcp.ReadResourceResult) string {
	t.Helper()
	if len(result.Contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(result.Contents))
	}
	return result.Contents[0].Text
}

// rawTrace is a one-span parent-id trace owned by the batch service.
func rawTrace(id string) timeline.RawTrace {
	return timeline.RawTrace{
		TraceID: id,
		Schema:  timeline.SchemaParentID,
		A: []timeline.RawSpanA{{
			TraceID:         id,
			SpanID:          id + "-root",
			ServiceName:     "batch",
			Name:            "nightly",
			StartTime:       "2025-03-01T02:00:00Z",
			DurationInNanos: timeline.NewFlexInt(5_000_000),
		}},
	}
}

func TestEndpointResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleEndpointResource(context.Background(), readReq("timeline://endpoint"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readText(t, result)

	if !strings.Contains(text, "OTEL_EXPORTER_OTLP_ENDPOINT=127.0.0.1:4317") {
		t.Errorf("expected endpoint env var, got:\n%s", text)
	}
	if result.Contents[0].URI != "timeline://endpoint" {
		t.Errorf("expected URI to be echoed, got %q", result.Contents[0].URI)
	}
}

func TestStatsResource(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)

	result, err := srv.handleStatsResource(context.Background(), readReq("timeline://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readText(t, result)

	for _, want := range []string{"Traces:          1 / 100 (1%)", "Span records:    3", "OTLP spans seen: 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func TestTracesResource(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handleTracesResource(context.Background(), readReq("timeline://traces"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := readText(t, result); !strings.Contains(text, "(none)") {
		t.Errorf("expected empty listing, got:\n%s", text)
	}

	seedCheckout(t, srv)
	result, err = srv.handleTracesResource(context.Background(), readReq("timeline://traces"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readText(t, result)
	if !strings.Contains(text, "Stored Traces (1)") {
		t.Errorf("expected one trace, got:\n%s", text)
	}
	if !strings.Contains(text, testTraceHex+"  web/POST /checkout") {
		t.Errorf("expected root label, got:\n%s", text)
	}
	if !strings.Contains(text, "error  [parentId, otlp]") {
		t.Errorf("expected error status and source, got:\n%s", text)
	}
}

func TestFileSourcesResource(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleFileSourcesResource(context.Background(), readReq("timeline://file-sources"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := readText(t, result); !strings.Contains(text, "File Sources (0)") {
		t.Errorf("unexpected output:\n%s", text)
	}

	dir := t.TempDir()
	if err := srv.AddFileSource(context.Background(), dir, false); err != nil {
		t.Fatalf("add file source: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	result, err = srv.handleFileSourcesResource(context.Background(), readReq("timeline://file-sources"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readText(t, result)
	if !strings.Contains(text, "File Sources (1)") || !strings.Contains(text, dir) {
		t.Errorf("expected watched directory, got:\n%s", text)
	}
}

func TestTraceResource(t *testing.T) {
	srv := newTestServer(t)
	seedCheckout(t, srv)

	result, err := srv.handleTraceResource(context.Background(), readReq("timeline://traces/"+testTraceHex))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readText(t, result)
	for _, want := range []string{"Trace 01020304", "web.POST /checkout", "payments.charge", "db.INSERT", "Services (3, 3 spans)"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func TestTraceResourceNotFound(t *testing.T) {
	srv := newTestServer(t)
	for _, uri := range []string{"timeline://traces/nope", "timeline://traces/", "other://traces/x"} {
		if _, err := srv.handleTraceResource(context.Background(), readReq(uri)); err == nil {
			t.Errorf("%s: expected not-found error", uri)
		}
	}
}

func TestExtractURIParam(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"timeline://traces/abc", "abc", false},
		{"timeline://traces/a%2Fb", "a/b", false},
		{"timeline://traces/", "", true},
		{"otlp://traces/abc", "", true},
		{"timeline://traces/%zz", "", true},
	}
	for _, tt := range tests {
		got, err := extractURIParam(tt.uri, "timeline://traces/")
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.uri, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestFmtNum(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4200: "-4,200"}
	for in, want := range tests {
		if got := fmtNum(in); got != want {
			t.Errorf("fmtNum(%d) = %q, want %q", in, got, want)
		}
	}
	if got := fmtPct(1, 4); got != "25%" {
		t.Errorf("fmtPct(1, 4) = %q", got)
	}
}
