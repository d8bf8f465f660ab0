package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/viz"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "timeline://endpoint",
		Name:        "endpoint",
		Description: "OTLP gRPC endpoint address and environment variable suggestions.",
		MIMEType:    "text/plain",
	}, s.handleEndpointResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "timeline://stats",
		Name:        "stats",
		Description: "Trace store counts, capacity and evictions.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "timeline://traces",
		Name:        "traces",
		Description: "Stored traces, most recently updated first.",
		MIMEType:    "text/plain",
	}, s.handleTracesResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "timeline://file-sources",
		Name:        "file-sources",
		Description: "Directories being watched for trace files.",
		MIMEType:    "text/plain",
	}, s.handleFileSourcesResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "timeline://traces/{trace_id}",
		Name:        "trace-timeline",
		Description: "Fully expanded, fully zoomed out waterfall of one trace with its service legend.",
		MIMEType:    "text/plain",
	}, s.handleTraceResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleEndpointResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	var b strings.Builder
	b.WriteString("OTLP Endpoint\n")
	b.WriteString("═════════════\n")
	fmt.Fprintf(&b, "  Address:   %s\n", s.endpoint)
	b.WriteString("  Protocol:  grpc\n")
	b.WriteString("  Signals:   traces\n")
	b.WriteString("\n  Environment Variables:\n")
	fmt.Fprintf(&b, "    OTEL_EXPORTER_OTLP_ENDPOINT=%s\n", s.endpoint)
	b.WriteString("    OTEL_EXPORTER_OTLP_PROTOCOL=grpc\n")

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.store.Stats()

	var b strings.Builder
	b.WriteString("Trace Store Statistics\n")
	b.WriteString("══════════════════════\n")
	fmt.Fprintf(&b, "  Traces:          %s / %s (%s)\n",
		fmtNum(stats.TraceCount), fmtNum(stats.Capacity), fmtPct(stats.TraceCount, stats.Capacity))
	fmt.Fprintf(&b, "  Span records:    %s\n", fmtNum(stats.SpanCount))
	fmt.Fprintf(&b, "  OTLP spans seen: %s\n", fmtNum(int(stats.SpansReceived)))
	fmt.Fprintf(&b, "  Evicted traces:  %s\n", fmtNum(int(stats.Evicted)))
	fmt.Fprintf(&b, "  Generation:      %d\n", stats.Generation)

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleTracesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	list := s.store.List()

	var b strings.Builder
	fmt.Fprintf(&b, "Stored Traces (%d)\n", len(list))
	b.WriteString("══════════════════\n")
	if len(list) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, t := range list {
		status := "ok"
		if t.HasError {
			status = "error"
		}
		fmt.Fprintf(&b, "  %s  %s/%s  %s spans  %.3f ms  %s  [%s, %s]\n",
			t.TraceID, t.RootService, t.RootOperation, fmtNum(t.SpanCount), t.DurationMs, status, t.Schema, t.Source)
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.FileSourceStats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Directory < stats[j].Directory })

	var b strings.Builder
	fmt.Fprintf(&b, "File Sources (%d)\n", len(stats))
	b.WriteString("═════════════════\n")

	if len(stats) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, stat := range stats {
			fmt.Fprintf(&b, "  %s\n", stat.Directory)
			fmt.Fprintf(&b, "    JSONL files tailed: %d\n", stat.FilesTailed)
			fmt.Fprintf(&b, "    Documents loaded:   %d\n", stat.DocumentsRead)
			if len(stat.WatchedDirs) > 0 {
				b.WriteString("    Watching:\n")
				for _, dir := range stat.WatchedDirs {
					fmt.Fprintf(&b, "      • %s\n", dir)
				}
			}
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handleTraceResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	traceID, err := extractURIParam(req.Params.URI, "timeline://traces/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	t, ok := s.store.Load(traceID)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	rows := timeline.Flatten(t, timeline.CollapseSet{}, nil)
	scale := timeline.NewScale(t.Extent, timeline.DefaultDomain)

	var b strings.Builder
	b.WriteString(viz.Waterfall(t, rows, scale, viz.WaterfallOptions{}))
	b.WriteString("\n")
	b.WriteString(viz.ServiceSummary(viz.ServiceStatsFor(t, nil), 0))

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam extracts the parameter value from a URI by stripping the prefix
// and URL-decoding the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:  uri,
			Text: text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	s := fmt.Sprintf("%d", n)
	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fmtPct formats a percentage like "62%" or "100%".
func fmtPct(count, capacity int) string {
	if capacity == 0 {
		return "─"
	}
	pct := float64(count) / float64(capacity) * 100
	return fmt.Sprintf("%.0f%%", pct)
}
