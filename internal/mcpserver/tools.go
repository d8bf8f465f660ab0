package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-timeline/internal/filereader"
	"github.com/tobert/otlp-timeline/internal/storage"
	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/viz"
)

// ═══════════════════════════════════════════════════════════════════════════
// TIMELINE MCP TOOLS
//
// 1. get_otlp_endpoint  - where programs should send traces
// 2. list_traces        - stored traces, newest first, plus store fill level
// 3. render_timeline    - ASCII detail grid with zoom, collapse and service emphasis
// 4. render_minimap     - PNG overview of the whole trace with the zoom window
// 5. load_trace_file    - load one OTLP/Jaeger/span-list file into the store
// 6. add_file_source    - watch a directory of trace files
// 7. remove_file_source - stop watching a directory
// 8. clear_traces       - drop every stored trace
//
// Agents think: "show me where the time went in that request", then zoom.
// ═══════════════════════════════════════════════════════════════════════════

// Tool 1: get_otlp_endpoint

type GetOTLPEndpointInput struct{}

type GetOTLPEndpointOutput struct {
	Endpoint        string            `json:"endpoint" jsonschema:"OTLP gRPC endpoint address for traces"`
	Protocol        string            `json:"protocol" jsonschema:"Protocol type (grpc)"`
	EnvironmentVars map[string]string `json:"environment_vars" jsonschema:"Suggested environment variables for configuring applications"`
}

func (s *Server) handleGetOTLPEndpoint(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOTLPEndpointInput,
) (*mcp.CallToolResult, GetOTLPEndpointOutput, error) {
	return &mcp.CallToolResult{}, GetOTLPEndpointOutput{
		Endpoint: s.endpoint,
		Protocol: "grpc",
		EnvironmentVars: map[string]string{
			"OTEL_EXPORTER_OTLP_ENDPOINT": s.endpoint,
			"OTEL_EXPORTER_OTLP_PROTOCOL": "grpc",
			"OTEL_TRACES_EXPORTER":        "otlp",
		},
	}, nil
}

// Tool 2: list_traces

type ListTracesInput struct {
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum traces to return (default 20)"`
	Service    string `json:"service,omitempty" jsonschema:"Only traces whose root span belongs to this service"`
	ErrorsOnly bool   `json:"errors_only,omitempty" jsonschema:"Only traces containing an error span"`
}

type ListTracesOutput struct {
	Traces []storage.TraceSummary `json:"traces" jsonschema:"Stored traces, most recently updated first"`
	Total  int                    `json:"total" jsonschema:"Matching traces before the limit was applied"`
	Stats  storage.StoreStats     `json:"stats" jsonschema:"Trace store fill level"`
}

func (s *Server) handleListTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListTracesInput,
) (*mcp.CallToolResult, ListTracesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	var matched []storage.TraceSummary
	for _, t := range s.store.List() {
		if input.Service != "" && t.RootService != input.Service {
			continue
		}
		if input.ErrorsOnly && !t.HasError {
			continue
		}
		matched = append(matched, t)
	}

	out := ListTracesOutput{Total: len(matched), Stats: s.store.Stats()}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out.Traces = matched
	if out.Traces == nil {
		out.Traces = []storage.TraceSummary{}
	}

	entries := make([]viz.TraceListEntry, len(out.Traces))
	for i, t := range out.Traces {
		entries[i] = viz.TraceListEntry{
			TraceID:       t.TraceID,
			RootService:   t.RootService,
			RootOperation: t.RootOperation,
			SpanCount:     t.SpanCount,
			DurationMs:    t.DurationMs,
			HasError:      t.HasError,
			Source:        t.Source,
			Updated:       t.Updated,
		}
	}

	text := viz.TraceList(entries)
	if text == "" {
		text = "No traces stored. Send OTLP traces to " + s.endpoint + " or load a trace file.\n"
	}
	text += "\n" + viz.StatsOverview(storeStatsForViz(out.Stats))

	return textToolResult(text), out, nil
}

// Tool 3: render_timeline

// viewInput is the view state shared by the rendering tools.
type viewInput struct {
	TraceID  string
	Lo, Hi   *float64
	Services []string
}

type RenderTimelineInput struct {
	TraceID     string   `json:"trace_id,omitempty" jsonschema:"Trace ID (default: most recently updated trace)"`
	Lo          *float64 `json:"lo,omitempty" jsonschema:"Window start as percent of the trace duration (0-100, default 0)"`
	Hi          *float64 `json:"hi,omitempty" jsonschema:"Window end as percent of the trace duration (0-100, default 100)"`
	Services    []string `json:"services,omitempty" jsonschema:"Services to emphasize; others are dimmed but keep their rows"`
	Collapsed   []string `json:"collapsed,omitempty" jsonschema:"Span IDs whose subtrees are hidden"`
	CollapseAll bool     `json:"collapse_all,omitempty" jsonschema:"Collapse every span with children (only roots remain)"`
	Width       int      `json:"width,omitempty" jsonschema:"Output width in columns (default 100)"`
}

type RenderTimelineOutput struct {
	TraceID     string             `json:"trace_id" jsonschema:"Rendered trace"`
	Domain      timeline.Domain    `json:"domain" jsonschema:"Window actually rendered, percent of the trace duration"`
	SpanCount   int                `json:"span_count" jsonschema:"Spans in the trace"`
	VisibleRows int                `json:"visible_rows" jsonschema:"Rows after collapsing"`
	DurationMs  float64            `json:"duration_ms" jsonschema:"Trace duration in milliseconds"`
	Services    []viz.ServiceStats `json:"services" jsonschema:"Per-service span and error counts"`
	Report      string             `json:"report,omitempty" jsonschema:"Repairs applied to malformed input"`
}

func (s *Server) handleRenderTimeline(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RenderTimelineInput,
) (*mcp.CallToolResult, RenderTimelineOutput, error) {
	sess, err := s.sessionFor(viewInput{TraceID: input.TraceID, Lo: input.Lo, Hi: input.Hi, Services: input.Services}, s.minimap)
	if err != nil {
		return nil, RenderTimelineOutput{}, err
	}
	defer sess.Close()

	if input.CollapseAll {
		sess.CollapseAll()
	}
	for _, id := range input.Collapsed {
		if !sess.Collapsed().Has(id) && !sess.ToggleCollapse(id) {
			return nil, RenderTimelineOutput{}, fmt.Errorf("cannot collapse span %q: not found or has no children", id)
		}
	}

	t := sess.Trace()
	rows := sess.Rows()
	services := viz.ServiceStatsFor(t, sess.Services())

	var b strings.Builder
	b.WriteString(viz.Waterfall(t, rows, sess.Scale(), viz.WaterfallOptions{
		Width: input.Width,
		Ticks: sess.Ticks(),
	}))
	b.WriteString("\n")
	b.WriteString(viz.ServiceSummary(services, input.Width))
	if errs := viz.ErrorSpans(t); errs != "" {
		b.WriteString("\n")
		b.WriteString(errs)
	}
	if !t.Report.Clean() {
		fmt.Fprintf(&b, "\nRepaired input: %s\n", t.Report)
	}

	out := RenderTimelineOutput{
		TraceID:     t.ID,
		Domain:      sess.Domain(),
		SpanCount:   t.SpanCount,
		VisibleRows: len(rows),
		DurationMs:  t.Extent.Width(),
		Services:    services,
	}
	if !t.Report.Clean() {
		out.Report = t.Report.String()
	}
	return textToolResult(b.String()), out, nil
}

// Tool 4: render_minimap

type RenderMinimapInput struct {
	TraceID string   `json:"trace_id,omitempty" jsonschema:"Trace ID (default: most recently updated trace)"`
	Lo      *float64 `json:"lo,omitempty" jsonschema:"Selection overlay start, percent of the trace duration (default 0)"`
	Hi      *float64 `json:"hi,omitempty" jsonschema:"Selection overlay end, percent of the trace duration (default 100)"`
	Width   int      `json:"width,omitempty" jsonschema:"Image width in pixels (default 800)"`
	Height  int      `json:"height,omitempty" jsonschema:"Image height in pixels (default 60)"`
}

type RenderMinimapOutput struct {
	TraceID string            `json:"trace_id" jsonschema:"Rendered trace"`
	Width   int               `json:"width" jsonschema:"Image width in pixels"`
	Height  int               `json:"height" jsonschema:"Image height in pixels"`
	Domain  timeline.Domain   `json:"domain" jsonschema:"Window drawn as the selection overlay"`
	Colors  map[string]string `json:"colors" jsonschema:"Service colors used in the image"`
}

func (s *Server) handleRenderMinimap(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RenderMinimapInput,
) (*mcp.CallToolResult, RenderMinimapOutput, error) {
	cfg := s.minimap
	if input.Width > 0 {
		cfg.Width = input.Width
	}
	if input.Height > 0 {
		cfg.Height = input.Height
	}
	if cfg.Width <= 2*cfg.HorizontalPad || cfg.Height <= 2*cfg.VerticalPad || cfg.Width > 4096 || cfg.Height > 4096 {
		return nil, RenderMinimapOutput{}, fmt.Errorf("invalid minimap size %dx%d", cfg.Width, cfg.Height)
	}

	sess, err := s.sessionFor(viewInput{TraceID: input.TraceID, Lo: input.Lo, Hi: input.Hi}, cfg)
	if err != nil {
		return nil, RenderMinimapOutput{}, err
	}
	defer sess.Close()

	var buf bytes.Buffer
	if err := timeline.EncodePNG(&buf, sess.MinimapImage()); err != nil {
		return nil, RenderMinimapOutput{}, err
	}

	colors := make(map[string]string, len(sess.Colors()))
	for name, c := range sess.Colors() {
		colors[name] = viz.HexColor(c)
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ImageContent{Data: buf.Bytes(), MIMEType: "image/png"}},
	}
	return result, RenderMinimapOutput{
		TraceID: sess.Trace().ID,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Domain:  sess.Domain(),
		Colors:  colors,
	}, nil
}

// Tool 5: load_trace_file

type LoadTraceFileInput struct {
	Path   string `json:"path" jsonschema:"Path to an OTLP JSON/JSONL, Jaeger JSON or span list file"`
	Schema string `json:"schema,omitempty" jsonschema:"Force the record shape for span lists: parentId or reference"`
}

type LoadTraceFileOutput struct {
	Format   string   `json:"format" jsonschema:"Detected file format"`
	TraceIDs []string `json:"trace_ids" jsonschema:"Traces loaded into the store"`
	Spans    int      `json:"spans" jsonschema:"Span records loaded"`
}

func (s *Server) handleLoadTraceFile(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LoadTraceFileInput,
) (*mcp.CallToolResult, LoadTraceFileOutput, error) {
	if input.Path == "" {
		return nil, LoadTraceFileOutput{}, fmt.Errorf("path is required")
	}

	var opts filereader.Options
	if input.Schema != "" {
		schema, err := timeline.ParseSchema(input.Schema)
		if err != nil {
			return nil, LoadTraceFileOutput{}, err
		}
		opts.Schema = &schema
	}

	traces, format, err := filereader.LoadFile(input.Path, opts)
	if err != nil {
		return nil, LoadTraceFileOutput{}, fmt.Errorf("failed to load %s: %w", input.Path, err)
	}

	out := LoadTraceFileOutput{Format: string(format), TraceIDs: []string{}}
	for _, raw := range traces {
		s.store.Put(raw, "file:"+input.Path)
		out.TraceIDs = append(out.TraceIDs, raw.TraceID)
		out.Spans += raw.Len()
	}
	return &mcp.CallToolResult{}, out, nil
}

// Tool 6: add_file_source

type AddFileSourceInput struct {
	Directory  string `json:"directory" jsonschema:"Directory containing trace files (or a traces/ subdirectory)"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Only tail traces.jsonl, skipping rotated collector archives"`
}

type FileSourceOutput struct {
	Directories []string `json:"directories" jsonschema:"Directories currently watched"`
	Success     bool     `json:"success" jsonschema:"Whether the operation succeeded"`
	Message     string   `json:"message,omitempty" jsonschema:"Additional information or error message"`
}

func (s *Server) handleAddFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	// file sources outlive the tool call
	if err := s.AddFileSource(context.WithoutCancel(ctx), input.Directory, input.ActiveOnly); err != nil {
		return &mcp.CallToolResult{}, FileSourceOutput{
			Directories: s.ListFileSources(),
			Success:     false,
			Message:     err.Error(),
		}, nil
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directories: s.ListFileSources(),
		Success:     true,
		Message:     fmt.Sprintf("watching %s", input.Directory),
	}, nil
}

// Tool 7: remove_file_source

type RemoveFileSourceInput struct {
	Directory string `json:"directory" jsonschema:"Directory to stop watching"`
}

func (s *Server) handleRemoveFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if err := s.RemoveFileSource(input.Directory); err != nil {
		return &mcp.CallToolResult{}, FileSourceOutput{
			Directories: s.ListFileSources(),
			Success:     false,
			Message:     err.Error(),
		}, nil
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directories: s.ListFileSources(),
		Success:     true,
		Message:     fmt.Sprintf("stopped watching %s", input.Directory),
	}, nil
}

// Tool 8: clear_traces

type ClearTracesInput struct{}

type ClearTracesOutput struct {
	Cleared int `json:"cleared" jsonschema:"Traces removed"`
}

func (s *Server) handleClearTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearTracesInput,
) (*mcp.CallToolResult, ClearTracesOutput, error) {
	n := s.store.Stats().TraceCount
	s.store.Clear()
	return &mcp.CallToolResult{}, ClearTracesOutput{Cleared: n}, nil
}

// Register all tools

func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_otlp_endpoint",
		Description: "START HERE: Get the OTLP gRPC endpoint address. Set OTEL_EXPORTER_OTLP_ENDPOINT=<endpoint> when running a program and its traces become available to list_traces and render_timeline.",
	}, s.handleGetOTLPEndpoint)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_traces",
		Description: "List stored traces, most recently updated first: root service/operation, span count, duration and whether any span failed. Filter by root service or errors only. Use the trace_id with render_timeline.",
	}, s.handleListTraces)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "render_timeline",
		Description: "Render a trace as a text waterfall: one row per span in depth-first order with tree connectors and bars on a shared time axis. Zoom with lo/hi (percent of the trace duration), hide subtrees with collapsed span IDs, and emphasize services (others are dimmed, not removed). Also lists per-service counts and error spans.",
	}, s.handleRenderTimeline)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "render_minimap",
		Description: "Render the whole-trace overview as a PNG: every span as a colored bar on the full trace duration, with the lo/hi window drawn as a selection overlay. Useful to see the trace's shape before zooming with render_timeline.",
	}, s.handleRenderMinimap)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "load_trace_file",
		Description: "Load a trace file into the store: OTLP JSONL from the collector file exporter, a single OTLP JSON document, a Jaeger query API response, or a JSON list of spans in either parent-id or reference shape.",
	}, s.handleLoadTraceFile)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_file_source",
		Description: "Watch a directory for trace files. Existing files are loaded now; new and changed files are reloaded as they are written.",
	}, s.handleAddFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_file_source",
		Description: "Stop watching a directory added with add_file_source. Traces already loaded stay in the store.",
	}, s.handleRemoveFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_traces",
		Description: "Drop every stored trace. Use for a clean slate before a new test run.",
	}, s.handleClearTraces)

	return nil
}

// sessionFor loads the requested trace into a throwaway session and applies
// the shared view state.
func (s *Server) sessionFor(in viewInput, cfg timeline.MinimapConfig) (*timeline.Session, error) {
	traceID := in.TraceID
	if traceID == "" {
		list := s.store.List()
		if len(list) == 0 {
			return nil, fmt.Errorf("no traces stored")
		}
		traceID = list[0].TraceID
	}

	t, ok := s.store.Load(traceID)
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}

	domain := timeline.DefaultDomain
	if in.Lo != nil {
		domain.Lo = *in.Lo
	}
	if in.Hi != nil {
		domain.Hi = *in.Hi
	}
	if !domain.Valid() {
		return nil, fmt.Errorf("invalid window [%g, %g]: need 0 <= lo < hi <= 100", domain.Lo, domain.Hi)
	}

	sess := timeline.NewSession(timeline.SessionOptions{Minimap: cfg})
	sess.Load(t)
	sess.SetColors(viz.ServiceColors(t.Services()))
	sess.SetDomain(domain)
	if len(in.Services) > 0 {
		sess.SetServices(in.Services...)
	}
	return sess, nil
}

func storeStatsForViz(st storage.StoreStats) viz.StoreStats {
	return viz.StoreStats{
		TraceCount:    st.TraceCount,
		TraceCapacity: st.Capacity,
		SpanCount:     st.SpanCount,
		SpansReceived: st.SpansReceived,
		Evicted:       st.Evicted,
	}
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
