package filereader

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tobert/otlp-timeline/internal/storage"
	"github.com/tobert/otlp-timeline/internal/timeline"
)

const (
	// Buffer sizes for JSONL line scanning. OTLP JSON can be large,
	// especially for batched spans with many attributes.
	jsonlBufferInitial = 1 * 1024 * 1024  // 1MB initial buffer
	jsonlBufferMax     = 10 * 1024 * 1024 // 10MB maximum line size
)

// Format is a recognized trace file layout.
type Format string

const (
	FormatOTLPJSONL Format = "otlp-jsonl" // collector file exporter, one TracesData per line
	FormatOTLPJSON  Format = "otlp-json"  // a single TracesData document
	FormatJaeger    Format = "jaeger"     // {"data":[{traceID,spans,processes}]}
	FormatSpansA    Format = "spans"      // [...] or {"spans":[...]} of parent-id records
	FormatSpansB    Format = "spans-ref"  // [...] or {"spans":[...]} of reference records
)

// Options tune decoding.
type Options struct {
	// Schema forces the record shape of bare span lists instead of sniffing.
	Schema *timeline.Schema
	// DefaultTraceID names traces whose records carry no trace id.
	DefaultTraceID string
}

// LoadFile reads every trace in path.
func LoadFile(path string, opts Options) ([]timeline.RawTrace, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if opts.DefaultTraceID == "" {
		opts.DefaultTraceID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if isJSONL(path) {
		traces, err := decodeJSONL(f)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return traces, FormatOTLPJSONL, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	traces, format, err := Decode(data, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return traces, format, nil
}

func isJSONL(path string) bool {
	return strings.HasSuffix(path, ".jsonl") || strings.Contains(filepath.Base(path), ".jsonl.")
}

// Decode sniffs a JSON document and converts it to raw traces.
func Decode(data []byte, opts Options) ([]timeline.RawTrace, Format, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty document")
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, "", fmt.Errorf("decode span list: %w", err)
		}
		return decodeSpanList(items, opts)

	case '{':
		var probe struct {
			Data          json.RawMessage   `json:"data"`
			Spans         []json.RawMessage `json:"spans"`
			ResourceSpans json.RawMessage   `json:"resourceSpans"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, "", fmt.Errorf("decode document: %w", err)
		}
		switch {
		case len(probe.ResourceSpans) > 0:
			td, err := unmarshalTracesData(data)
			if err != nil {
				return nil, "", err
			}
			return fromOTLP(td.ResourceSpans), FormatOTLPJSON, nil
		case len(probe.Data) > 0:
			traces, err := decodeJaeger(probe.Data)
			return traces, FormatJaeger, err
		case probe.Spans != nil:
			return decodeSpanList(probe.Spans, opts)
		}
		return nil, "", fmt.Errorf("unrecognized document: expected data, spans or resourceSpans")

	default:
		return nil, "", fmt.Errorf("unrecognized document: not a JSON object or array")
	}
}

// jaegerTrace is one entry of a Jaeger query API response.
type jaegerTrace struct {
	TraceID   string                       `json:"traceID"`
	Spans     []timeline.RawSpanB          `json:"spans"`
	Processes map[string]timeline.ProcessB `json:"processes"`
}

func decodeJaeger(data json.RawMessage) ([]timeline.RawTrace, error) {
	var entries []jaegerTrace
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode jaeger data: %w", err)
	}
	out := make([]timeline.RawTrace, 0, len(entries))
	for _, e := range entries {
		id := e.TraceID
		if id == "" && len(e.Spans) > 0 {
			id = e.Spans[0].TraceID
		}
		out = append(out, timeline.RawTrace{
			TraceID:   id,
			Schema:    timeline.SchemaReference,
			B:         e.Spans,
			Processes: e.Processes,
		})
	}
	return out, nil
}

func decodeSpanList(items []json.RawMessage, opts Options) ([]timeline.RawTrace, Format, error) {
	schema := sniffSchema(items)
	if opts.Schema != nil {
		schema = *opts.Schema
	}

	if schema == timeline.SchemaReference {
		spans := make([]timeline.RawSpanB, 0, len(items))
		for i, it := range items {
			var s timeline.RawSpanB
			if err := json.Unmarshal(it, &s); err != nil {
				return nil, "", fmt.Errorf("decode span %d: %w", i, err)
			}
			spans = append(spans, s)
		}
		return groupB(spans, opts.DefaultTraceID), FormatSpansB, nil
	}

	spans := make([]timeline.RawSpanA, 0, len(items))
	for i, it := range items {
		var s timeline.RawSpanA
		if err := json.Unmarshal(it, &s); err != nil {
			return nil, "", fmt.Errorf("decode span %d: %w", i, err)
		}
		spans = append(spans, s)
	}
	return groupA(spans, opts.DefaultTraceID), FormatSpansA, nil
}

// sniffSchema picks the reference shape when the first record uses
// Jaeger field names.
func sniffSchema(items []json.RawMessage) timeline.Schema {
	if len(items) == 0 {
		return timeline.SchemaParentID
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &keys); err != nil {
		return timeline.SchemaParentID
	}
	for _, k := range []string{"references", "spanID", "operationName"} {
		if _, ok := keys[k]; ok {
			return timeline.SchemaReference
		}
	}
	return timeline.SchemaParentID
}

func groupA(spans []timeline.RawSpanA, defaultID string) []timeline.RawTrace {
	var order []string
	byID := make(map[string]*timeline.RawTrace)
	for _, s := range spans {
		id := s.TraceID
		if id == "" {
			id = defaultID
		}
		rt := byID[id]
		if rt == nil {
			rt = &timeline.RawTrace{TraceID: id, Schema: timeline.SchemaParentID}
			byID[id] = rt
			order = append(order, id)
		}
		rt.A = append(rt.A, s)
	}
	return collect(order, byID)
}

func groupB(spans []timeline.RawSpanB, defaultID string) []timeline.RawTrace {
	var order []string
	byID := make(map[string]*timeline.RawTrace)
	for _, s := range spans {
		id := s.TraceID
		if id == "" {
			id = defaultID
		}
		rt := byID[id]
		if rt == nil {
			rt = &timeline.RawTrace{TraceID: id, Schema: timeline.SchemaReference}
			byID[id] = rt
			order = append(order, id)
		}
		rt.B = append(rt.B, s)
	}
	return collect(order, byID)
}

func collect(order []string, byID map[string]*timeline.RawTrace) []timeline.RawTrace {
	out := make([]timeline.RawTrace, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func fromOTLP(resourceSpans []*tracepb.ResourceSpans) []timeline.RawTrace {
	grouped := storage.SpansFromOTLP(resourceSpans)
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]timeline.RawTrace, 0, len(ids))
	for _, id := range ids {
		out = append(out, timeline.RawTrace{TraceID: id, Schema: timeline.SchemaParentID, A: grouped[id]})
	}
	return out
}

// decodeJSONL reads a whole collector export file.
func decodeJSONL(r io.Reader) ([]timeline.RawTrace, error) {
	var all []*tracepb.ResourceSpans
	_, err := scanJSONL(r, func(line []byte) error {
		data, err := unmarshalTracesData(line)
		if err != nil {
			return err
		}
		all = append(all, data.ResourceSpans...)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return fromOTLP(all), nil
}

// scanJSONL calls handler for each non-empty line. Lines that fail are
// reported to onErr and skipped. It returns the number of lines handled.
func scanJSONL(r io.Reader, handler func([]byte) error, onErr func(error)) (int, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, jsonlBufferInitial)
	scanner.Buffer(buf, jsonlBufferMax)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := handler(line); err != nil {
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// unmarshalTracesData parses one OTLP JSON document. The collector writes
// trace and span ids as hex while protojson reads bytes fields as base64,
// so ids of the decoded hex-as-base64 length are mapped back.
func unmarshalTracesData(line []byte) (*tracepb.TracesData, error) {
	var data tracepb.TracesData
	if err := protojson.Unmarshal(line, &data); err != nil {
		return nil, fmt.Errorf("parse trace JSON: %w", err)
	}
	for _, rs := range data.ResourceSpans {
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				span.TraceId = hexID(span.TraceId, 16)
				span.SpanId = hexID(span.SpanId, 8)
				span.ParentSpanId = hexID(span.ParentSpanId, 8)
			}
		}
	}
	return &data, nil
}

func hexID(b []byte, size int) []byte {
	if len(b) != size*2*3/4 {
		return b
	}
	decoded, err := hex.DecodeString(base64.StdEncoding.EncodeToString(b))
	if err != nil || len(decoded) != size {
		return b
	}
	return decoded
}
