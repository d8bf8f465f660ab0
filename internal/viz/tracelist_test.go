package viz

import (
	"strings"
	"testing"
)

func TestTraceList(t *testing.T) {
	if got := TraceList(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}

	result := TraceList([]TraceListEntry{
		{TraceID: "0123456789abcdef0123456789abcdef", RootService: "api", RootOperation: "GET /users", SpanCount: 12, DurationMs: 42},
		{TraceID: "beef", RootService: "worker", RootOperation: "process", SpanCount: 3, DurationMs: 1500, HasError: true},
		{TraceID: "empty"},
	})

	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d:\n%s", len(lines), result)
	}
	if lines[0] != "Traces (3)" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "✓ 0123456789abcdef ") || strings.Contains(lines[1], "0123456789abcdef0") {
		t.Errorf("expected truncated id, got %q", lines[1])
	}
	if !strings.Contains(lines[1], "api/GET /users") || !strings.Contains(lines[1], "42ms") {
		t.Errorf("expected label and duration, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "✗ beef") || !strings.Contains(lines[2], "1.5s") {
		t.Errorf("expected error marker, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "(empty)") {
		t.Errorf("expected placeholder label, got %q", lines[3])
	}
}
