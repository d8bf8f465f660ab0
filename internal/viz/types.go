// Package viz renders timeline state as plain text for terminals and MCP
// tool results.
package viz

import "time"

// ServiceStats describes one service for the legend.
type ServiceStats struct {
	Name       string
	SpanCount  int
	ErrorCount int
	Selected   bool // emphasized under the current service selection
}

// StoreStats describes trace store fill levels for the stats overview.
type StoreStats struct {
	TraceCount    int
	TraceCapacity int
	SpanCount     int
	SpansReceived uint64
	Evicted       uint64
}

// TraceListEntry describes one stored trace for the trace table.
type TraceListEntry struct {
	TraceID       string
	RootService   string
	RootOperation string
	SpanCount     int
	DurationMs    float64
	HasError      bool
	Source        string
	Updated       time.Time
}
