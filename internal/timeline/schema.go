// Package timeline reconstructs span hierarchies from flat trace records and
// drives an interactive, zoomable waterfall: scales, drag gestures, row
// flattening and the minimap raster.
//
// Everything in this package is single-owner: a Session and the values it
// holds are mutated by one goroutine at a time.
package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Schema identifies which raw record shape a trace was delivered in.
// It is decided once when a trace enters the engine and threaded through
// normalization and hierarchy building.
type Schema int

const (
	// SchemaParentID records carry an explicit parentSpanId (OTLP/Tempo style).
	SchemaParentID Schema = iota
	// SchemaReference records carry a references list (Jaeger style).
	SchemaReference
)

func (s Schema) String() string {
	switch s {
	case SchemaParentID:
		return "parentId"
	case SchemaReference:
		return "reference"
	default:
		return fmt.Sprintf("Schema(%d)", int(s))
	}
}

// ParseSchema maps a user supplied mode flag onto a Schema.
func ParseSchema(s string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parentid", "parent-id", "a", "otlp", "tempo":
		return SchemaParentID, nil
	case "reference", "references", "b", "jaeger":
		return SchemaReference, nil
	default:
		return 0, fmt.Errorf("unknown schema %q (want parentId or reference)", s)
	}
}

// RefType is the kind of a shape B span reference.
type RefType string

const (
	ChildOf     RefType = "CHILD_OF"
	FollowsFrom RefType = "FOLLOWS_FROM"
)

// Reference links a shape B span to another span in the same trace.
type Reference struct {
	RefType RefType `json:"refType"`
	TraceID string  `json:"traceID,omitempty"`
	SpanID  string  `json:"spanID"`
}

// RawSpanA is a parent-id schema record.
type RawSpanA struct {
	TraceID         string   `json:"traceId,omitempty"`
	SpanID          string   `json:"spanId"`
	ParentSpanID    string   `json:"parentSpanId"`
	ServiceName     string   `json:"serviceName"`
	Name            string   `json:"name"`
	StartTime       string   `json:"startTime"`
	DurationInNanos *FlexInt `json:"durationInNanos,omitempty"`
	Status          *StatusA `json:"status,omitempty"`
}

// StatusA is the status block of a shape A record; code 2 means error.
type StatusA struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// RawSpanB is a reference schema record.
type RawSpanB struct {
	TraceID       string      `json:"traceID,omitempty"`
	SpanID        string      `json:"spanID"`
	References    []Reference `json:"references"`
	ProcessID     string      `json:"processID,omitempty"`
	Process       *ProcessB   `json:"process,omitempty"`
	OperationName string      `json:"operationName"`
	StartTime     *FlexInt    `json:"startTime,omitempty"` // microseconds since epoch
	Duration      *FlexInt    `json:"duration,omitempty"`  // microseconds
	Tag           *TagB       `json:"tag,omitempty"`
	Tags          []KeyValueB `json:"tags,omitempty"`
}

// ProcessB names the service that emitted a shape B span.
type ProcessB struct {
	ServiceName string `json:"serviceName"`
}

// TagB is the flattened tag object some shape B producers emit.
type TagB struct {
	Error bool `json:"error"`
}

// KeyValueB is a Jaeger style tag entry.
type KeyValueB struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// RawTrace is the tagged input to the engine: exactly one of A or B is
// populated, as selected by Schema. Processes resolves shape B processID
// values when spans do not carry an inline process.
type RawTrace struct {
	TraceID   string
	Schema    Schema
	A         []RawSpanA
	B         []RawSpanB
	Processes map[string]ProcessB
}

// Len returns the number of raw records for the active schema.
func (rt RawTrace) Len() int {
	if rt.Schema == SchemaReference {
		return len(rt.B)
	}
	return len(rt.A)
}

// FlexInt decodes an integer that producers emit either as a JSON number
// or as a decimal string (protojson encodes int64 as strings). Values that
// are neither decode as invalid rather than failing the whole document.
type FlexInt struct {
	Value int64
	Valid bool
}

// NewFlexInt returns a valid FlexInt holding v.
func NewFlexInt(v int64) *FlexInt {
	return &FlexInt{Value: v, Valid: true}
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = FlexInt{}
		return nil
	}
	s := string(data)
	if len(data) > 1 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			*f = FlexInt{}
			return nil
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt{Value: v, Valid: true}
		return nil
	}
	// NaN, infinities and magnitudes past int64 have no defined conversion.
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= math.MinInt64 && v < -math.MinInt64 {
		*f = FlexInt{Value: int64(v), Valid: true}
		return nil
	}
	*f = FlexInt{}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}
