package timeline

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const unknownService = "unknown"

// maxMicros is the largest microsecond count that still fits in int64 nanos.
const maxMicros = math.MaxInt64 / 1000

// Start times must lie in [unixEpoch, maxTime] to fit non-negative int64
// unix nanoseconds.
var (
	unixEpoch = time.Unix(0, 0)
	maxTime   = time.Unix(0, math.MaxInt64)
)

// CanonicalSpan is the single span shape both raw schemas normalize into.
// StartUnixNano and DurationNanos keep the full source precision and are
// what ordering and positioning use. StartTimeMs and DurationMs are derived
// for display; an absolute epoch-ms float cannot resolve nanoseconds.
type CanonicalSpan struct {
	SpanID        string
	ParentSpanID  string      // shape A only, empty for roots
	References    []Reference // shape B only
	ServiceName   string
	OperationName string
	StartUnixNano int64
	DurationNanos int64
	StartTimeMs   float64
	DurationMs    float64
	HasError      bool
}

// EndUnixNano returns the span end, saturating at the int64 limit.
func (s CanonicalSpan) EndUnixNano() int64 {
	if s.DurationNanos > math.MaxInt64-s.StartUnixNano {
		return math.MaxInt64
	}
	return s.StartUnixNano + s.DurationNanos
}

func (s *CanonicalSpan) setStart(nanos int64) {
	s.StartUnixNano = nanos
	s.StartTimeMs = float64(nanos) / 1e6
}

func (s *CanonicalSpan) setDuration(nanos int64) {
	s.DurationNanos = nanos
	s.DurationMs = float64(nanos) / 1e6
}

// NormalizeReport counts the lossy repairs made while normalizing a batch.
// Nothing in it is fatal; hosts may surface it as a "bad data" indicator.
type NormalizeReport struct {
	Input            int
	ClampedDurations int // negative, missing or unparseable durations forced to 0
	BadStartTimes    int // unparseable or negative start times pinned to the batch start
	DuplicateIDs     int // later records sharing an earlier span id, dropped
	MissingIDs       int // records without a span id, given a synthetic one
}

// Clean reports whether the batch needed no repairs.
func (r NormalizeReport) Clean() bool {
	return r.ClampedDurations == 0 && r.BadStartTimes == 0 && r.DuplicateIDs == 0 && r.MissingIDs == 0
}

func (r NormalizeReport) String() string {
	if r.Clean() {
		return fmt.Sprintf("%d spans", r.Input)
	}
	var parts []string
	if r.ClampedDurations > 0 {
		parts = append(parts, fmt.Sprintf("%d clamped durations", r.ClampedDurations))
	}
	if r.BadStartTimes > 0 {
		parts = append(parts, fmt.Sprintf("%d bad start times", r.BadStartTimes))
	}
	if r.DuplicateIDs > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate ids", r.DuplicateIDs))
	}
	if r.MissingIDs > 0 {
		parts = append(parts, fmt.Sprintf("%d missing ids", r.MissingIDs))
	}
	return fmt.Sprintf("%d spans (%s)", r.Input, strings.Join(parts, ", "))
}

// Normalize converts a raw trace into canonical spans. Output order follows
// input order but callers must not rely on parents preceding children.
//
// Negative or missing durations are clamped to 0: a negative bar width is a
// rendering error, not a trace fact. The report counts every such repair.
func Normalize(rt RawTrace) ([]CanonicalSpan, NormalizeReport) {
	report := NormalizeReport{Input: rt.Len()}
	spans := make([]CanonicalSpan, 0, rt.Len())
	startOK := make([]bool, 0, rt.Len())
	seen := make(map[string]struct{}, rt.Len())

	add := func(cs CanonicalSpan, ok bool, index int) {
		if cs.SpanID == "" {
			cs.SpanID = fmt.Sprintf("<missing-%d>", index)
			report.MissingIDs++
		}
		if _, dup := seen[cs.SpanID]; dup {
			report.DuplicateIDs++
			return
		}
		seen[cs.SpanID] = struct{}{}
		if cs.ServiceName == "" {
			cs.ServiceName = unknownService
		}
		spans = append(spans, cs)
		startOK = append(startOK, ok)
	}

	switch rt.Schema {
	case SchemaReference:
		for i, raw := range rt.B {
			cs, ok, clamped := normalizeB(raw, rt.Processes)
			if clamped {
				report.ClampedDurations++
			}
			add(cs, ok, i)
		}
	default:
		for i, raw := range rt.A {
			cs, ok, clamped := normalizeA(raw)
			if clamped {
				report.ClampedDurations++
			}
			add(cs, ok, i)
		}
	}

	pinBadStartTimes(spans, startOK, &report)
	return spans, report
}

func normalizeA(raw RawSpanA) (cs CanonicalSpan, startOK, clamped bool) {
	cs = CanonicalSpan{
		SpanID:        raw.SpanID,
		ParentSpanID:  raw.ParentSpanID,
		ServiceName:   raw.ServiceName,
		OperationName: raw.Name,
		HasError:      raw.Status != nil && raw.Status.Code == 2,
	}

	if nanos, ok := parseISOTime(raw.StartTime); ok && nanos >= 0 {
		cs.setStart(nanos)
		startOK = true
	}

	if raw.DurationInNanos != nil && raw.DurationInNanos.Valid && raw.DurationInNanos.Value >= 0 {
		cs.setDuration(raw.DurationInNanos.Value)
	} else {
		clamped = true
	}
	return cs, startOK, clamped
}

func normalizeB(raw RawSpanB, processes map[string]ProcessB) (cs CanonicalSpan, startOK, clamped bool) {
	cs = CanonicalSpan{
		SpanID:        raw.SpanID,
		References:    raw.References,
		OperationName: raw.OperationName,
		HasError:      hasErrorTag(raw),
	}

	switch {
	case raw.Process != nil && raw.Process.ServiceName != "":
		cs.ServiceName = raw.Process.ServiceName
	case raw.ProcessID != "":
		cs.ServiceName = processes[raw.ProcessID].ServiceName
	}

	if us, ok := validMicros(raw.StartTime); ok {
		cs.setStart(us * 1e3)
		startOK = true
	}

	if us, ok := validMicros(raw.Duration); ok {
		cs.setDuration(us * 1e3)
	} else {
		clamped = true
	}
	return cs, startOK, clamped
}

// validMicros accepts microsecond values that convert to int64 nanoseconds
// without overflow.
func validMicros(f *FlexInt) (int64, bool) {
	if f == nil || !f.Valid || f.Value < 0 || f.Value > maxMicros {
		return 0, false
	}
	return f.Value, true
}

func hasErrorTag(raw RawSpanB) bool {
	if raw.Tag != nil && raw.Tag.Error {
		return true
	}
	for _, kv := range raw.Tags {
		if kv.Key != "error" {
			continue
		}
		switch v := kv.Value.(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

// isoLayouts are tried in order. RFC3339Nano accepts 0-9 fractional digits.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// parseISOTime parses an ISO-8601 timestamp to unix nanoseconds without
// losing sub-millisecond precision. Instants before 1970 or past 2262 do
// not fit and are rejected.
func parseISOTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Before(unixEpoch) || t.After(maxTime) {
				return 0, false
			}
			return t.UnixNano(), true
		}
	}
	return 0, false
}

// pinBadStartTimes moves spans whose start could not be read to the earliest
// good start in the batch, so one bad record cannot stretch the extent back
// to the epoch.
func pinBadStartTimes(spans []CanonicalSpan, startOK []bool, report *NormalizeReport) {
	var minNanos int64
	found := false
	for i, s := range spans {
		if startOK[i] && (!found || s.StartUnixNano < minNanos) {
			minNanos = s.StartUnixNano
			found = true
		}
	}
	for i := range spans {
		if startOK[i] {
			continue
		}
		report.BadStartTimes++
		spans[i].setStart(minNanos)
	}
}
