package storage

import (
	"encoding/hex"
	"time"

	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

// SpansFromOTLP flattens OTLP resource spans into parent-id records grouped
// by hex trace id. Record order within a trace follows the input.
func SpansFromOTLP(resourceSpans []*tracepb.ResourceSpans) map[string][]timeline.RawSpanA {
	out := make(map[string][]timeline.RawSpanA)
	for _, rs := range resourceSpans {
		serviceName := extractServiceName(rs.GetResource())

		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				traceID := hex.EncodeToString(span.GetTraceId())
				out[traceID] = append(out[traceID], rawSpanFromOTLP(traceID, serviceName, span))
			}
		}
	}
	return out
}

func rawSpanFromOTLP(traceID, serviceName string, span *tracepb.Span) timeline.RawSpanA {
	start := span.GetStartTimeUnixNano()
	end := span.GetEndTimeUnixNano()

	raw := timeline.RawSpanA{
		TraceID:     traceID,
		SpanID:      hex.EncodeToString(span.GetSpanId()),
		ServiceName: serviceName,
		Name:        span.GetName(),
		// a negative duration is kept so the normalizer can count the clamp
		DurationInNanos: timeline.NewFlexInt(int64(end) - int64(start)),
	}
	if len(span.GetParentSpanId()) > 0 {
		raw.ParentSpanID = hex.EncodeToString(span.GetParentSpanId())
	}
	if start > 0 {
		raw.StartTime = time.Unix(0, int64(start)).UTC().Format(time.RFC3339Nano)
	}
	if st := span.GetStatus(); st != nil {
		raw.Status = &timeline.StatusA{Code: int(st.GetCode()), Message: st.GetMessage()}
	}
	return raw
}

// extractServiceName extracts the service.name attribute from an OTLP resource.
// Returns "unknown" if the service name is not found.
func extractServiceName(resource *resourcepb.Resource) string {
	if resource == nil {
		return "unknown"
	}

	for _, attr := range resource.Attributes {
		if attr.Key == "service.name" {
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		}
	}

	return "unknown"
}
