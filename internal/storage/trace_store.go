package storage

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

// DefaultTraceCapacity is the number of traces kept before the oldest is evicted.
const DefaultTraceCapacity = 500

// SourceOTLP marks traces that arrived over the OTLP receiver.
const SourceOTLP = "otlp"

// StoredTrace is one trace's raw records plus bookkeeping. The hierarchy is
// built lazily and reused until the records change, so viewers holding the
// *timeline.Trace can compare pointers to detect updates.
type StoredTrace struct {
	Raw     timeline.RawTrace
	Source  string
	Updated time.Time

	built *timeline.Trace
}

// TraceSummary describes a stored trace for listings.
type TraceSummary struct {
	TraceID       string    `json:"trace_id"`
	Schema        string    `json:"schema"`
	Source        string    `json:"source"`
	RootService   string    `json:"root_service"`
	RootOperation string    `json:"root_operation"`
	SpanCount     int       `json:"span_count"`
	DurationMs    float64   `json:"duration_ms"`
	HasError      bool      `json:"has_error"`
	Updated       time.Time `json:"updated"`
}

// TraceStore holds raw traces keyed by trace id, bounded by trace count.
// It implements the otlpreceiver.SpanReceiver interface.
type TraceStore struct {
	mu     sync.RWMutex // protects traces
	order  *RingBuffer[string]
	traces map[string]*StoredTrace

	generation    atomic.Uint64
	spansReceived atomic.Uint64
	evicted       atomic.Uint64

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64

	now func() time.Time
}

// NewTraceStore creates a store holding at most capacity traces.
func NewTraceStore(capacity int) *TraceStore {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &TraceStore{
		order:       NewRingBuffer[string](capacity),
		traces:      make(map[string]*StoredTrace),
		subscribers: make(map[uint64]chan struct{}),
		now:         time.Now,
	}
}

// ReceiveSpans implements otlpreceiver.SpanReceiver. Spans are appended to
// their trace as parent-id records; a trace previously loaded in the
// reference shape is replaced.
func (s *TraceStore) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error {
	grouped := SpansFromOTLP(resourceSpans)
	if len(grouped) == 0 {
		return nil
	}

	s.mu.Lock()
	for traceID, spans := range grouped {
		st := s.traces[traceID]
		if st != nil && st.Raw.Schema != timeline.SchemaParentID {
			log.Printf("⚠️  TraceStore: trace %s switched to OTLP spans, dropping %d reference records", traceID, st.Raw.Len())
			st.Raw = timeline.RawTrace{TraceID: traceID, Schema: timeline.SchemaParentID}
		}
		if st == nil {
			st = &StoredTrace{Raw: timeline.RawTrace{TraceID: traceID, Schema: timeline.SchemaParentID}}
			s.insertLocked(traceID, st)
		}
		st.Raw.A = append(st.Raw.A, spans...)
		st.Source = SourceOTLP
		st.Updated = s.now()
		st.built = nil
		s.spansReceived.Add(uint64(len(spans)))
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

// Put stores or replaces a whole trace, e.g. one loaded from a file.
func (s *TraceStore) Put(raw timeline.RawTrace, source string) {
	if raw.TraceID == "" {
		raw.TraceID = source
	}

	s.mu.Lock()
	st := s.traces[raw.TraceID]
	if st == nil {
		st = &StoredTrace{}
		s.insertLocked(raw.TraceID, st)
	}
	st.Raw = raw
	st.Source = source
	st.Updated = s.now()
	st.built = nil
	s.mu.Unlock()

	s.changed()
}

// insertLocked registers a new trace id, evicting the oldest trace if the
// store is full. Callers hold s.mu.
func (s *TraceStore) insertLocked(traceID string, st *StoredTrace) {
	if old, evicted := s.order.Add(traceID); evicted {
		delete(s.traces, old)
		s.evicted.Add(1)
	}
	s.traces[traceID] = st
}

// Get returns a copy of the raw records for traceID.
func (s *TraceStore) Get(traceID string) (timeline.RawTrace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.traces[traceID]
	if !ok {
		return timeline.RawTrace{}, false
	}
	raw := st.Raw
	raw.A = append([]timeline.RawSpanA(nil), st.Raw.A...)
	raw.B = append([]timeline.RawSpanB(nil), st.Raw.B...)
	return raw, true
}

// Load returns the built hierarchy for traceID. The same pointer is
// returned until the trace's records change.
func (s *TraceStore) Load(traceID string) (*timeline.Trace, bool) {
	s.mu.RLock()
	st, ok := s.traces[traceID]
	if ok && st.built != nil {
		t := st.built
		s.mu.RUnlock()
		return t, true
	}
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok = s.traces[traceID]
	if !ok {
		return nil, false
	}
	if st.built == nil {
		st.built = timeline.Load(st.Raw)
		if !st.built.Report.Clean() {
			log.Printf("⚠️  TraceStore: trace %s repaired: %s", traceID, st.built.Report)
		}
	}
	return st.built, true
}

// List returns summaries of all stored traces, most recently updated first.
func (s *TraceStore) List() []TraceSummary {
	ids := s.order.GetAll()
	out := make([]TraceSummary, 0, len(ids))
	for _, id := range ids {
		t, ok := s.Load(id)
		if !ok {
			continue
		}
		s.mu.RLock()
		st := s.traces[id]
		var source string
		var updated time.Time
		if st != nil {
			source, updated = st.Source, st.Updated
		}
		s.mu.RUnlock()
		out = append(out, summarize(t, source, updated))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}

func summarize(t *timeline.Trace, source string, updated time.Time) TraceSummary {
	sum := TraceSummary{
		TraceID:   t.ID,
		Schema:    t.Schema.String(),
		Source:    source,
		SpanCount: t.SpanCount,
		Updated:   updated,
	}
	if t.Empty() {
		return sum
	}
	root := t.Roots[0]
	sum.RootService = root.ServiceName
	sum.RootOperation = root.OperationName
	sum.DurationMs = t.Extent.Width()
	for _, n := range t.Nodes {
		if n.HasError {
			sum.HasError = true
			break
		}
	}
	return sum
}

// Stats returns current storage statistics.
func (s *TraceStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		TraceCount:    len(s.traces),
		Capacity:      s.order.Capacity(),
		SpansReceived: s.spansReceived.Load(),
		Evicted:       s.evicted.Load(),
		Generation:    s.generation.Load(),
	}
	for _, st := range s.traces {
		stats.SpanCount += st.Raw.Len()
	}
	return stats
}

// StoreStats contains statistics about the trace store.
type StoreStats struct {
	TraceCount    int    `json:"trace_count"`    // Number of distinct traces
	SpanCount     int    `json:"span_count"`     // Raw records across all traces
	Capacity      int    `json:"capacity"`       // Maximum number of traces
	SpansReceived uint64 `json:"spans_received"` // OTLP spans ever received
	Evicted       uint64 `json:"evicted"`        // Traces dropped to make room
	Generation    uint64 `json:"generation"`
}

// Clear removes all stored traces.
func (s *TraceStore) Clear() {
	s.mu.Lock()
	s.order.Clear()
	s.traces = make(map[string]*StoredTrace)
	s.mu.Unlock()

	s.changed()
}

// Generation increments on every change. Pollers compare it to skip work.
func (s *TraceStore) Generation() uint64 {
	return s.generation.Load()
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel receives a signal (non-blocking) whenever the store changes.
// The channel is buffered with capacity 1 to coalesce rapid updates.
func (s *TraceStore) Subscribe() (<-chan struct{}, func()) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++

	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		delete(s.subscribers, id)
	}

	return ch, unsubscribe
}

func (s *TraceStore) changed() {
	s.generation.Add(1)

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification; skip to coalesce.
		}
	}
}
