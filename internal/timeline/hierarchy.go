package timeline

import (
	"math"
	"sort"
)

// SpanNode is a canonical span plus the children it owns, sorted by start.
type SpanNode struct {
	CanonicalSpan
	Children []*SpanNode
}

// HasChildren reports whether the node owns at least one child.
func (n *SpanNode) HasChildren() bool {
	return len(n.Children) > 0
}

// Extent is the absolute time range [MinStartNanos, MaxEndNanos] of a trace
// in unix nanoseconds.
type Extent struct {
	MinStartNanos int64
	MaxEndNanos   int64
}

// Width returns the extent length in milliseconds.
func (e Extent) Width() float64 {
	return float64(e.MaxEndNanos-e.MinStartNanos) / 1e6
}

// OffsetMs converts an absolute time to milliseconds after the extent start.
// The subtraction happens in integer nanoseconds so offsets stay exact.
func (e Extent) OffsetMs(nanos int64) float64 {
	return float64(nanos-e.MinStartNanos) / 1e6
}

// Trace is the assembled forest for one trace id.
type Trace struct {
	ID        string
	Schema    Schema
	Roots     []*SpanNode
	Nodes     map[string]*SpanNode
	Extent    Extent
	SpanCount int
	Report    NormalizeReport
}

// Empty reports whether the trace holds no spans ("no spans found").
func (t *Trace) Empty() bool {
	return t == nil || t.SpanCount == 0
}

// Walk visits every node depth-first in document order: a parent, then each
// child subtree in start order. Returning false from fn skips the node's
// children.
func (t *Trace) Walk(fn func(n *SpanNode, level int) bool) {
	if t == nil {
		return
	}
	var visit func(n *SpanNode, level int)
	visit = func(n *SpanNode, level int) {
		if !fn(n, level) {
			return
		}
		for _, c := range n.Children {
			visit(c, level+1)
		}
	}
	for _, r := range t.Roots {
		visit(r, 0)
	}
}

// Services returns the distinct service names in first-seen document order.
func (t *Trace) Services() []string {
	var out []string
	seen := make(map[string]struct{})
	t.Walk(func(n *SpanNode, _ int) bool {
		if _, ok := seen[n.ServiceName]; !ok {
			seen[n.ServiceName] = struct{}{}
			out = append(out, n.ServiceName)
		}
		return true
	})
	return out
}

// Load normalizes and builds a raw trace in one step.
func Load(rt RawTrace) *Trace {
	spans, report := Normalize(rt)
	t := Build(spans, rt.Schema)
	t.ID = rt.TraceID
	t.Report = report
	return t
}

// Build assembles canonical spans into a forest. Usually there is one root;
// orphans whose parent is missing from the batch become extra roots.
//
// A span is added to the root list at most once and a span attached as a
// child is never also promoted. No further cycle detection is done: a
// cycle of two or more spans is unreachable from any root.
func Build(spans []CanonicalSpan, schema Schema) *Trace {
	t := &Trace{
		Schema:    schema,
		Nodes:     make(map[string]*SpanNode, len(spans)),
		SpanCount: len(spans),
	}
	if len(spans) == 0 {
		return t
	}

	// Pass 1: index
	order := make([]*SpanNode, 0, len(spans))
	var minStart, maxEnd int64 = math.MaxInt64, math.MinInt64
	for _, s := range spans {
		if _, dup := t.Nodes[s.SpanID]; dup {
			t.SpanCount--
			continue
		}
		n := &SpanNode{CanonicalSpan: s}
		t.Nodes[s.SpanID] = n
		order = append(order, n)
		minStart = min(minStart, s.StartUnixNano)
		maxEnd = max(maxEnd, s.EndUnixNano())
	}
	t.Extent = Extent{MinStartNanos: minStart, MaxEndNanos: maxEnd}

	// Pass 2: attach
	rootSet := make(map[string]struct{})
	addRoot := func(n *SpanNode) {
		if _, ok := rootSet[n.SpanID]; ok {
			return
		}
		rootSet[n.SpanID] = struct{}{}
		t.Roots = append(t.Roots, n)
	}

	for _, n := range order {
		var parent *SpanNode
		switch schema {
		case SchemaReference:
			parent = t.referenceParent(n)
		default:
			parent = t.lookupParent(n, n.ParentSpanID)
		}
		if parent != nil {
			parent.Children = append(parent.Children, n)
		} else {
			addRoot(n)
		}
	}

	sortByStart(t.Roots)
	for _, n := range order {
		sortByStart(n.Children)
	}
	return t
}

// referenceParent returns the first CHILD_OF target present in the batch.
// FOLLOWS_FROM-only, empty and dangling reference sets yield nil (root).
func (t *Trace) referenceParent(n *SpanNode) *SpanNode {
	for _, ref := range n.References {
		if ref.RefType != ChildOf {
			continue
		}
		if p := t.lookupParent(n, ref.SpanID); p != nil {
			return p
		}
	}
	return nil
}

func (t *Trace) lookupParent(n *SpanNode, parentID string) *SpanNode {
	if parentID == "" || parentID == n.SpanID {
		return nil
	}
	return t.Nodes[parentID]
}

func sortByStart(nodes []*SpanNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].StartUnixNano < nodes[j].StartUnixNano
	})
}
