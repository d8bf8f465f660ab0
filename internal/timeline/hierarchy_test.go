package timeline

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countNodes(t *Trace) (int, map[string]int) {
	seen := make(map[string]int)
	total := 0
	t.Walk(func(n *SpanNode, _ int) bool {
		total++
		seen[n.SpanID]++
		return true
	})
	return total, seen
}

func TestBuild_ParentIDScenario(t *testing.T) {
	a := RawSpanA{SpanID: "a", ParentSpanID: "", ServiceName: "svc", StartTime: "2024-01-01T00:00:00Z", DurationInNanos: NewFlexInt(2_000_000)}
	b := RawSpanA{SpanID: "b", ParentSpanID: "a", ServiceName: "svc", StartTime: "2024-01-01T00:00:00Z", DurationInNanos: NewFlexInt(1_000_000)}

	tr := Load(RawTrace{Schema: SchemaParentID, A: []RawSpanA{a, b}})
	require.Len(t, tr.Roots, 1)
	assert.Equal(t, "a", tr.Roots[0].SpanID)
	require.Len(t, tr.Roots[0].Children, 1)
	assert.Equal(t, "b", tr.Roots[0].Children[0].SpanID)

	rows := Flatten(tr, CollapseSet{}, ServiceSelection{})
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Node.SpanID)
	assert.Equal(t, 0, rows[0].Level)
	assert.Equal(t, "b", rows[1].Node.SpanID)
	assert.Equal(t, 1, rows[1].Level)
}

func TestBuild_ParentIDOrphansBecomeRoots(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaParentID, A: []RawSpanA{
		spanA("x", "missing", "svc", 10, 5),
		spanA("y", "missing", "svc", 0, 5),
		spanA("z", "z", "svc", 20, 5),
	}})
	require.Len(t, tr.Roots, 3)
	assert.Equal(t, "y", tr.Roots[0].SpanID, "roots sorted by start")
	assert.Equal(t, "x", tr.Roots[1].SpanID)
	assert.Equal(t, "z", tr.Roots[2].SpanID, "self-parent treated as root")
}

func TestBuild_ReferenceEmptyRefsIsRoot(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaReference, B: []RawSpanB{spanB("a", "svc", 0, 10)}})
	require.Len(t, tr.Roots, 1)
	assert.Equal(t, "a", tr.Roots[0].SpanID)
}

func TestBuild_ReferenceRootAddedOnce(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaReference, B: []RawSpanB{
		spanB("p", "svc", 0, 10),
		spanB("f", "svc", 5, 10, followsFrom("p"), followsFrom("other"), followsFrom("p")),
	}})
	require.Len(t, tr.Roots, 2)
	ids := []string{tr.Roots[0].SpanID, tr.Roots[1].SpanID}
	assert.ElementsMatch(t, []string{"p", "f"}, ids)
	assert.Empty(t, tr.Roots[0].Children)
}

func TestBuild_ReferenceChildNotPromoted(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaReference, B: []RawSpanB{
		spanB("c", "svc", 5, 1, followsFrom("p"), childOf("p"), followsFrom("q")),
		spanB("p", "svc", 0, 10),
	}})
	require.Len(t, tr.Roots, 1)
	assert.Equal(t, "p", tr.Roots[0].SpanID)
	require.Len(t, tr.Roots[0].Children, 1)
	assert.Equal(t, "c", tr.Roots[0].Children[0].SpanID)
}

func TestBuild_ReferenceDanglingChildOf(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaReference, B: []RawSpanB{
		spanB("c", "svc", 5, 1, childOf("gone"), childOf("p")),
		spanB("d", "svc", 6, 1, childOf("gone")),
		spanB("p", "svc", 0, 10),
	}})
	require.Len(t, tr.Roots, 2)
	assert.Equal(t, "p", tr.Roots[0].SpanID)
	assert.Equal(t, "d", tr.Roots[1].SpanID)
	assert.Equal(t, "c", tr.Roots[0].Children[0].SpanID, "falls through to the first CHILD_OF present")
}

func TestBuild_ChildrenStableSortedByStart(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaParentID, A: []RawSpanA{
		spanA("root", "", "svc", 0, 100),
		spanA("late", "root", "svc", 50, 1),
		spanA("tie1", "root", "svc", 10, 1),
		spanA("early", "root", "svc", 5, 1),
		spanA("tie2", "root", "svc", 10, 1),
	}})
	var ids []string
	for _, c := range tr.Roots[0].Children {
		ids = append(ids, c.SpanID)
	}
	assert.Equal(t, []string{"early", "tie1", "tie2", "late"}, ids)
}

func TestBuild_Extent(t *testing.T) {
	tr := sampleTrace()
	assert.Equal(t, 100.0, tr.Extent.Width())
	assert.Equal(t, 6, tr.SpanCount)
	assert.Equal(t, []string{"api", "auth", "db"}, tr.Services())
}

func TestBuild_Empty(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaParentID})
	assert.True(t, tr.Empty())
	assert.Empty(t, tr.Roots)
	assert.Empty(t, Flatten(tr, CollapseSet{}, nil))
}

// Every input span must appear in the forest exactly once, whatever the
// parent wiring looks like.
func TestBuild_NodeCountPreserved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(60)

		var a []RawSpanA
		var b []RawSpanB
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("s%d", i)
			parent := ""
			if i > 0 && rng.Intn(5) > 0 {
				// mostly earlier spans, sometimes a missing id
				if rng.Intn(10) == 0 {
					parent = "missing"
				} else {
					parent = fmt.Sprintf("s%d", rng.Intn(i))
				}
			}
			start := int64(rng.Intn(1000))
			a = append(a, spanA(id, parent, "svc", start, int64(rng.Intn(100))))

			var refs []Reference
			for r := rng.Intn(3); r > 0; r-- {
				if rng.Intn(2) == 0 {
					refs = append(refs, followsFrom(fmt.Sprintf("s%d", rng.Intn(n))))
				} else if parent != "" {
					refs = append(refs, childOf(parent))
				}
			}
			b = append(b, spanB(id, "svc", start, 10, refs...))
		}
		rng.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })

		for _, tr := range []*Trace{
			Load(RawTrace{Schema: SchemaParentID, A: a}),
			Load(RawTrace{Schema: SchemaReference, B: b}),
		} {
			total, seen := countNodes(tr)
			require.Equal(t, n, total, "round %d schema %s", round, tr.Schema)
			for id, c := range seen {
				require.Equal(t, 1, c, "span %s seen %d times", id, c)
			}
			roots := make(map[string]int)
			for _, r := range tr.Roots {
				roots[r.SpanID]++
			}
			for id, c := range roots {
				require.Equal(t, 1, c, "root %s listed %d times", id, c)
			}
		}
	}
}

// Siblings a few nanoseconds apart at a real epoch start keep their order and
// distinct positions.
func TestBuild_NanosecondSiblingsOrdered(t *testing.T) {
	tr := Load(RawTrace{Schema: SchemaParentID, A: []RawSpanA{
		{SpanID: "root", StartTime: "2024-06-01T12:00:00Z", DurationInNanos: NewFlexInt(200)},
		{SpanID: "late", ParentSpanID: "root", StartTime: "2024-06-01T12:00:00.000000100Z", DurationInNanos: NewFlexInt(50)},
		{SpanID: "early", ParentSpanID: "root", StartTime: "2024-06-01T12:00:00.000000010Z", DurationInNanos: NewFlexInt(50)},
	}})
	require.Len(t, tr.Roots, 1)
	var ids []string
	for _, c := range tr.Roots[0].Children {
		ids = append(ids, c.SpanID)
	}
	assert.Equal(t, []string{"early", "late"}, ids)
	assert.Equal(t, 0.0002, tr.Extent.Width())

	rows := BuildRowViews(Flatten(tr, nil, nil), NewScale(tr.Extent, DefaultDomain), tr.Extent)
	require.Len(t, rows, 3)
	assert.Equal(t, 0.00001, rows[1].StartOffsetMs)
	assert.Equal(t, 0.0001, rows[2].StartOffsetMs)
	assert.InDelta(t, 5, rows[1].Left, 1e-9)
	assert.InDelta(t, 50, rows[2].Left, 1e-9)
	assert.InDelta(t, 30, rows[1].Right, 1e-9)
}
