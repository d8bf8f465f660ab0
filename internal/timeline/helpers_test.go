package timeline

import "time"

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type memStore struct {
	d   Domain
	set int
}

func (m *memStore) Domain() Domain { return m.d }
func (m *memStore) SetDomain(d Domain) {
	m.d = d
	m.set++
}

// spanA builds a shape A record starting startMs after a fixed base time.
func spanA(id, parent, service string, startMs, durMs int64) RawSpanA {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return RawSpanA{
		SpanID:          id,
		ParentSpanID:    parent,
		ServiceName:     service,
		Name:            "op-" + id,
		StartTime:       base.Add(time.Duration(startMs) * time.Millisecond).Format(time.RFC3339Nano),
		DurationInNanos: NewFlexInt(durMs * 1_000_000),
	}
}

// spanB builds a shape B record with times in milliseconds.
func spanB(id, service string, startMs, durMs int64, refs ...Reference) RawSpanB {
	return RawSpanB{
		SpanID:        id,
		References:    refs,
		Process:       &ProcessB{ServiceName: service},
		OperationName: "op-" + id,
		StartTime:     NewFlexInt(1_700_000_000_000_000 + startMs*1000),
		Duration:      NewFlexInt(durMs * 1000),
	}
}

func childOf(id string) Reference     { return Reference{RefType: ChildOf, SpanID: id} }
func followsFrom(id string) Reference { return Reference{RefType: FollowsFrom, SpanID: id} }

// sampleTrace is:
//
//	root (api, 0-100)
//	├─ auth (auth, 5-20)
//	│  └─ token (auth, 6-10)
//	└─ query (db, 30-90)
//	   ├─ scan (db, 31-50)
//	   └─ sort (db, 60-80)
func sampleTrace() *Trace {
	return Load(RawTrace{
		TraceID: "t1",
		Schema:  SchemaParentID,
		A: []RawSpanA{
			spanA("sort", "query", "db", 60, 20),
			spanA("root", "", "api", 0, 100),
			spanA("query", "root", "db", 30, 60),
			spanA("token", "auth", "auth", 6, 4),
			spanA("auth", "root", "auth", 5, 15),
			spanA("scan", "query", "db", 31, 19),
		},
	})
}

func rowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.Node.SpanID
	}
	return ids
}
