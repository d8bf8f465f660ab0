package timeline

import "sort"

// CollapseSet holds the span ids whose descendants are hidden.
type CollapseSet map[string]struct{}

// Has reports whether id is collapsed.
func (c CollapseSet) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// Toggle flips id and reports whether it is now collapsed.
func (c CollapseSet) Toggle(id string) bool {
	if c.Has(id) {
		delete(c, id)
		return false
	}
	c[id] = struct{}{}
	return true
}

// IDs returns the collapsed ids in sorted order.
func (c CollapseSet) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CollapseAll returns a set holding every span in t that has children,
// visible or not.
func CollapseAll(t *Trace) CollapseSet {
	set := CollapseSet{}
	t.Walk(func(n *SpanNode, _ int) bool {
		if n.HasChildren() {
			set[n.SpanID] = struct{}{}
		}
		return true
	})
	return set
}

// ServiceSelection is the set of checked services. Empty means all.
type ServiceSelection map[string]struct{}

// NewServiceSelection builds a selection from names.
func NewServiceSelection(names ...string) ServiceSelection {
	sel := make(ServiceSelection, len(names))
	for _, n := range names {
		sel[n] = struct{}{}
	}
	return sel
}

// Shows reports whether service is emphasized under this selection.
func (s ServiceSelection) Shows(service string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[service]
	return ok
}

// Names returns the selected services in sorted order.
func (s ServiceSelection) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Row is one line of the detail grid.
type Row struct {
	Node        *SpanNode
	Level       int
	Dimmed      bool // service filtered out; still occupies its slot
	HasChildren bool
	Collapsed   bool
}

// Flatten lists the visible nodes depth-first. A collapsed node keeps its
// own row but hides its whole subtree. Service filtering dims rows rather
// than removing them so descendants keep their indentation.
func Flatten(t *Trace, collapse CollapseSet, services ServiceSelection) []Row {
	if t.Empty() {
		return nil
	}
	rows := make([]Row, 0, t.SpanCount)
	t.Walk(func(n *SpanNode, level int) bool {
		collapsed := collapse.Has(n.SpanID)
		rows = append(rows, Row{
			Node:        n,
			Level:       level,
			Dimmed:      !services.Shows(n.ServiceName),
			HasChildren: n.HasChildren(),
			Collapsed:   collapsed,
		})
		return !collapsed
	})
	return rows
}
