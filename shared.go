package formula

import (
	"iter"
)

// GroupID identifies a shared formula group within one workbook. zero means
// "not shared".
type GroupID uint32

// Formula is what a cell holds: either a standalone tree in Root, or a
// reference to a shared group. a shared instance's offset from the master
// is its own address minus the group's anchor.
type Formula struct {
	Root  Node
	Group GroupID
}

func (f Formula) IsShared() bool { return f.Group != 0 }

// SharedMaster is the one definition behind a shared formula group. Root is
// parsed in the context of Anchor; Range is every cell allowed to use it.
type SharedMaster struct {
	Anchor CellAddress
	Range  AreaRef
	Root   Node
}

// Covers reports whether addr lies in the group's declared range.
func (m *SharedMaster) Covers(addr CellAddress) bool {
	return addr.Sheet == m.Anchor.Sheet && m.Range.Contains(addr.Row, addr.Col)
}

// Expand produces the concrete tree for target by moving every relative
// reference in the master by target's offset from the anchor. absolute
// axes do not move. a reference pushed off the grid becomes #REF!.
func Expand(master *SharedMaster, target CellAddress) (Node, error) {
	return expandWithin(master, target, Excel2007)
}

func expandWithin(master *SharedMaster, target CellAddress, limits GridLimits) (Node, error) {
	if !master.Covers(target) {
		return nil, wrapApplicationError(Internal, ErrOutsideSharedRange,
			"shared formula anchored at %s consulted for %s",
			cellText(master.Anchor.Row, master.Anchor.Col, false, false), cellText(target.Row, target.Col, false, false))
	}
	dRow, dCol := target.Row-master.Anchor.Row, target.Col-master.Anchor.Col
	node, _ := translate(master.Root, dRow, dCol, limits.orDefault())
	return node, nil
}

// translate offsets every relative reference in node by (dRow, dCol).
func translate(node Node, dRow, dCol int, limits GridLimits) (Node, bool) {
	if dRow == 0 && dCol == 0 {
		return node, false
	}
	return rewriteRefs(node, func(n *RefNode) Node {
		ref, ok := translateRef(n.Ref, dRow, dCol, limits)
		if !ok {
			return &RefErrorNode{Space: n.Space, Sheet: qualifiedSheet(n.Ref)}
		}
		if ref == n.Ref {
			return n
		}
		return &RefNode{Space: n.Space, Ref: ref}
	})
}

// translateRef returns false when an offset coordinate leaves the grid.
func translateRef(ref Reference, dRow, dCol int, limits GridLimits) (Reference, bool) {
	switch r := ref.(type) {
	case CellRef:
		if !r.RowAbs {
			r.Row += dRow
		}
		if !r.ColAbs {
			r.Col += dCol
		}
		return r, inGrid(r.Row, limits.MaxRows) && inGrid(r.Col, limits.MaxCols)
	case AreaRef:
		if r.Span != SpanColumns {
			r.FirstRow, r.LastRow = offsetRelative(r.FirstRow, r.FirstRowAbs, dRow), offsetRelative(r.LastRow, r.LastRowAbs, dRow)
		}
		if r.Span != SpanRows {
			r.FirstCol, r.LastCol = offsetRelative(r.FirstCol, r.FirstColAbs, dCol), offsetRelative(r.LastCol, r.LastColAbs, dCol)
		}
		ok := inGrid(r.FirstRow, limits.MaxRows) && inGrid(r.LastRow, limits.MaxRows) &&
			inGrid(r.FirstCol, limits.MaxCols) && inGrid(r.LastCol, limits.MaxCols)
		return r.normalize(), ok
	case Range3DRef:
		inner, ok := translateRef(r.Inner, dRow, dCol, limits)
		r.Inner = inner
		return r, ok
	case ExternalRef:
		inner, ok := translateRef(r.Inner, dRow, dCol, limits)
		r.Inner = inner
		return r, ok
	}
	return ref, true
}

func offsetRelative(v int, abs bool, d int) int {
	if abs {
		return v
	}
	return v + d
}

func inGrid(v, limit int) bool {
	return v >= 0 && v < limit
}

// qualifiedSheet is the explicit sheet of a cell or area reference, kept on
// the #REF! placeholder that replaces it.
func qualifiedSheet(ref Reference) SheetID {
	switch r := ref.(type) {
	case CellRef:
		return r.Sheet
	case AreaRef:
		return r.Sheet
	}
	return 0
}

// SharedGroups stores the shared formula groups of one workbook.
type SharedGroups struct {
	masters map[GroupID]*SharedMaster
	next    GroupID
}

func NewSharedGroups() *SharedGroups {
	return &SharedGroups{masters: make(map[GroupID]*SharedMaster), next: 1}
}

// Define stores a master and returns its new group id.
func (g *SharedGroups) Define(master SharedMaster) GroupID {
	id := g.next
	g.next++
	g.masters[id] = &master
	return id
}

func (g *SharedGroups) Get(id GroupID) (*SharedMaster, bool) {
	m, ok := g.masters[id]
	return m, ok
}

// Len returns the number of live groups.
func (g *SharedGroups) Len() int {
	return len(g.masters)
}

// Dissolve removes a group, returning a standalone tree for each member
// cell still using it. a member outside the group's range fails the whole
// call and leaves the group in place.
func (g *SharedGroups) Dissolve(id GroupID, members iter.Seq[CellAddress], limits GridLimits) (map[CellAddress]Node, error) {
	master, ok := g.masters[id]
	if !ok {
		return nil, NewApplicationError(NotFound, "shared formula group not found")
	}
	trees := make(map[CellAddress]Node)
	for addr := range members {
		node, err := expandWithin(master, addr, limits)
		if err != nil {
			return nil, err
		}
		trees[addr] = node
	}
	delete(g.masters, id)
	return trees, nil
}
