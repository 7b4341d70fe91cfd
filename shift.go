package formula

import (
	"slices"
)

// ShiftOp is the kind of structural edit a ShiftSpec describes.
type ShiftOp uint8

const (
	RowShift ShiftOp = iota
	ColumnShift
	SheetDelete
	SheetRename
	SheetMove
)

// ShiftSemantics selects how row and column shifts treat references.
type ShiftSemantics uint8

const (
	// Move follows cells that relocate with the edited band. references into
	// the band move, references the band lands on are deleted.
	Move ShiftSemantics = iota
	// CopyInsert offsets relative references the way a copied formula does.
	CopyInsert
)

// ShiftSpec describes one structural edit.
//
// For RowShift and ColumnShift, rows (or columns) First through Last move
// by Amount. Sheet is the sheet being edited and FormulaSheet the sheet the
// rewritten formula lives on. For a copy, First is the source index and
// First+Amount the destination, which must not lie beyond Last.
//
// For SheetDelete, Sheet is the deleted sheet and SheetOrder the workbook
// order before the delete.
//
// For SheetRename, Target is the renamed sheet and Sheet the placeholder id
// its new name was interned under. references to Sheet are rebound to
// Target. with no placeholder there is nothing to rewrite.
type ShiftSpec struct {
	Op           ShiftOp
	Semantics    ShiftSemantics
	Sheet        SheetID
	Target       SheetID
	FormulaSheet SheetID
	First        int
	Last         int
	Amount       int
	SheetOrder   []SheetID
	Limits       GridLimits
}

func (s ShiftSpec) Validate() error {
	switch s.Op {
	case RowShift, ColumnShift:
		if s.First < 0 || s.First > s.Last {
			return NewApplicationError(InvalidArgument, "shift band must have 0 <= first <= last")
		}
		if s.Amount == 0 {
			return NewApplicationError(InvalidArgument, "shift amount must not be zero")
		}
	case SheetDelete:
		if s.Sheet == 0 {
			return NewApplicationError(InvalidArgument, "sheet delete needs a sheet")
		}
	case SheetRename, SheetMove:
	default:
		return NewApplicationError(InvalidArgument, "unknown shift operation")
	}
	return nil
}

// Shift rewrites the references in node for a structural edit and reports
// whether anything changed. node itself is never modified; unchanged
// subtrees are shared with the result. an invalid spec changes nothing.
func Shift(node Node, spec ShiftSpec) (Node, bool) {
	if spec.Validate() != nil {
		return node, false
	}
	spec.Limits = spec.Limits.orDefault()
	switch spec.Op {
	case RowShift, ColumnShift:
		return rewriteRefs(node, func(n *RefNode) Node {
			ref, ok := spec.shiftRef(n.Ref)
			if !ok {
				return &RefErrorNode{Space: n.Space, Sheet: qualifiedSheet(n.Ref)}
			}
			if ref == n.Ref {
				return n
			}
			return &RefNode{Space: n.Space, Ref: ref}
		})
	case SheetDelete:
		return spec.deleteSheet(node)
	case SheetRename:
		if spec.Sheet != 0 && spec.Target != 0 {
			return spec.rebindSheet(node)
		}
	}
	// ids are stable, so renames and reorders leave trees alone
	return node, false
}

// rewriteRefs returns node with every RefNode replaced by fn's result. fn
// returns its argument to leave a reference alone.
func rewriteRefs(node Node, fn func(*RefNode) Node) (Node, bool) {
	switch n := node.(type) {
	case *RefNode:
		out := fn(n)
		return out, out != Node(n)
	case *UnaryNode:
		operand, changed := rewriteRefs(n.Operand, fn)
		if !changed {
			return n, false
		}
		c := *n
		c.Operand = operand
		return &c, true
	case *BinaryNode:
		left, lc := rewriteRefs(n.Left, fn)
		right, rc := rewriteRefs(n.Right, fn)
		if !lc && !rc {
			return n, false
		}
		c := *n
		c.Left, c.Right = left, right
		return &c, true
	case *ParenNode:
		inner, changed := rewriteRefs(n.Inner, fn)
		if !changed {
			return n, false
		}
		c := *n
		c.Inner = inner
		return &c, true
	case *FunctionNode:
		var args []Node
		for i, arg := range n.Args {
			out, changed := rewriteRefs(arg, fn)
			if !changed {
				continue
			}
			if args == nil {
				args = slices.Clone(n.Args)
			}
			args[i] = out
		}
		if args == nil {
			return n, false
		}
		c := *n
		c.Args = args
		return &c, true
	}
	return node, false
}

// shiftRef applies a row or column shift to one reference. false means the
// reference is deleted.
func (s ShiftSpec) shiftRef(ref Reference) (Reference, bool) {
	if s.Semantics == CopyInsert {
		return s.copyRef(ref)
	}
	switch r := ref.(type) {
	case CellRef:
		if !s.movesSheet(r.Sheet) {
			return ref, true
		}
		return s.moveCell(r)
	case AreaRef:
		if !s.movesSheet(r.Sheet) {
			return ref, true
		}
		return s.moveArea(r)
	case Range3DRef:
		if r.FirstSheet != r.LastSheet || r.FirstSheet != s.Sheet {
			return ref, true
		}
		var inner Reference
		var ok bool
		switch in := r.Inner.(type) {
		case CellRef:
			inner, ok = s.moveCell(in)
		case AreaRef:
			inner, ok = s.moveArea(in)
		default:
			return ref, true
		}
		r.Inner = inner
		return r, ok
	}
	// external references and names are never moved
	return ref, true
}

// movesSheet reports whether a reference qualified with sheet (zero for
// unqualified) points at the edited sheet.
func (s ShiftSpec) movesSheet(sheet SheetID) bool {
	if sheet == 0 {
		return s.FormulaSheet == s.Sheet
	}
	return sheet == s.Sheet
}

// axisLimit is the number of rows or columns on the shifted axis.
func (s ShiftSpec) axisLimit() int {
	if s.Op == ColumnShift {
		return s.Limits.MaxCols
	}
	return s.Limits.MaxRows
}

func (s ShiftSpec) moveCell(r CellRef) (Reference, bool) {
	idx := &r.Row
	if s.Op == ColumnShift {
		idx = &r.Col
	}
	v, deleted, changed := s.moveIndex(*idx)
	if deleted {
		return nil, false
	}
	if !changed {
		return r, true
	}
	*idx = v
	return r, inGrid(v, s.axisLimit())
}

// moveIndex moves a single row or column index.
func (s ShiftSpec) moveIndex(v int) (int, bool, bool) {
	if s.First <= v && v <= s.Last {
		return v + s.Amount, false, true
	}
	destFirst, destLast := s.First+s.Amount, s.Last+s.Amount
	if destFirst <= v && v <= destLast {
		return 0, true, false
	}
	return v, false, false
}

// spanOnAxis returns pointers to the area's first and last index on the
// shifted axis, or nil when the area covers that whole axis.
func (s ShiftSpec) spanOnAxis(a *AreaRef) (*int, *int) {
	if s.Op == ColumnShift {
		if a.Span == SpanRows || (a.FirstCol == 0 && a.LastCol == s.Limits.LastCol()) {
			return nil, nil
		}
		return &a.FirstCol, &a.LastCol
	}
	if a.Span == SpanColumns || (a.FirstRow == 0 && a.LastRow == s.Limits.LastRow()) {
		return nil, nil
	}
	return &a.FirstRow, &a.LastRow
}

func (s ShiftSpec) moveArea(a AreaRef) (Reference, bool) {
	first, last := s.spanOnAxis(&a)
	if first == nil {
		return a, true
	}
	f, l, deleted, changed := s.moveSpan(*first, *last)
	if deleted {
		return nil, false
	}
	if !changed {
		return a, true
	}
	*first, *last = f, l
	limit := s.axisLimit()
	return a, inGrid(f, limit) && inGrid(l, limit)
}

// moveSpan applies a move to the span [aF, aL] of an area. the band either
// carries the whole span, takes one end with it, truncates the span where
// the band lands on it, or deletes the span when it lands on all of it.
func (s ShiftSpec) moveSpan(aF, aL int) (f, l int, deleted, changed bool) {
	first, last, amt := s.First, s.Last, s.Amount
	if first <= aF && aL <= last {
		return aF + amt, aL + amt, false, true
	}
	destF, destL := first+amt, last+amt

	if aF < first && last < aL {
		// the band lies strictly inside the span
		switch {
		case destF < aF && aF <= destL:
			return destL + 1, aL, false, true
		case destF <= aL && aL < destL:
			return aF, destF - 1, false, true
		}
		return aF, aL, false, false
	}

	if first <= aF && aF <= last {
		// the band holds the top of the span but not the bottom
		if amt < 0 {
			return aF + amt, aL, false, true
		}
		if destF > aL {
			return aF, aL, false, false
		}
		newF := aF + amt
		if destL < aL {
			return newF, aL, false, true
		}
		if remainingTop := last + 1; destF > remainingTop {
			newF = remainingTop
		}
		return newF, max(aL, destL), false, true
	}

	if first <= aL && aL <= last {
		// the band holds the bottom of the span but not the top
		if amt > 0 {
			return aF, aL + amt, false, true
		}
		if destL < aF {
			return aF, aL, false, false
		}
		newL := aL + amt
		if destF > aF {
			return aF, newL, false, true
		}
		if remainingBottom := first - 1; destL < remainingBottom {
			newL = remainingBottom
		}
		return min(aF, destF), newL, false, true
	}

	// the band is outside the span; only its destination matters
	switch {
	case destL < aF || aL < destF:
		return aF, aL, false, false
	case destF <= aF && aL <= destL:
		return 0, 0, true, false
	case aF <= destF && destL <= aL:
		return aF, aL, false, false
	case destF < aF && aF <= destL:
		return destL + 1, aL, false, true
	case destF <= aL && aL < destL:
		return aF, destF - 1, false, true
	}
	return aF, aL, false, false
}

// copyRef offsets the relative coordinates on the shifted axis. unlike a
// move, a copy ignores which sheet the reference is on.
func (s ShiftSpec) copyRef(ref Reference) (Reference, bool) {
	limit := s.axisLimit()
	switch r := ref.(type) {
	case CellRef:
		idx, abs := &r.Row, r.RowAbs
		if s.Op == ColumnShift {
			idx, abs = &r.Col, r.ColAbs
		}
		if abs {
			return r, true
		}
		if dest := s.First + s.Amount; dest < 0 || s.Last < dest {
			return nil, false
		}
		*idx += s.Amount
		return r, inGrid(*idx, limit)
	case AreaRef:
		first, last := s.spanOnAxis(&r)
		if first == nil {
			return r, true
		}
		firstAbs, lastAbs := r.FirstRowAbs, r.LastRowAbs
		if s.Op == ColumnShift {
			firstAbs, lastAbs = r.FirstColAbs, r.LastColAbs
		}
		if firstAbs && lastAbs {
			return r, true
		}
		*first = offsetRelative(*first, firstAbs, s.Amount)
		*last = offsetRelative(*last, lastAbs, s.Amount)
		if !inGrid(*first, limit) || !inGrid(*last, limit) {
			return nil, false
		}
		return r.normalize(), true
	case Range3DRef:
		inner, ok := s.copyRef(r.Inner)
		r.Inner = inner
		return r, ok
	case ExternalRef:
		inner, ok := s.copyRef(r.Inner)
		r.Inner = inner
		return r, ok
	}
	return ref, true
}

// deleteSheet turns references to the deleted sheet into #REF! and pulls
// the ends of 3-D ranges in to the nearest surviving sheet.
func (s ShiftSpec) deleteSheet(node Node) (Node, bool) {
	deleted := s.Sheet
	return rewriteRefs(node, func(n *RefNode) Node {
		switch r := n.Ref.(type) {
		case CellRef, AreaRef:
			if qualifiedSheet(r) == deleted {
				return &RefErrorNode{Space: n.Space}
			}
		case Range3DRef:
			if r.FirstSheet != deleted && r.LastSheet != deleted {
				return n
			}
			contracted, ok := contractRange(r, deleted, s.SheetOrder)
			if !ok {
				return &RefErrorNode{Space: n.Space}
			}
			return &RefNode{Space: n.Space, Ref: contracted}
		}
		return n
	})
}

// rebindSheet points references to the placeholder s.Sheet at s.Target.
func (s ShiftSpec) rebindSheet(node Node) (Node, bool) {
	from, to := s.Sheet, s.Target
	return rewriteRefs(node, func(n *RefNode) Node {
		switch r := n.Ref.(type) {
		case CellRef:
			if r.Sheet == from {
				r.Sheet = to
				return &RefNode{Space: n.Space, Ref: r}
			}
		case AreaRef:
			if r.Sheet == from {
				r.Sheet = to
				return &RefNode{Space: n.Space, Ref: r}
			}
		case Range3DRef:
			if r.FirstSheet != from && r.LastSheet != from {
				return n
			}
			if r.FirstSheet == from {
				r.FirstSheet = to
			}
			if r.LastSheet == from {
				r.LastSheet = to
			}
			return &RefNode{Space: n.Space, Ref: r}
		}
		return n
	})
}

// contractRange moves a deleted endpoint of r one sheet at a time toward
// the other endpoint until it lands on a surviving sheet.
func contractRange(r Range3DRef, deleted SheetID, order []SheetID) (Range3DRef, bool) {
	pf, pl := slices.Index(order, r.FirstSheet), slices.Index(order, r.LastSheet)
	if pf < 0 || pl < 0 {
		return r, false
	}
	step := 1
	if pf > pl {
		step = -1
	}
	for pf != pl && order[pf] == deleted {
		pf += step
	}
	for pl != pf && order[pl] == deleted {
		pl -= step
	}
	if order[pf] == deleted {
		return r, false
	}
	r.FirstSheet, r.LastSheet = order[pf], order[pl]
	return r, true
}
