package formula

import (
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
)

// Workbook is an in-memory document: sheets of cells holding values and
// formulas, shared formula groups and defined names. it implements
// CellSource, FormulaSource, UsedRangeSource and EditNotifier so an
// Evaluator can run over it, and it keeps formulas consistent across
// structural edits by rewriting them through Shift.
type Workbook struct {
	sheets    *SheetTable
	cells     map[SheetID]*sheetCells
	functions *FunctionRegistry
	groups    *SharedGroups
	names     *NamedRangeTable
	listeners []func(Edit)
	limits    GridLimits
	log       *slog.Logger
}

// NewWorkbook creates an empty workbook.
func NewWorkbook(opts ...WorkbookOption) *Workbook {
	o := workbookOptions{limits: Excel2007, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.functions == nil {
		o.functions = NewDefaultFunctionRegistry()
	}
	return &Workbook{
		sheets:    NewSheetTable(),
		cells:     make(map[SheetID]*sheetCells),
		functions: o.functions,
		groups:    NewSharedGroups(),
		names:     NewNamedRangeTable(),
		limits:    o.limits,
		log:       o.logger,
	}
}

// Limits returns the grid size of the workbook's sheets.
func (wb *Workbook) Limits() GridLimits {
	return wb.limits
}

// OnStructuralEdit registers fn to hear about every mutation.
func (wb *Workbook) OnStructuralEdit(fn func(Edit)) {
	wb.listeners = append(wb.listeners, fn)
}

func (wb *Workbook) notify(edit Edit) {
	for _, fn := range wb.listeners {
		fn(edit)
	}
}

func (wb *Workbook) structural() {
	wb.notify(Edit{Kind: EditStructural})
}

func (wb *Workbook) cellWritten(addr CellAddress) {
	wb.notify(Edit{Kind: EditCellWrite, Cell: addr})
}

// sheet methods

func (wb *Workbook) SheetID(name string) (SheetID, bool)  { return wb.sheets.SheetID(name) }
func (wb *Workbook) SheetName(id SheetID) (string, bool) { return wb.sheets.SheetName(id) }
func (wb *Workbook) SheetOrder() []SheetID               { return wb.sheets.SheetOrder() }

// InternSheet lets formulas name sheets that have not been added yet.
func (wb *Workbook) InternSheet(name string) SheetID { return wb.sheets.InternSheet(name) }

// SheetNames lists the sheets in workbook order.
func (wb *Workbook) SheetNames() []string {
	order := wb.sheets.SheetOrder()
	names := make([]string, 0, len(order))
	for _, id := range order {
		name, _ := wb.sheets.SheetName(id)
		names = append(names, name)
	}
	return names
}

// AddSheet appends a sheet. formulas that already named it start resolving
// to it.
func (wb *Workbook) AddSheet(name string) (SheetID, error) {
	id, err := wb.sheets.DefineSheet(name)
	if err != nil {
		return 0, err
	}
	wb.cells[id] = newSheetCells()
	wb.log.Debug("sheet added", "sheet", name, "id", id)
	wb.structural()
	return id, nil
}

func (wb *Workbook) definedSheet(name string) (SheetID, error) {
	id, ok := wb.sheets.SheetID(name)
	if !ok || !wb.sheets.IsDefined(id) {
		return 0, NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", name))
	}
	return id, nil
}

// RenameSheet renames a sheet. formulas hold sheet ids, so they render the
// new name without being rewritten. formulas that named newName before the
// sheet existed are rebound to it.
func (wb *Workbook) RenameSheet(oldName, newName string) error {
	id, err := wb.definedSheet(oldName)
	if err != nil {
		return err
	}
	// formulas may already name newName through a placeholder id
	placeholder, ok := wb.sheets.SheetID(newName)
	if ok && (placeholder == id || wb.sheets.IsDefined(placeholder)) {
		placeholder = 0
	}
	if placeholder != 0 {
		if err := wb.dissolveAll(); err != nil {
			return err
		}
	}
	if err := wb.sheets.RenameSheet(id, newName); err != nil {
		return err
	}
	if placeholder != 0 {
		wb.rewriteFormulas(ShiftSpec{Op: SheetRename, Sheet: placeholder, Target: id, Limits: wb.limits})
	}
	wb.log.Debug("sheet renamed", "from", oldName, "to", newName)
	wb.structural()
	return nil
}

// MoveSheet moves a sheet to position pos. 3-D references cover whatever
// lies between their end sheets afterwards.
func (wb *Workbook) MoveSheet(name string, pos int) error {
	id, err := wb.definedSheet(name)
	if err != nil {
		return err
	}
	if err := wb.sheets.MoveSheet(id, pos); err != nil {
		return err
	}
	wb.structural()
	return nil
}

// DeleteSheet removes a sheet and its cells. references to it become
// #REF! and 3-D ranges ending on it shrink.
func (wb *Workbook) DeleteSheet(name string) error {
	id, err := wb.definedSheet(name)
	if err != nil {
		return err
	}
	if err := wb.dissolveAll(); err != nil {
		return err
	}
	spec := ShiftSpec{Op: SheetDelete, Sheet: id, SheetOrder: wb.sheets.SheetOrder(), Limits: wb.limits}
	delete(wb.cells, id)
	wb.rewriteFormulas(spec)
	wb.names.dropScope(id)
	if err := wb.sheets.RemoveSheet(id); err != nil {
		return err
	}
	wb.log.Debug("sheet deleted", "sheet", name, "id", id)
	wb.structural()
	return nil
}

// Cell resolves an address such as "Sheet1!B2" against the workbook's
// sheets.
func (wb *Workbook) Cell(text string) (CellAddress, error) {
	ref, err := ParseRef(text, ParseContext{Sheets: strictSheets{wb}, Limits: wb.limits})
	if err != nil {
		return CellAddress{}, wrapApplicationError(InvalidArgument, err, "invalid address %q", text)
	}
	cell, ok := ref.(CellRef)
	if !ok || cell.Sheet == 0 {
		return CellAddress{}, NewApplicationError(InvalidArgument, fmt.Sprintf("address %q must name a sheet and a single cell", text))
	}
	if !wb.sheets.IsDefined(cell.Sheet) {
		return CellAddress{}, NewApplicationError(NotFound, fmt.Sprintf("sheet of %q not found", text))
	}
	return CellAddress{Sheet: cell.Sheet, Row: cell.Row, Col: cell.Col}, nil
}

func (wb *Workbook) parseContext(addr CellAddress) ParseContext {
	return ParseContext{Sheets: wb, Cell: addr, Functions: wb.functions, Limits: wb.limits}
}

// strictSheets hides InternSheet so unknown sheet names fail to parse.
type strictSheets struct {
	SheetResolver
}

// cell methods

func (wb *Workbook) sheetCells(addr CellAddress) (*sheetCells, error) {
	cells, ok := wb.cells[addr.Sheet]
	if !ok {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", addr.Sheet))
	}
	if !inGrid(addr.Row, wb.limits.MaxRows) || !inGrid(addr.Col, wb.limits.MaxCols) {
		return nil, NewApplicationError(OutOfRange, fmt.Sprintf("cell %d,%d is outside the sheet", addr.Row, addr.Col))
	}
	return cells, nil
}

// SetValue stores a plain value. a blank value clears the cell.
func (wb *Workbook) SetValue(addr CellAddress, v CellValue) error {
	cells, err := wb.sheetCells(addr)
	if err != nil {
		return err
	}
	if err := wb.releaseFormula(addr); err != nil {
		return err
	}
	if v.IsBlank() {
		cells.remove(addr.Row, addr.Col)
	} else {
		cells.put(addr.Row, addr.Col, &cellRecord{value: v})
	}
	wb.cellWritten(addr)
	return nil
}

// SetFormula parses text in the context of addr and stores it.
func (wb *Workbook) SetFormula(addr CellAddress, text string) error {
	cells, err := wb.sheetCells(addr)
	if err != nil {
		return err
	}
	root, err := Parse(text, wb.parseContext(addr))
	if err != nil {
		return wrapApplicationError(InvalidArgument, err, "formula for %s", AddressText(wb, addr))
	}
	if err := wb.releaseFormula(addr); err != nil {
		return err
	}
	cells.put(addr.Row, addr.Col, &cellRecord{formula: &Formula{Root: root}})
	wb.cellWritten(addr)
	return nil
}

// SetCachedFormula stores a formula together with the result it had when
// the document was saved.
func (wb *Workbook) SetCachedFormula(addr CellAddress, text string, cached CellValue) error {
	if err := wb.SetFormula(addr, text); err != nil {
		return err
	}
	wb.SetCachedValue(addr, cached)
	return nil
}

// SetSharedFormula defines a shared formula written for anchor and used by
// every cell of area, which must contain the anchor.
func (wb *Workbook) SetSharedFormula(anchor CellAddress, area AreaRef, text string) (GroupID, error) {
	cells, err := wb.sheetCells(anchor)
	if err != nil {
		return 0, err
	}
	if (area.Sheet != 0 && area.Sheet != anchor.Sheet) || !area.Contains(anchor.Row, anchor.Col) {
		return 0, NewApplicationError(InvalidArgument, "shared formula range must contain its anchor cell")
	}
	if area.LastRow >= wb.limits.MaxRows || area.LastCol >= wb.limits.MaxCols {
		return 0, NewApplicationError(OutOfRange, "shared formula range is outside the sheet")
	}
	root, err := Parse(text, wb.parseContext(anchor))
	if err != nil {
		return 0, wrapApplicationError(InvalidArgument, err, "shared formula for %s", AddressText(wb, anchor))
	}
	area.Sheet = 0
	for row := area.FirstRow; row <= area.LastRow; row++ {
		for col := area.FirstCol; col <= area.LastCol; col++ {
			if err := wb.releaseFormula(CellAddress{Sheet: anchor.Sheet, Row: row, Col: col}); err != nil {
				return 0, err
			}
		}
	}
	id := wb.groups.Define(SharedMaster{Anchor: anchor, Range: area, Root: root})
	for row := area.FirstRow; row <= area.LastRow; row++ {
		for col := area.FirstCol; col <= area.LastCol; col++ {
			cells.put(row, col, &cellRecord{formula: &Formula{Group: id}})
		}
	}
	wb.log.Debug("shared formula defined", "anchor", AddressText(wb, anchor), "group", id)
	wb.structural()
	return id, nil
}

// Clear empties a cell.
func (wb *Workbook) Clear(addr CellAddress) error {
	return wb.SetValue(addr, Blank())
}

// releaseFormula is called before a cell is overwritten. when the cell is
// the anchor of a shared group, the group is dissolved so the other cells
// keep their formulas.
func (wb *Workbook) releaseFormula(addr CellAddress) error {
	f, ok := wb.Formula(addr)
	if !ok || !f.IsShared() {
		return nil
	}
	master, ok := wb.groups.Get(f.Group)
	if !ok || master.Anchor != addr {
		return nil
	}
	return wb.dissolve(f.Group)
}

// dissolve turns every member of a shared group into a standalone formula.
func (wb *Workbook) dissolve(id GroupID) error {
	master, ok := wb.groups.Get(id)
	if !ok {
		return nil
	}
	cells := wb.cells[master.Anchor.Sheet]
	members := func(yield func(CellAddress) bool) {
		if cells == nil {
			return
		}
		for row := master.Range.FirstRow; row <= master.Range.LastRow; row++ {
			for col := master.Range.FirstCol; col <= master.Range.LastCol; col++ {
				rec := cells.get(row, col)
				if rec == nil || rec.formula == nil || rec.formula.Group != id {
					continue
				}
				if !yield(CellAddress{Sheet: master.Anchor.Sheet, Row: row, Col: col}) {
					return
				}
			}
		}
	}
	trees, err := wb.groups.Dissolve(id, members, wb.limits)
	if err != nil {
		return err
	}
	for addr, root := range trees {
		rec := cells.get(addr.Row, addr.Col)
		rec.formula = &Formula{Root: root}
	}
	wb.log.Debug("shared formula dissolved", "group", id, "cells", len(trees))
	return nil
}

func (wb *Workbook) dissolveAll() error {
	ids := make([]GroupID, 0, wb.groups.Len())
	for id := range wb.groups.masters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := wb.dissolve(id); err != nil {
			return err
		}
	}
	return nil
}

// Formula returns the formula stored at addr.
func (wb *Workbook) Formula(addr CellAddress) (Formula, bool) {
	rec := wb.record(addr)
	if rec == nil || rec.formula == nil {
		return Formula{}, false
	}
	return *rec.formula, true
}

func (wb *Workbook) SharedGroup(id GroupID) (*SharedMaster, bool) {
	return wb.groups.Get(id)
}

func (wb *Workbook) record(addr CellAddress) *cellRecord {
	cells, ok := wb.cells[addr.Sheet]
	if !ok {
		return nil
	}
	return cells.get(addr.Row, addr.Col)
}

// FormulaText renders the formula at addr, expanding shared formulas.
func (wb *Workbook) FormulaText(addr CellAddress) (string, bool) {
	f, ok := wb.Formula(addr)
	if !ok {
		return "", false
	}
	root := f.Root
	if f.IsShared() {
		master, ok := wb.groups.Get(f.Group)
		if !ok {
			return "", false
		}
		node, err := expandWithin(master, addr, wb.limits)
		if err != nil {
			return "", false
		}
		root = node
	}
	return Render(root, wb), true
}

// CachedValue returns a plain cell's value or a formula cell's last result.
func (wb *Workbook) CachedValue(addr CellAddress) (CellValue, bool) {
	rec := wb.record(addr)
	if rec == nil || (rec.formula != nil && !rec.hasCached) {
		return CellValue{}, false
	}
	return rec.value, true
}

// SetCachedValue records a formula cell's result. it is not an edit.
func (wb *Workbook) SetCachedValue(addr CellAddress, v CellValue) {
	rec := wb.record(addr)
	if rec == nil || rec.formula == nil {
		return
	}
	rec.value = v
	rec.hasCached = true
}

// FormulaCells yields every formula cell.
func (wb *Workbook) FormulaCells() iter.Seq[CellAddress] {
	return func(yield func(CellAddress) bool) {
		for _, id := range wb.sheets.SheetOrder() {
			for pos, rec := range wb.cells[id].all() {
				if rec.formula == nil {
					continue
				}
				if !yield(CellAddress{Sheet: id, Row: pos[0], Col: pos[1]}) {
					return
				}
			}
		}
	}
}

func (wb *Workbook) UsedRange(sheet SheetID) (lastRow, lastCol int, ok bool) {
	cells, exists := wb.cells[sheet]
	if !exists {
		return -1, -1, false
	}
	return cells.bounds()
}

// names

// DefineName defines a workbook-wide name for a reference such as
// "Sheet1!$A$1:$B$4".
func (wb *Workbook) DefineName(name, refText string) error {
	return wb.DefineLocalName(name, 0, refText)
}

// DefineLocalName defines a name visible only on sheet scope.
func (wb *Workbook) DefineLocalName(name string, scope SheetID, refText string) error {
	ref, err := ParseRef(refText, ParseContext{Sheets: strictSheets{wb}, Limits: wb.limits})
	if err != nil {
		return wrapApplicationError(InvalidArgument, err, "name %s", name)
	}
	switch r := ref.(type) {
	case CellRef:
		if r.Sheet == 0 {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("name %s must refer to a qualified reference", name))
		}
	case AreaRef:
		if r.Sheet == 0 {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("name %s must refer to a qualified reference", name))
		}
	}
	if err := wb.names.Define(name, scope, ref); err != nil {
		return err
	}
	wb.structural()
	return nil
}

func (wb *Workbook) NamedRange(name string, sheet SheetID) (Reference, bool) {
	return wb.names.Lookup(name, sheet)
}

// rows and columns

// ShiftRows moves rows first through last of sheet by n rows. cells the
// band lands on are overwritten, and every formula and name follows the
// moved cells.
func (wb *Workbook) ShiftRows(sheet SheetID, first, last, n int) error {
	return wb.shift(RowShift, sheet, first, last, n)
}

// ShiftColumns moves columns first through last of sheet by n columns.
func (wb *Workbook) ShiftColumns(sheet SheetID, first, last, n int) error {
	return wb.shift(ColumnShift, sheet, first, last, n)
}

// InsertRows inserts n blank rows before row.
func (wb *Workbook) InsertRows(sheet SheetID, row, n int) error {
	if n <= 0 || row+n > wb.limits.LastRow() {
		return NewApplicationError(OutOfRange, "cannot insert rows past the end of the sheet")
	}
	return wb.ShiftRows(sheet, row, wb.limits.LastRow()-n, n)
}

// DeleteRows deletes n rows starting at row. references into them become
// #REF!.
func (wb *Workbook) DeleteRows(sheet SheetID, row, n int) error {
	if n <= 0 || row+n > wb.limits.MaxRows {
		return NewApplicationError(OutOfRange, "cannot delete rows past the end of the sheet")
	}
	if row+n == wb.limits.MaxRows {
		// nothing below to pull up: push the rows off the sheet instead
		return wb.ShiftRows(sheet, row, wb.limits.LastRow(), n)
	}
	return wb.ShiftRows(sheet, row+n, wb.limits.LastRow(), -n)
}

func (wb *Workbook) InsertColumns(sheet SheetID, col, n int) error {
	if n <= 0 || col+n > wb.limits.LastCol() {
		return NewApplicationError(OutOfRange, "cannot insert columns past the end of the sheet")
	}
	return wb.ShiftColumns(sheet, col, wb.limits.LastCol()-n, n)
}

func (wb *Workbook) DeleteColumns(sheet SheetID, col, n int) error {
	if n <= 0 || col+n > wb.limits.MaxCols {
		return NewApplicationError(OutOfRange, "cannot delete columns past the end of the sheet")
	}
	if col+n == wb.limits.MaxCols {
		return wb.ShiftColumns(sheet, col, wb.limits.LastCol(), n)
	}
	return wb.ShiftColumns(sheet, col+n, wb.limits.LastCol(), -n)
}

func (wb *Workbook) shift(op ShiftOp, sheet SheetID, first, last, n int) error {
	cells, ok := wb.cells[sheet]
	if !ok {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", sheet))
	}
	spec := ShiftSpec{Op: op, Semantics: Move, Sheet: sheet, First: first, Last: last, Amount: n, Limits: wb.limits}
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := wb.dissolveAll(); err != nil {
		return err
	}
	wb.rewriteFormulas(spec)

	limit := spec.axisLimit()
	moved := make(map[[2]int]*cellRecord)
	for pos, rec := range cells.all() {
		if idx := axisIndex(op, pos); first <= idx && idx <= last {
			moved[pos] = rec
		}
	}
	for pos := range moved {
		cells.remove(pos[0], pos[1])
	}
	var overwritten [][2]int
	for pos := range cells.all() {
		if idx := axisIndex(op, pos); first+n <= idx && idx <= last+n {
			overwritten = append(overwritten, pos)
		}
	}
	for _, pos := range overwritten {
		cells.remove(pos[0], pos[1])
	}
	for pos, rec := range moved {
		to := pos
		if op == ColumnShift {
			to[1] += n
		} else {
			to[0] += n
		}
		if inGrid(axisIndex(op, to), limit) {
			cells.put(to[0], to[1], rec)
		}
	}
	wb.log.Debug("cells shifted", "sheet", sheet, "first", first, "last", last, "amount", n, "cells", len(moved))
	wb.structural()
	return nil
}

func axisIndex(op ShiftOp, pos [2]int) int {
	if op == ColumnShift {
		return pos[1]
	}
	return pos[0]
}

// CopyRows copies rows first through last of sheet so they start at row
// dest. copied formulas have their relative references offset by the
// distance copied.
func (wb *Workbook) CopyRows(sheet SheetID, first, last, dest int) error {
	cells, ok := wb.cells[sheet]
	if !ok {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", sheet))
	}
	if first < 0 || first > last || dest < 0 || dest+last-first > wb.limits.LastRow() {
		return NewApplicationError(OutOfRange, "row copy outside the sheet")
	}
	amount := dest - first
	if amount == 0 {
		return nil
	}
	if err := wb.dissolveAll(); err != nil {
		return err
	}
	type copied struct {
		pos [2]int
		rec *cellRecord
	}
	var rows []copied
	for pos, rec := range cells.all() {
		if first <= pos[0] && pos[0] <= last {
			rows = append(rows, copied{pos: pos, rec: rec})
		}
	}
	for pos := range maps.Collect(cells.all()) {
		if dest <= pos[0] && pos[0] <= dest+last-first {
			cells.remove(pos[0], pos[1])
		}
	}
	for _, c := range rows {
		src := c.pos[0]
		rec := &cellRecord{value: c.rec.value, hasCached: c.rec.hasCached}
		if c.rec.formula != nil {
			spec := ShiftSpec{
				Op: RowShift, Semantics: CopyInsert, Sheet: sheet, FormulaSheet: sheet,
				First: src, Last: max(src, src+amount), Amount: amount, Limits: wb.limits,
			}
			root, _ := Shift(c.rec.formula.Root, spec)
			rec.formula = &Formula{Root: root}
		}
		cells.put(src+amount, c.pos[1], rec)
	}
	wb.log.Debug("rows copied", "sheet", sheet, "first", first, "last", last, "dest", dest)
	wb.structural()
	return nil
}

// rewriteFormulas passes every formula and name through the shifter.
func (wb *Workbook) rewriteFormulas(spec ShiftSpec) {
	for id, cells := range wb.cells {
		spec.FormulaSheet = id
		for _, rec := range cells.all() {
			if rec.formula == nil || rec.formula.IsShared() {
				continue
			}
			if root, changed := Shift(rec.formula.Root, spec); changed {
				rec.formula = &Formula{Root: root}
			}
		}
	}
	spec.FormulaSheet = 0
	wb.names.rewrite(func(ref Reference) Reference {
		return shiftReference(ref, spec)
	})
}

// shiftReference applies a spec to a lone reference, returning nil when it
// is deleted.
func shiftReference(ref Reference, spec ShiftSpec) Reference {
	out, _ := Shift(&RefNode{Ref: ref}, spec)
	if n, ok := out.(*RefNode); ok {
		return n.Ref
	}
	return nil
}
