package formula

import "iter"

// SheetResolver maps between sheet names and stable ids.
type SheetResolver interface {
	SheetID(name string) (SheetID, bool)
	SheetName(id SheetID) (string, bool)
	// SheetOrder lists the defined sheets in workbook order.
	SheetOrder() []SheetID
}

// SheetInterner is implemented by resolvers that can hand out an id for a
// sheet that does not exist yet.
type SheetInterner interface {
	InternSheet(name string) SheetID
}

// CellSource is what the evaluator needs from the document model.
type CellSource interface {
	SheetResolver

	// FormulaText returns the formula stored at addr, without a leading '='.
	FormulaText(addr CellAddress) (string, bool)
	// CachedValue returns the plain value of a non-formula cell, or the last
	// computed result of a formula cell.
	CachedValue(addr CellAddress) (CellValue, bool)
	SetCachedValue(addr CellAddress, v CellValue)
	// NamedRange resolves a defined name, preferring one scoped to sheet.
	NamedRange(name string, sheet SheetID) (Reference, bool)
	// FormulaCells yields every cell holding a formula.
	FormulaCells() iter.Seq[CellAddress]
}

// FormulaSource is implemented by sources that keep parsed formulas and
// shared formula groups.
type FormulaSource interface {
	Formula(addr CellAddress) (Formula, bool)
	SharedGroup(id GroupID) (*SharedMaster, bool)
}

// UsedRangeSource bounds iteration over whole-column and whole-row areas.
type UsedRangeSource interface {
	UsedRange(sheet SheetID) (lastRow, lastCol int, ok bool)
}

// EditKind says what an Edit changed.
type EditKind uint8

const (
	EditCellWrite EditKind = iota
	EditStructural
)

// Edit is delivered to listeners after the document model changes.
type Edit struct {
	Kind EditKind
	Cell CellAddress // set for EditCellWrite
}

// EditNotifier lets the evaluator hear about mutations so cached values
// can be dropped.
type EditNotifier interface {
	OnStructuralEdit(fn func(Edit))
}
