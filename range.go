package formula

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
)

// gridRange is an evaluated area handed to functions. cells beyond the
// stored block lie outside the sheet's used range and are blank; iteration
// skips them.
type gridRange struct {
	sheets, rows, cols     int
	storedRows, storedCols int
	values                 []CellValue // sheet-major, then row-major
}

func newGridRange(sheets, rows, cols, storedRows, storedCols int) *gridRange {
	return &gridRange{
		sheets: sheets, rows: rows, cols: cols,
		storedRows: storedRows, storedCols: storedCols,
		values: make([]CellValue, sheets*storedRows*storedCols),
	}
}

func (g *gridRange) Sheets() int { return g.sheets }
func (g *gridRange) Rows() int   { return g.rows }
func (g *gridRange) Cols() int   { return g.cols }

func (g *gridRange) index(sheet, row, col int) int {
	return (sheet*g.storedRows+row)*g.storedCols + col
}

func (g *gridRange) Value(sheet, row, col int) CellValue {
	if sheet < 0 || sheet >= g.sheets || row < 0 || col < 0 || row >= g.storedRows || col >= g.storedCols {
		return Blank()
	}
	return g.values[g.index(sheet, row, col)]
}

func (g *gridRange) set(sheet, row, col int, v CellValue) {
	g.values[g.index(sheet, row, col)] = v
}

// IterateValues returns an iterator over the stored cell values
func (g *gridRange) IterateValues() iter.Seq[CellValue] {
	return func(yield func(CellValue) bool) {
		for _, v := range g.values {
			if !yield(v) {
				return
			}
		}
	}
}

// nameKey identifies a defined name. Scope zero is workbook-wide.
type nameKey struct {
	scope SheetID
	name  string // folded
}

type namedRange struct {
	name string // as defined
	ref  Reference
}

// NamedRangeTable manages defined names. a name may be defined once for
// the whole workbook and once more per sheet; the sheet-scoped one wins
// on that sheet.
type NamedRangeTable struct {
	names map[nameKey]namedRange
}

// NewNamedRangeTable creates a new named range table
func NewNamedRangeTable() *NamedRangeTable {
	return &NamedRangeTable{names: make(map[nameKey]namedRange)}
}

// Define adds or replaces a name. scope is the sheet the name is local
// to, or zero.
func (nrt *NamedRangeTable) Define(name string, scope SheetID, ref Reference) error {
	if !validName(name) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid name %q", name))
	}
	nrt.names[nameKey{scope: scope, name: foldName(name)}] = namedRange{name: name, ref: ref}
	return nil
}

// Undefine removes a name, returning whether it existed.
func (nrt *NamedRangeTable) Undefine(name string, scope SheetID) bool {
	key := nameKey{scope: scope, name: foldName(name)}
	_, ok := nrt.names[key]
	delete(nrt.names, key)
	return ok
}

// Lookup resolves a name as seen from sheet. the reference is nil for a
// name whose cells were deleted.
func (nrt *NamedRangeTable) Lookup(name string, sheet SheetID) (Reference, bool) {
	folded := foldName(name)
	if sheet != 0 {
		if nr, ok := nrt.names[nameKey{scope: sheet, name: folded}]; ok {
			return nr.ref, true
		}
	}
	nr, ok := nrt.names[nameKey{name: folded}]
	return nr.ref, ok
}

// Count returns the number of defined names.
func (nrt *NamedRangeTable) Count() int {
	return len(nrt.names)
}

// rewrite replaces every stored reference with fn's result. a nil result
// keeps the name but leaves it pointing nowhere, and Lookup then returns a
// nil Reference.
func (nrt *NamedRangeTable) rewrite(fn func(Reference) Reference) {
	for key, nr := range nrt.names {
		if nr.ref == nil {
			continue
		}
		nr.ref = fn(nr.ref)
		nrt.names[key] = nr
	}
}

// dropScope removes every name local to sheet.
func (nrt *NamedRangeTable) dropScope(sheet SheetID) {
	for key := range nrt.names {
		if key.scope == sheet {
			delete(nrt.names, key)
		}
	}
}

// validName reports whether name can be defined: it starts with a letter,
// '_' or '\', holds only name characters, and cannot be read as a cell
// reference or boolean.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && !(unicode.IsLetter(r) || r == '_' || r == '\\') {
			return false
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '\\') {
			return false
		}
	}
	upper := strings.ToUpper(name)
	if upper == "TRUE" || upper == "FALSE" {
		return false
	}
	if _, ok := parseCellPart(name, Excel2007); ok {
		return false
	}
	return !looksLikeR1C1(upper)
}
