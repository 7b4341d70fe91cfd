package formula

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// GridLimits bounds the addressable rows and columns of a sheet.
type GridLimits struct {
	MaxRows int
	MaxCols int
}

var (
	// Excel2007 matches the OOXML grid.
	Excel2007 = GridLimits{MaxRows: excelize.TotalRows, MaxCols: excelize.MaxColumns}
	// Excel97 matches the BIFF8 grid.
	Excel97 = GridLimits{MaxRows: 65536, MaxCols: 256}
)

func (g GridLimits) LastRow() int { return g.MaxRows - 1 }
func (g GridLimits) LastCol() int { return g.MaxCols - 1 }

func (g GridLimits) orDefault() GridLimits {
	if g.MaxRows <= 0 || g.MaxCols <= 0 {
		return Excel2007
	}
	return g
}

// Reference is one of CellRef, AreaRef, Range3DRef, ExternalRef or NameRef.
type Reference interface {
	isReference()
}

// CellRef points at a single cell. Sheet is zero when the reference is not
// sheet-qualified.
type CellRef struct {
	Sheet  SheetID
	Row    int
	Col    int
	RowAbs bool
	ColAbs bool
}

// AreaSpan records how an area was written so it can be rendered back the
// same way.
type AreaSpan uint8

const (
	SpanCells   AreaSpan = iota // A1:B2
	SpanColumns                 // A:B
	SpanRows                    // 1:2
)

// AreaRef is a rectangular block of cells. First is always the top-left
// corner; the abs flags belong to the coordinate they sit next to.
type AreaRef struct {
	Sheet       SheetID
	FirstRow    int
	FirstCol    int
	LastRow     int
	LastCol     int
	FirstRowAbs bool
	FirstColAbs bool
	LastRowAbs  bool
	LastColAbs  bool
	Span        AreaSpan
}

// Range3DRef spans every sheet between FirstSheet and LastSheet in the
// workbook's current sheet order. Inner is an unqualified CellRef or AreaRef.
type Range3DRef struct {
	FirstSheet SheetID
	LastSheet  SheetID
	Inner      Reference
}

// ExternalRef points into another workbook. Sheet names stay as text since
// the other workbook owns their ids. Inner is a CellRef, AreaRef or NameRef.
type ExternalRef struct {
	Workbook   string
	FirstSheet string
	LastSheet  string
	Inner      Reference
}

// NameRef is a defined name.
type NameRef struct {
	Name string
}

func (CellRef) isReference()     {}
func (AreaRef) isReference()     {}
func (Range3DRef) isReference()  {}
func (ExternalRef) isReference() {}
func (NameRef) isReference()     {}

// normalize swaps endpoints so First <= Last on both axes, carrying each
// coordinate's abs flag along with it.
func (a AreaRef) normalize() AreaRef {
	if a.FirstRow > a.LastRow {
		a.FirstRow, a.LastRow = a.LastRow, a.FirstRow
		a.FirstRowAbs, a.LastRowAbs = a.LastRowAbs, a.FirstRowAbs
	}
	if a.FirstCol > a.LastCol {
		a.FirstCol, a.LastCol = a.LastCol, a.FirstCol
		a.FirstColAbs, a.LastColAbs = a.LastColAbs, a.FirstColAbs
	}
	return a
}

func (a AreaRef) Rows() int { return a.LastRow - a.FirstRow + 1 }
func (a AreaRef) Cols() int { return a.LastCol - a.FirstCol + 1 }

// Contains reports whether the cell lies inside the area, ignoring sheets.
func (a AreaRef) Contains(row, col int) bool {
	return row >= a.FirstRow && row <= a.LastRow && col >= a.FirstCol && col <= a.LastCol
}

// asArea widens a CellRef or AreaRef to an area.
func asArea(ref Reference) (AreaRef, bool) {
	switch r := ref.(type) {
	case CellRef:
		return AreaRef{
			Sheet: r.Sheet, FirstRow: r.Row, FirstCol: r.Col, LastRow: r.Row, LastCol: r.Col,
			FirstRowAbs: r.RowAbs, FirstColAbs: r.ColAbs, LastRowAbs: r.RowAbs, LastColAbs: r.ColAbs,
		}, true
	case AreaRef:
		return r, true
	}
	return AreaRef{}, false
}

// ParseRef parses a standalone reference such as "Sheet1!$A$1:B4",
// "Sheet1:Sheet3!A1" or "[1]Data!C2".
func ParseRef(text string, ctx ParseContext) (Reference, error) {
	node, err := Parse(text, ctx)
	if err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *RefNode:
		if n.Space == "" {
			return n.Ref, nil
		}
	case *NameNode:
		if n.Space == "" {
			return NameRef{Name: n.Name}, nil
		}
	}
	return nil, &ParseError{Pos: 0, Msg: "not a reference: " + text}
}

// RenderRef renders a reference the way a user would type it.
func RenderRef(ref Reference, sheets SheetResolver) string {
	var sb strings.Builder
	writeRef(&sb, ref, sheets)
	return sb.String()
}

func writeRef(sb *strings.Builder, ref Reference, sheets SheetResolver) {
	switch r := ref.(type) {
	case CellRef:
		if r.Sheet != 0 {
			sb.WriteString(sheetPrefix("", sheetName(sheets, r.Sheet), ""))
		}
		sb.WriteString(cellText(r.Row, r.Col, r.RowAbs, r.ColAbs))
	case AreaRef:
		if r.Sheet != 0 {
			sb.WriteString(sheetPrefix("", sheetName(sheets, r.Sheet), ""))
		}
		sb.WriteString(areaText(r))
	case Range3DRef:
		sb.WriteString(sheetPrefix("", sheetName(sheets, r.FirstSheet), sheetName(sheets, r.LastSheet)))
		writeRef(sb, r.Inner, sheets)
	case ExternalRef:
		sb.WriteString(sheetPrefix(r.Workbook, r.FirstSheet, r.LastSheet))
		writeRef(sb, r.Inner, sheets)
	case NameRef:
		sb.WriteString(r.Name)
	}
}

func sheetName(sheets SheetResolver, id SheetID) string {
	if sheets != nil {
		if name, ok := sheets.SheetName(id); ok {
			return name
		}
	}
	return "#REF"
}

// sheetPrefix renders "[book]first:last!" quoting the whole prefix when any
// part of it needs quoting.
func sheetPrefix(book, first, last string) string {
	quote := needsQuoting(first) || (last != "" && needsQuoting(last)) || strings.ContainsAny(book, " '")
	if first == "" {
		quote = false
	}
	var sb strings.Builder
	if book != "" {
		sb.WriteString("[" + book + "]")
	}
	sb.WriteString(first)
	if last != "" && last != first {
		sb.WriteString(":" + last)
	}
	body := sb.String()
	if quote {
		body = "'" + strings.ReplaceAll(body, "'", "''") + "'"
	}
	return body + "!"
}

// needsQuoting reports whether a sheet name must be wrapped in single quotes
// when used in a formula.
func needsQuoting(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && unicode.IsDigit(r) {
			return true
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.') {
			return true
		}
	}
	upper := strings.ToUpper(name)
	if upper == "TRUE" || upper == "FALSE" {
		return true
	}
	if _, ok := parseCellPart(name, Excel2007); ok {
		return true
	}
	return looksLikeR1C1(upper)
}

// looksLikeR1C1 catches names such as "R1C1", "R2" or "C" which Excel would
// read as a reference in R1C1 mode.
func looksLikeR1C1(upper string) bool {
	i := 0
	if i < len(upper) && upper[i] == 'R' {
		i++
		for i < len(upper) && isDigitByte(upper[i]) {
			i++
		}
	}
	if i < len(upper) && upper[i] == 'C' {
		i++
		for i < len(upper) && isDigitByte(upper[i]) {
			i++
		}
	}
	return i > 0 && i == len(upper)
}

func columnName(col int) string {
	name, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return "#REF!"
	}
	return name
}

func cellText(row, col int, rowAbs, colAbs bool) string {
	var sb strings.Builder
	if colAbs {
		sb.WriteByte('$')
	}
	sb.WriteString(columnName(col))
	if rowAbs {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(row + 1))
	return sb.String()
}

func areaText(a AreaRef) string {
	switch a.Span {
	case SpanColumns:
		return dollar(a.FirstColAbs) + columnName(a.FirstCol) + ":" + dollar(a.LastColAbs) + columnName(a.LastCol)
	case SpanRows:
		return dollar(a.FirstRowAbs) + strconv.Itoa(a.FirstRow+1) + ":" + dollar(a.LastRowAbs) + strconv.Itoa(a.LastRow+1)
	}
	return cellText(a.FirstRow, a.FirstCol, a.FirstRowAbs, a.FirstColAbs) + ":" +
		cellText(a.LastRow, a.LastCol, a.LastRowAbs, a.LastColAbs)
}

func dollar(abs bool) string {
	if abs {
		return "$"
	}
	return ""
}

func isDigitByte(c byte) bool  { return c >= '0' && c <= '9' }
func isLetterByte(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') }

// parseCellPart parses "$A$1"-style text. the whole string must be consumed.
func parseCellPart(s string, limits GridLimits) (CellRef, bool) {
	col, colAbs, rest, ok := parseColumnPart(s, limits)
	if !ok {
		return CellRef{}, false
	}
	row, rowAbs, rest, ok := parseRowPart(rest, limits)
	if !ok || rest != "" {
		return CellRef{}, false
	}
	return CellRef{Row: row, Col: col, RowAbs: rowAbs, ColAbs: colAbs}, true
}

// parseColumnPart consumes "$AB" and returns the zero-based column and the
// unconsumed remainder.
func parseColumnPart(s string, limits GridLimits) (int, bool, string, bool) {
	abs := false
	if strings.HasPrefix(s, "$") {
		abs = true
		s = s[1:]
	}
	i := 0
	for i < len(s) && isLetterByte(s[i]) {
		i++
	}
	if i == 0 || i > 3 {
		return 0, false, s, false
	}
	n, err := excelize.ColumnNameToNumber(s[:i])
	if err != nil || n > limits.MaxCols {
		return 0, false, s, false
	}
	return n - 1, abs, s[i:], true
}

// parseRowPart consumes "$12" and returns the zero-based row and the
// unconsumed remainder.
func parseRowPart(s string, limits GridLimits) (int, bool, string, bool) {
	abs := false
	if strings.HasPrefix(s, "$") {
		abs = true
		s = s[1:]
	}
	i := 0
	for i < len(s) && isDigitByte(s[i]) {
		i++
	}
	if i == 0 || i > 7 || s[0] == '0' {
		return 0, false, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n > limits.MaxRows {
		return 0, false, s, false
	}
	return n - 1, abs, s[i:], true
}

// parseRefBody parses the part of a reference after any sheet prefix: a
// cell, a cell area, a column span or a row span.
func parseRefBody(s string, limits GridLimits) (Reference, bool) {
	left, right, isArea := strings.Cut(s, ":")
	if !isArea {
		ref, ok := parseCellPart(s, limits)
		return ref, ok
	}
	if first, ok := parseCellPart(left, limits); ok {
		last, ok := parseCellPart(right, limits)
		if !ok {
			return nil, false
		}
		return AreaRef{
			FirstRow: first.Row, FirstCol: first.Col, LastRow: last.Row, LastCol: last.Col,
			FirstRowAbs: first.RowAbs, FirstColAbs: first.ColAbs, LastRowAbs: last.RowAbs, LastColAbs: last.ColAbs,
		}.normalize(), true
	}
	if c1, abs1, rest1, ok := parseColumnPart(left, limits); ok && rest1 == "" {
		c2, abs2, rest2, ok := parseColumnPart(right, limits)
		if !ok || rest2 != "" {
			return nil, false
		}
		return AreaRef{
			FirstRow: 0, LastRow: limits.LastRow(), FirstCol: c1, LastCol: c2,
			FirstColAbs: abs1, LastColAbs: abs2, Span: SpanColumns,
		}.normalize(), true
	}
	if r1, abs1, rest1, ok := parseRowPart(left, limits); ok && rest1 == "" {
		r2, abs2, rest2, ok := parseRowPart(right, limits)
		if !ok || rest2 != "" {
			return nil, false
		}
		return AreaRef{
			FirstRow: r1, LastRow: r2, FirstCol: 0, LastCol: limits.LastCol(),
			FirstRowAbs: abs1, LastRowAbs: abs2, Span: SpanRows,
		}.normalize(), true
	}
	return nil, false
}

// splitSheetPrefix breaks the text before '!' into workbook, first and last
// sheet names, undoing quoting.
func splitSheetPrefix(prefix string) (book, first, last string, err error) {
	if strings.HasPrefix(prefix, "'") {
		if len(prefix) < 2 || !strings.HasSuffix(prefix, "'") {
			return "", "", "", errors.New("unterminated quoted sheet name")
		}
		prefix = strings.ReplaceAll(prefix[1:len(prefix)-1], "''", "'")
	}
	if strings.HasPrefix(prefix, "[") {
		end := strings.IndexByte(prefix, ']')
		if end < 0 {
			return "", "", "", errors.New("unterminated workbook reference")
		}
		book = prefix[1:end]
		if book == "" {
			return "", "", "", errors.New("empty workbook reference")
		}
		prefix = prefix[end+1:]
	}
	first, last, _ = strings.Cut(prefix, ":")
	if book == "" && first == "" {
		return "", "", "", errors.New("empty sheet name")
	}
	return book, first, last, nil
}
