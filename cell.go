package formula

import (
	"math"
	"strconv"
	"strings"
)

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName     ErrorCode = 5 // #NAME? - unrecognized function or name
	ErrorCodeNum      ErrorCode = 6 // #NUM! - invalid numeric domain
	ErrorCodeNA       ErrorCode = 7 // #N/A - value not available
	ErrorCodeCircular ErrorCode = 8 // evaluation depends on itself
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeCircular: "~CIRCULAR~REF~",
}

func (c ErrorCode) String() string {
	if s, ok := ErrorMapper[c]; ok {
		return s
	}
	return "#ERR" + strconv.Itoa(int(c))
}

// ErrorCodeFromText is the inverse of ErrorMapper for the codes a user can
// type. the circular marker is not a literal.
func ErrorCodeFromText(s string) (ErrorCode, bool) {
	upper := strings.ToUpper(s)
	for code, text := range ErrorMapper {
		if code != ErrorCodeCircular && text == upper {
			return code, true
		}
	}
	return 0, false
}

// ValueKind tags the variant held by a CellValue.
type ValueKind uint8

const (
	KindBlank ValueKind = iota
	KindNumber
	KindText
	KindBoolean
	KindError
)

func (k ValueKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindError:
		return "error"
	}
	return "unknown"
}

// CellValue is the result of evaluating a cell or expression. only the field
// matching Kind is meaningful. the zero value is a blank cell.
type CellValue struct {
	Kind   ValueKind
	Number float64
	Text   string
	Bool   bool
	Err    ErrorCode
}

func Blank() CellValue                    { return CellValue{} }
func NumberValue(n float64) CellValue     { return CellValue{Kind: KindNumber, Number: n} }
func TextValue(s string) CellValue        { return CellValue{Kind: KindText, Text: s} }
func BoolValue(b bool) CellValue          { return CellValue{Kind: KindBoolean, Bool: b} }
func ErrorValue(code ErrorCode) CellValue { return CellValue{Kind: KindError, Err: code} }

func (v CellValue) IsBlank() bool { return v.Kind == KindBlank }
func (v CellValue) IsError() bool { return v.Kind == KindError }

// String renders the value the way a cell displays it without any number
// format applied.
func (v CellValue) String() string {
	switch v.Kind {
	case KindNumber:
		return formatNumber(v.Number)
	case KindText:
		return v.Text
	case KindBoolean:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindError:
		return v.Err.String()
	}
	return ""
}

// formatNumber renders a float in the shortest form that round-trips,
// switching to exponent notation for very large or very small magnitudes.
func formatNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	abs := math.Abs(n)
	if abs >= 1e21 || abs < 1e-9 {
		return strings.ToUpper(strconv.FormatFloat(n, 'e', -1, 64))
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// SheetID is a stable identifier for a worksheet. it never changes when
// sheets are renamed or reordered. zero means "no sheet" and, inside a
// reference, "the sheet the formula lives on".
type SheetID uint32

// CellAddress identifies one cell. Row and Col are zero-based.
type CellAddress struct {
	Sheet SheetID
	Row   int
	Col   int
}
