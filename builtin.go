package formula

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct{}

func registerBuiltins(r *FunctionRegistry) {
	bf := BuiltInFunctions{}
	fixed := func(name string, impl FunctionImpl, minArgs, maxArgs int) {
		r.Register(name, Function{Impl: impl, MinArgs: minArgs, MaxArgs: maxArgs})
	}
	ranged := func(name string, impl FunctionImpl, minArgs, maxArgs int) {
		r.Register(name, Function{Impl: impl, MinArgs: minArgs, MaxArgs: maxArgs, AcceptsRanges: true})
	}
	lazy := func(name string, impl FunctionImpl, minArgs, maxArgs int) {
		r.Register(name, Function{Impl: impl, MinArgs: minArgs, MaxArgs: maxArgs, Lazy: true})
	}
	volatile := func(name string, impl FunctionImpl) {
		r.Register(name, Function{Impl: impl, MinArgs: 0, MaxArgs: 0, Volatile: true})
	}

	// math
	fixed("ABS", bf.ABS, 1, 1)
	fixed("ROUND", bf.ROUND, 1, 2)
	fixed("INT", bf.INT, 1, 1)
	fixed("MOD", bf.MOD, 2, 2)
	fixed("POWER", bf.POWER, 2, 2)
	fixed("SQRT", bf.SQRT, 1, 1)
	fixed("PI", bf.PI, 0, 0)
	ranged("PRODUCT", bf.PRODUCT, 1, -1)
	volatile("RAND", bf.RAND)

	// aggregates
	ranged("SUM", bf.SUM, 1, -1)
	ranged("AVERAGE", bf.AVERAGE, 1, -1)
	ranged("MIN", bf.MIN, 1, -1)
	ranged("MAX", bf.MAX, 1, -1)
	ranged("COUNT", bf.COUNT, 1, -1)
	ranged("COUNTA", bf.COUNTA, 1, -1)
	ranged("COUNTBLANK", bf.COUNTBLANK, 1, 1)

	// logic and information
	lazy("IF", bf.IF, 2, 3)
	lazy("IFERROR", bf.IFERROR, 2, 2)
	ranged("AND", bf.AND, 1, -1)
	ranged("OR", bf.OR, 1, -1)
	fixed("NOT", bf.NOT, 1, 1)
	fixed("ISERROR", bf.ISERROR, 1, 1)
	fixed("ISBLANK", bf.ISBLANK, 1, 1)
	fixed("ISNUMBER", bf.ISNUMBER, 1, 1)
	fixed("ISTEXT", bf.ISTEXT, 1, 1)
	fixed("NA", bf.NA, 0, 0)

	// text
	fixed("CONCATENATE", bf.CONCATENATE, 1, -1)
	fixed("LEN", bf.LEN, 1, 1)
	fixed("UPPER", bf.UPPER, 1, 1)
	fixed("LOWER", bf.LOWER, 1, 1)
	fixed("TRIM", bf.TRIM, 1, 1)
	fixed("LEFT", bf.LEFT, 1, 2)
	fixed("RIGHT", bf.RIGHT, 1, 2)
	fixed("MID", bf.MID, 3, 3)

	// lookup
	ranged("INDEX", bf.INDEX, 2, 3)
	ranged("MATCH", bf.MATCH, 2, 3)
	ranged("VLOOKUP", bf.VLOOKUP, 3, 4)
	ranged("ROWS", bf.ROWS, 1, 1)
	ranged("COLUMNS", bf.COLUMNS, 1, 1)
	ranged("ROW", bf.ROW, 0, 1)
	ranged("COLUMN", bf.COLUMN, 0, 1)

	// dates
	fixed("DATE", bf.DATE, 3, 3)
	fixed("YEAR", bf.YEAR, 1, 1)
	fixed("MONTH", bf.MONTH, 1, 1)
	fixed("DAY", bf.DAY, 1, 1)
	volatile("TODAY", bf.TODAY)
	volatile("NOW", bf.NOW)
}

// eachNumber feeds fn the numbers an aggregate consumes. literal arguments
// are coerced, so SUM("2") is 2 and SUM("x") is #VALUE!; values read
// through a reference count only when they are numbers. the first error
// value met is returned.
func eachNumber(args []Arg, fn func(float64)) ErrorCode {
	for _, arg := range args {
		if arg.IsRange() {
			for value := range arg.Range.IterateValues() {
				switch value.Kind {
				case KindError:
					return value.Err
				case KindNumber:
					fn(value.Number)
				}
			}
			continue
		}
		if arg.FromRef() {
			switch arg.Value.Kind {
			case KindError:
				return arg.Value.Err
			case KindNumber:
				fn(arg.Value.Number)
			}
			continue
		}
		num, code := toNumber(arg.Value)
		if code != 0 {
			return code
		}
		fn(num)
	}
	return 0
}

func (bf BuiltInFunctions) SUM(_ *CallContext, args []Arg) CellValue {
	sum := 0.0
	if code := eachNumber(args, func(n float64) { sum += n }); code != 0 {
		return ErrorValue(code)
	}
	return NumberValue(sum)
}

func (bf BuiltInFunctions) PRODUCT(_ *CallContext, args []Arg) CellValue {
	product, seen := 1.0, false
	code := eachNumber(args, func(n float64) {
		product *= n
		seen = true
	})
	if code != 0 {
		return ErrorValue(code)
	}
	if !seen {
		return NumberValue(0)
	}
	return NumberValue(product)
}

func (bf BuiltInFunctions) AVERAGE(_ *CallContext, args []Arg) CellValue {
	sum, count := 0.0, 0
	code := eachNumber(args, func(n float64) {
		sum += n
		count++
	})
	if code != 0 {
		return ErrorValue(code)
	}
	if count == 0 {
		return ErrorValue(ErrorCodeDiv0)
	}
	return NumberValue(sum / float64(count))
}

func (bf BuiltInFunctions) MIN(_ *CallContext, args []Arg) CellValue {
	return extreme(args, func(a, b float64) bool { return a < b })
}

func (bf BuiltInFunctions) MAX(_ *CallContext, args []Arg) CellValue {
	return extreme(args, func(a, b float64) bool { return a > b })
}

// extreme returns the number that beats every other under better, or 0
// when there are no numbers at all.
func extreme(args []Arg, better func(a, b float64) bool) CellValue {
	best, seen := 0.0, false
	code := eachNumber(args, func(n float64) {
		if !seen || better(n, best) {
			best = n
			seen = true
		}
	})
	if code != 0 {
		return ErrorValue(code)
	}
	return NumberValue(best)
}

// COUNT counts numbers. literal arguments that can be read as numbers
// count too; errors are skipped, never propagated.
func (bf BuiltInFunctions) COUNT(_ *CallContext, args []Arg) CellValue {
	count := 0
	for _, arg := range args {
		switch {
		case arg.IsRange():
			for value := range arg.Range.IterateValues() {
				if value.Kind == KindNumber {
					count++
				}
			}
		case arg.FromRef():
			if arg.Value.Kind == KindNumber {
				count++
			}
		case arg.Missing:
		default:
			if _, code := toNumber(arg.Value); code == 0 {
				count++
			}
		}
	}
	return NumberValue(float64(count))
}

// COUNTA counts everything that is not blank, errors included.
func (bf BuiltInFunctions) COUNTA(_ *CallContext, args []Arg) CellValue {
	count := 0
	for _, arg := range args {
		switch {
		case arg.IsRange():
			for value := range arg.Range.IterateValues() {
				if !value.IsBlank() {
					count++
				}
			}
		case arg.Missing:
		case arg.FromRef():
			if !arg.Value.IsBlank() {
				count++
			}
		default:
			count++
		}
	}
	return NumberValue(float64(count))
}

// COUNTBLANK counts empty cells and cells holding empty text.
func (bf BuiltInFunctions) COUNTBLANK(_ *CallContext, args []Arg) CellValue {
	isBlank := func(v CellValue) bool {
		return v.IsBlank() || (v.Kind == KindText && v.Text == "")
	}
	arg := args[0]
	if arg.IsRange() {
		// cells past the used range are never iterated but are still blank
		rng := arg.Range
		filled := 0
		for value := range rng.IterateValues() {
			if !isBlank(value) {
				filled++
			}
		}
		return NumberValue(float64(rng.Sheets()*rng.Rows()*rng.Cols() - filled))
	}
	if !arg.FromRef() {
		return ErrorValue(ErrorCodeValue)
	}
	if isBlank(arg.Value) {
		return NumberValue(1)
	}
	return NumberValue(0)
}

// branchValue is what IF and IFERROR return for a chosen argument. an
// empty argument or empty cell reads as 0.
func branchValue(arg Arg) CellValue {
	if arg.Missing || arg.Value.IsBlank() {
		return NumberValue(0)
	}
	return arg.Value
}

// IF evaluates only the branch it returns.
func (bf BuiltInFunctions) IF(ctx *CallContext, args []Arg) CellValue {
	cond, code := toBool(ctx.Arg(args, 0).Value)
	if code != 0 {
		return ErrorValue(code)
	}
	if cond {
		return branchValue(ctx.Arg(args, 1))
	}
	if len(args) < 3 {
		return BoolValue(false)
	}
	return branchValue(ctx.Arg(args, 2))
}

func (bf BuiltInFunctions) IFERROR(ctx *CallContext, args []Arg) CellValue {
	if value := ctx.Arg(args, 0); !value.Value.IsError() {
		return branchValue(value)
	}
	return branchValue(ctx.Arg(args, 1))
}

// eachLogical feeds fn the truth values AND and OR consume. text and
// blanks read through references are ignored; literal text must spell
// TRUE or FALSE.
func eachLogical(args []Arg, fn func(bool)) (int, ErrorCode) {
	seen := 0
	visit := func(value CellValue, literal bool) ErrorCode {
		switch value.Kind {
		case KindError:
			return value.Err
		case KindBoolean:
			fn(value.Bool)
		case KindNumber:
			fn(value.Number != 0)
		case KindText:
			if !literal {
				return 0
			}
			b, code := toBool(value)
			if code != 0 {
				return code
			}
			fn(b)
		default:
			return 0
		}
		seen++
		return 0
	}
	for _, arg := range args {
		if arg.IsRange() {
			for value := range arg.Range.IterateValues() {
				if code := visit(value, false); code != 0 {
					return seen, code
				}
			}
			continue
		}
		if arg.Missing {
			continue
		}
		if code := visit(arg.Value, !arg.FromRef()); code != 0 {
			return seen, code
		}
	}
	return seen, 0
}

func (bf BuiltInFunctions) AND(_ *CallContext, args []Arg) CellValue {
	result := true
	seen, code := eachLogical(args, func(b bool) { result = result && b })
	if code != 0 {
		return ErrorValue(code)
	}
	if seen == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	return BoolValue(result)
}

func (bf BuiltInFunctions) OR(_ *CallContext, args []Arg) CellValue {
	result := false
	seen, code := eachLogical(args, func(b bool) { result = result || b })
	if code != 0 {
		return ErrorValue(code)
	}
	if seen == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	return BoolValue(result)
}

func (bf BuiltInFunctions) NOT(_ *CallContext, args []Arg) CellValue {
	b, code := toBool(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	return BoolValue(!b)
}

func (bf BuiltInFunctions) ISERROR(_ *CallContext, args []Arg) CellValue {
	return BoolValue(args[0].Value.IsError())
}

func (bf BuiltInFunctions) ISBLANK(_ *CallContext, args []Arg) CellValue {
	return BoolValue(args[0].FromRef() && args[0].Value.IsBlank())
}

func (bf BuiltInFunctions) ISNUMBER(_ *CallContext, args []Arg) CellValue {
	return BoolValue(args[0].Value.Kind == KindNumber)
}

func (bf BuiltInFunctions) ISTEXT(_ *CallContext, args []Arg) CellValue {
	return BoolValue(args[0].Value.Kind == KindText)
}

func (bf BuiltInFunctions) NA(_ *CallContext, _ []Arg) CellValue {
	return ErrorValue(ErrorCodeNA)
}

func (bf BuiltInFunctions) CONCATENATE(_ *CallContext, args []Arg) CellValue {
	var sb strings.Builder
	for _, arg := range args {
		s, code := toText(arg.Value)
		if code != 0 {
			return ErrorValue(code)
		}
		sb.WriteString(s)
	}
	return TextValue(sb.String())
}

func (bf BuiltInFunctions) LEN(_ *CallContext, args []Arg) CellValue {
	s, code := toText(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	return NumberValue(float64(utf8.RuneCountInString(s)))
}

func (bf BuiltInFunctions) UPPER(_ *CallContext, args []Arg) CellValue {
	return mapText(args[0], cases.Upper(language.Und).String)
}

func (bf BuiltInFunctions) LOWER(_ *CallContext, args []Arg) CellValue {
	return mapText(args[0], cases.Lower(language.Und).String)
}

// TRIM removes leading and trailing spaces and collapses runs of spaces
// inside the text to one. other whitespace is kept.
func (bf BuiltInFunctions) TRIM(_ *CallContext, args []Arg) CellValue {
	return mapText(args[0], func(s string) string {
		words := strings.Split(s, " ")
		kept := words[:0]
		for _, w := range words {
			if w != "" {
				kept = append(kept, w)
			}
		}
		return strings.Join(kept, " ")
	})
}

func mapText(arg Arg, fn func(string) string) CellValue {
	s, code := toText(arg.Value)
	if code != 0 {
		return ErrorValue(code)
	}
	return TextValue(fn(s))
}

func (bf BuiltInFunctions) LEFT(_ *CallContext, args []Arg) CellValue {
	runes, n, code := textAndCount(args)
	if code != 0 {
		return ErrorValue(code)
	}
	return TextValue(string(runes[:n]))
}

func (bf BuiltInFunctions) RIGHT(_ *CallContext, args []Arg) CellValue {
	runes, n, code := textAndCount(args)
	if code != 0 {
		return ErrorValue(code)
	}
	return TextValue(string(runes[len(runes)-n:]))
}

// textAndCount reads the (text, [count=1]) arguments of LEFT and RIGHT. the
// count is capped at the length of the text.
func textAndCount(args []Arg) ([]rune, int, ErrorCode) {
	s, code := toText(args[0].Value)
	if code != 0 {
		return nil, 0, code
	}
	n, code := optNumber(args, 1, 1)
	if code != 0 {
		return nil, 0, code
	}
	if n < 0 {
		return nil, 0, ErrorCodeValue
	}
	runes := []rune(s)
	return runes, int(math.Min(n, float64(len(runes)))), 0
}

func (bf BuiltInFunctions) MID(_ *CallContext, args []Arg) CellValue {
	s, code := toText(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	start, code := toNumber(args[1].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	n, code := toNumber(args[2].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	if start < 1 || n < 0 {
		return ErrorValue(ErrorCodeValue)
	}
	runes := []rune(s)
	if start > float64(len(runes)) {
		return TextValue("")
	}
	from := int(start) - 1
	to := from + int(math.Min(n, float64(len(runes)-from)))
	return TextValue(string(runes[from:to]))
}

func (bf BuiltInFunctions) ABS(_ *CallContext, args []Arg) CellValue {
	return mapNumber(args[0], math.Abs)
}

func (bf BuiltInFunctions) INT(_ *CallContext, args []Arg) CellValue {
	return mapNumber(args[0], math.Floor)
}

func (bf BuiltInFunctions) SQRT(_ *CallContext, args []Arg) CellValue {
	num, code := toNumber(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	if num < 0 {
		return ErrorValue(ErrorCodeNum)
	}
	return NumberValue(math.Sqrt(num))
}

func mapNumber(arg Arg, fn func(float64) float64) CellValue {
	num, code := toNumber(arg.Value)
	if code != 0 {
		return ErrorValue(code)
	}
	return NumberValue(fn(num))
}

// ROUND rounds half away from zero. negative places round to the left of
// the decimal point.
func (bf BuiltInFunctions) ROUND(_ *CallContext, args []Arg) CellValue {
	num, code := toNumber(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	places, code := optNumber(args, 1, 0)
	if code != 0 {
		return ErrorValue(code)
	}
	multiplier := math.Pow(10, math.Trunc(places))
	// the shortest decimal form avoids 2.675 rounding down because it is
	// stored as 2.67499999...
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(num*multiplier, 'g', 15, 64), 64)
	if err != nil {
		scaled = num * multiplier
	}
	return finite(math.Round(scaled) / multiplier)
}

// MOD takes the sign of the divisor, as Excel does.
func (bf BuiltInFunctions) MOD(_ *CallContext, args []Arg) CellValue {
	dividend, code := toNumber(args[0].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	divisor, code := toNumber(args[1].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	if divisor == 0 {
		return ErrorValue(ErrorCodeDiv0)
	}
	return NumberValue(dividend - divisor*math.Floor(dividend/divisor))
}

func (bf BuiltInFunctions) POWER(_ *CallContext, args []Arg) CellValue {
	return applyBinary(BinOpPower, args[0].Value, args[1].Value)
}

func (bf BuiltInFunctions) PI(_ *CallContext, _ []Arg) CellValue {
	return NumberValue(math.Pi)
}

func (bf BuiltInFunctions) RAND(ctx *CallContext, _ []Arg) CellValue {
	return NumberValue(ctx.Rand.Float64())
}

// INDEX returns one cell of an area by 1-based row and column. an area of
// a single row or column can be indexed by one number.
func (bf BuiltInFunctions) INDEX(_ *CallContext, args []Arg) CellValue {
	rowNum, code := optNumber(args, 1, 0)
	if code != 0 {
		return ErrorValue(code)
	}
	colNum, code := optNumber(args, 2, 0)
	if code != 0 {
		return ErrorValue(code)
	}
	row, col := int(rowNum), int(colNum)
	if row < 0 || col < 0 {
		return ErrorValue(ErrorCodeValue)
	}
	if !args[0].IsRange() {
		if row <= 1 && col <= 1 {
			return args[0].Value
		}
		return ErrorValue(ErrorCodeRef)
	}
	rng := args[0].Range
	if rng.Sheets() != 1 {
		return ErrorValue(ErrorCodeRef)
	}
	if len(args) == 2 && rng.Rows() == 1 {
		row, col = 1, row
	}
	if row == 0 && rng.Rows() == 1 {
		row = 1
	}
	if col == 0 && rng.Cols() == 1 {
		col = 1
	}
	if row == 0 || col == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	if row > rng.Rows() || col > rng.Cols() {
		return ErrorValue(ErrorCodeRef)
	}
	return rng.Value(0, row-1, col-1)
}

// MATCH returns the 1-based position of a value in a one-dimensional area.
// match type 1 finds the largest value not above the lookup in ascending
// data, -1 the smallest not below it in descending data, 0 an exact match.
func (bf BuiltInFunctions) MATCH(_ *CallContext, args []Arg) CellValue {
	lookup := args[0].Value
	if lookup.IsError() {
		return lookup
	}
	matchType, code := optNumber(args, 2, 1)
	if code != 0 {
		return ErrorValue(code)
	}
	values, ok := vectorOf(args[1])
	if !ok {
		return ErrorValue(ErrorCodeNA)
	}
	var pos int
	switch {
	case matchType == 0:
		pos = exactMatch(values, lookup)
	case matchType > 0:
		pos = approximateMatch(values, lookup, func(c int) bool { return c <= 0 })
	default:
		pos = approximateMatch(values, lookup, func(c int) bool { return c >= 0 })
	}
	if pos < 0 {
		return ErrorValue(ErrorCodeNA)
	}
	return NumberValue(float64(pos + 1))
}

// VLOOKUP searches the first column of a table and returns the value in
// the requested column of the matching row.
func (bf BuiltInFunctions) VLOOKUP(_ *CallContext, args []Arg) CellValue {
	lookup := args[0].Value
	if lookup.IsError() {
		return lookup
	}
	if !args[1].IsRange() || args[1].Range.Sheets() != 1 {
		return ErrorValue(ErrorCodeNA)
	}
	table := args[1].Range
	colNum, code := toNumber(args[2].Value)
	if code != 0 {
		return ErrorValue(code)
	}
	col := int(colNum)
	if col < 1 {
		return ErrorValue(ErrorCodeValue)
	}
	if col > table.Cols() {
		return ErrorValue(ErrorCodeRef)
	}
	approximate := true
	if len(args) == 4 && !args[3].Missing {
		b, code := toBool(args[3].Value)
		if code != 0 {
			return ErrorValue(code)
		}
		approximate = b
	}
	keys := make([]CellValue, table.Rows())
	for i := range keys {
		keys[i] = table.Value(0, i, 0)
	}
	var row int
	if approximate {
		row = approximateMatch(keys, lookup, func(c int) bool { return c <= 0 })
	} else {
		row = exactMatch(keys, lookup)
	}
	if row < 0 {
		return ErrorValue(ErrorCodeNA)
	}
	return table.Value(0, row, col-1)
}

// vectorOf flattens a one-row or one-column argument.
func vectorOf(arg Arg) ([]CellValue, bool) {
	if !arg.IsRange() {
		return []CellValue{arg.Value}, true
	}
	rng := arg.Range
	if rng.Sheets() != 1 || (rng.Rows() != 1 && rng.Cols() != 1) {
		return nil, false
	}
	values := make([]CellValue, 0, rng.Rows()*rng.Cols())
	for value := range rng.IterateValues() {
		values = append(values, value)
	}
	return values, true
}

func exactMatch(values []CellValue, lookup CellValue) int {
	for i, v := range values {
		if v.Kind == lookup.Kind && compareValues(v, lookup) == 0 {
			return i
		}
	}
	return -1
}

// approximateMatch scans sorted data and returns the last position whose
// value keeps accept true, stopping at the first value of the lookup's kind
// that does not. values of other kinds are skipped.
func approximateMatch(values []CellValue, lookup CellValue, accept func(cmp int) bool) int {
	found := -1
	for i, v := range values {
		if v.Kind != lookup.Kind {
			continue
		}
		if !accept(compareValues(v, lookup)) {
			break
		}
		found = i
	}
	return found
}

func (bf BuiltInFunctions) ROWS(_ *CallContext, args []Arg) CellValue {
	if args[0].IsRange() {
		return NumberValue(float64(args[0].Range.Rows()))
	}
	return NumberValue(1)
}

func (bf BuiltInFunctions) COLUMNS(_ *CallContext, args []Arg) CellValue {
	if args[0].IsRange() {
		return NumberValue(float64(args[0].Range.Cols()))
	}
	return NumberValue(1)
}

// ROW returns the 1-based row of its reference argument, or of the calling
// cell when called without one.
func (bf BuiltInFunctions) ROW(ctx *CallContext, args []Arg) CellValue {
	if len(args) == 0 || args[0].Missing {
		return NumberValue(float64(ctx.Cell.Row + 1))
	}
	area, ok := refArea(args[0].Ref)
	if !ok {
		return ErrorValue(ErrorCodeValue)
	}
	return NumberValue(float64(area.FirstRow + 1))
}

func (bf BuiltInFunctions) COLUMN(ctx *CallContext, args []Arg) CellValue {
	if len(args) == 0 || args[0].Missing {
		return NumberValue(float64(ctx.Cell.Col + 1))
	}
	area, ok := refArea(args[0].Ref)
	if !ok {
		return ErrorValue(ErrorCodeValue)
	}
	return NumberValue(float64(area.FirstCol + 1))
}

func refArea(ref Reference) (AreaRef, bool) {
	switch r := ref.(type) {
	case Range3DRef:
		return asArea(r.Inner)
	case ExternalRef:
		return asArea(r.Inner)
	}
	return asArea(ref)
}

// Excel serial dates count days from 1899-12-30 and pretend 1900-02-29
// existed, so serials below 61 are one day off from the calendar.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const (
	secondsPerDay = 86400
	fakeLeapDay   = 60
)

// dateToSerial converts a wall-clock time to an Excel serial number,
// keeping the time of day as a fraction.
func dateToSerial(t time.Time) float64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	serial := wall.Sub(excelEpoch).Seconds() / secondsPerDay
	if serial < fakeLeapDay+1 {
		serial--
	}
	return serial
}

func serialToDate(serial float64) time.Time {
	days := math.Floor(serial)
	if days < fakeLeapDay+1 {
		days++
	}
	return excelEpoch.AddDate(0, 0, int(days))
}

// DATE builds a serial from year, month and day. months and days outside
// their usual range roll over, and years below 1900 are offset from 1900.
func (bf BuiltInFunctions) DATE(_ *CallContext, args []Arg) CellValue {
	var parts [3]int
	for i := range parts {
		n, code := toNumber(args[i].Value)
		if code != 0 {
			return ErrorValue(code)
		}
		parts[i] = int(math.Floor(n))
	}
	year := parts[0]
	if year < 0 || year > 9999 {
		return ErrorValue(ErrorCodeNum)
	}
	if year < 1900 {
		year += 1900
	}
	serial := dateToSerial(time.Date(year, time.Month(parts[1]), parts[2], 0, 0, 0, 0, time.UTC))
	if serial < 0 {
		return ErrorValue(ErrorCodeNum)
	}
	return NumberValue(serial)
}

func (bf BuiltInFunctions) YEAR(_ *CallContext, args []Arg) CellValue {
	return datePart(args[0], func(t time.Time) int { return t.Year() })
}

func (bf BuiltInFunctions) MONTH(_ *CallContext, args []Arg) CellValue {
	return datePart(args[0], func(t time.Time) int { return int(t.Month()) })
}

func (bf BuiltInFunctions) DAY(_ *CallContext, args []Arg) CellValue {
	return datePart(args[0], func(t time.Time) int { return t.Day() })
}

func datePart(arg Arg, part func(time.Time) int) CellValue {
	serial, code := toNumber(arg.Value)
	if code != 0 {
		return ErrorValue(code)
	}
	if serial < 0 {
		return ErrorValue(ErrorCodeNum)
	}
	return NumberValue(float64(part(serialToDate(serial))))
}

func (bf BuiltInFunctions) NOW(ctx *CallContext, _ []Arg) CellValue {
	return NumberValue(dateToSerial(ctx.Clock.Now()))
}

func (bf BuiltInFunctions) TODAY(ctx *CallContext, _ []Arg) CellValue {
	return NumberValue(math.Floor(dateToSerial(ctx.Clock.Now())))
}

// optNumber reads an optional numeric argument, using def when it is
// absent or left empty.
func optNumber(args []Arg, i int, def float64) (float64, ErrorCode) {
	if i >= len(args) || args[i].Missing {
		return def, 0
	}
	return toNumber(args[i].Value)
}

// toNumber converts a value to a number. it returns a non-zero code when the
// value is an error or text that does not read as a number.
func toNumber(value CellValue) (float64, ErrorCode) {
	switch value.Kind {
	case KindNumber:
		return value.Number, 0
	case KindBoolean:
		if value.Bool {
			return 1, 0
		}
		return 0, 0
	case KindText:
		return parseNumericText(value.Text)
	case KindError:
		return 0, value.Err
	}
	return 0, 0
}

func parseNumericText(s string) (float64, ErrorCode) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xX_") {
		return 0, ErrorCodeValue
	}
	num, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(num, 0) || math.IsNaN(num) {
		return 0, ErrorCodeValue
	}
	return num, 0
}

// toText converts a value to text the way the & operator does.
func toText(value CellValue) (string, ErrorCode) {
	if value.IsError() {
		return "", value.Err
	}
	return value.String(), 0
}

// toBool converts a value to a truth value. text must read TRUE or FALSE.
func toBool(value CellValue) (bool, ErrorCode) {
	switch value.Kind {
	case KindBoolean:
		return value.Bool, 0
	case KindNumber:
		return value.Number != 0, 0
	case KindText:
		switch {
		case strings.EqualFold(value.Text, "TRUE"):
			return true, 0
		case strings.EqualFold(value.Text, "FALSE"):
			return false, 0
		}
		return false, ErrorCodeValue
	case KindError:
		return false, value.Err
	}
	return false, 0
}
