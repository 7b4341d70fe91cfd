package formula

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WorkbookTestCase drives a Workbook and an Evaluator over it with chained
// calls. the first failing step stops the chain.
type WorkbookTestCase struct {
	t    *testing.T
	name string
	book *Workbook
	eval *Evaluator
	err  error
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// testNow is 2024-01-15 12:00 UTC, serial 45306.5.
var testNow = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

func NewWorkbookTestCase(t *testing.T, name string, opts ...Option) *WorkbookTestCase {
	t.Helper()
	book := NewWorkbook()
	_, err := book.AddSheet("Sheet1")
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock{now: testNow})}, opts...)
	return &WorkbookTestCase{t: t, name: name, book: book, eval: NewEvaluator(book, opts...)}
}

func (tc *WorkbookTestCase) failed() bool {
	return tc.err != nil
}

func (tc *WorkbookTestCase) cell(address string) (CellAddress, bool) {
	addr, err := tc.book.Cell(address)
	if err != nil {
		tc.t.Errorf("%s: address %s: %v", tc.name, address, err)
		return CellAddress{}, false
	}
	return addr, true
}

// Set writes a formula when value is a string starting with '=', otherwise
// a plain value. nil clears the cell.
func (tc *WorkbookTestCase) Set(address string, value any) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	addr, ok := tc.cell(address)
	if !ok {
		return tc
	}
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "=") {
			tc.err = tc.book.SetFormula(addr, v)
		} else {
			tc.err = tc.book.SetValue(addr, TextValue(v))
		}
	case float64:
		tc.err = tc.book.SetValue(addr, NumberValue(v))
	case int:
		tc.err = tc.book.SetValue(addr, NumberValue(float64(v)))
	case bool:
		tc.err = tc.book.SetValue(addr, BoolValue(v))
	case ErrorCode:
		tc.err = tc.book.SetValue(addr, ErrorValue(v))
	case nil:
		tc.err = tc.book.Clear(addr)
	default:
		tc.t.Fatalf("%s: unsupported value %T", tc.name, value)
	}
	return tc
}

func (tc *WorkbookTestCase) AddWorksheet(name string) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	_, tc.err = tc.book.AddSheet(name)
	return tc
}

func (tc *WorkbookTestCase) RemoveWorksheet(name string) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	tc.err = tc.book.DeleteSheet(name)
	return tc
}

func (tc *WorkbookTestCase) RenameWorksheet(oldName, newName string) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	tc.err = tc.book.RenameSheet(oldName, newName)
	return tc
}

func (tc *WorkbookTestCase) MoveWorksheet(name string, pos int) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	tc.err = tc.book.MoveSheet(name, pos)
	return tc
}

func (tc *WorkbookTestCase) DefineName(name, ref string) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	tc.err = tc.book.DefineName(name, ref)
	return tc
}

// Do runs an arbitrary edit against the workbook.
func (tc *WorkbookTestCase) Do(edit func(book *Workbook) error) *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	tc.err = edit(tc.book)
	return tc
}

// Run evaluates every formula and expects no cell to fail.
func (tc *WorkbookTestCase) Run() *WorkbookTestCase {
	if tc.failed() {
		return tc
	}
	report := tc.eval.EvaluateAll()
	for _, f := range report.Failures {
		tc.t.Errorf("%s: %s failed: %v", tc.name, AddressText(tc.book, f.Cell), f.Err)
	}
	return tc
}

func (tc *WorkbookTestCase) value(address string) (CellValue, bool) {
	if tc.failed() {
		tc.t.Errorf("%s: unexpected error: %v", tc.name, tc.err)
		return CellValue{}, false
	}
	addr, ok := tc.cell(address)
	if !ok {
		return CellValue{}, false
	}
	v, err := tc.eval.Evaluate(addr)
	if err != nil {
		tc.t.Errorf("%s: Evaluate(%s) failed: %v", tc.name, address, err)
		return CellValue{}, false
	}
	return v, true
}

// AssertCellEq compares a cell's value with a float64, int, string, bool,
// ErrorCode or nil for blank.
func (tc *WorkbookTestCase) AssertCellEq(address string, expected any) *WorkbookTestCase {
	actual, ok := tc.value(address)
	if !ok {
		return tc
	}
	msg := tc.name + ": " + address
	switch exp := expected.(type) {
	case float64:
		if assert.Equal(tc.t, KindNumber, actual.Kind, "%s = %v", msg, actual) {
			assert.InDelta(tc.t, exp, actual.Number, 1e-10, msg)
		}
	case int:
		if assert.Equal(tc.t, KindNumber, actual.Kind, "%s = %v", msg, actual) {
			assert.InDelta(tc.t, float64(exp), actual.Number, 1e-10, msg)
		}
	case string:
		assert.Equal(tc.t, TextValue(exp), actual, msg)
	case bool:
		assert.Equal(tc.t, BoolValue(exp), actual, msg)
	case ErrorCode:
		assert.Equal(tc.t, ErrorValue(exp), actual, msg)
	case nil:
		assert.True(tc.t, actual.IsBlank(), "%s = %v, want blank", msg, actual)
	default:
		tc.t.Fatalf("%s: unsupported expectation %T", tc.name, expected)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellErr(address string, code ErrorCode) *WorkbookTestCase {
	return tc.AssertCellEq(address, code)
}

// AssertFormula checks how the formula at address renders.
func (tc *WorkbookTestCase) AssertFormula(address, expected string) *WorkbookTestCase {
	if tc.failed() {
		tc.t.Errorf("%s: unexpected error: %v", tc.name, tc.err)
		return tc
	}
	addr, ok := tc.cell(address)
	if !ok {
		return tc
	}
	text, ok := tc.book.FormulaText(addr)
	assert.True(tc.t, ok, "%s: %s holds no formula", tc.name, address)
	assert.Equal(tc.t, expected, text, "%s: %s", tc.name, address)
	return tc
}

// ExpectAppError consumes the pending error, which must carry code.
func (tc *WorkbookTestCase) ExpectAppError(code AppErrorCode) *WorkbookTestCase {
	if assert.Error(tc.t, tc.err, "%s: expected error %v", tc.name, code) {
		assert.Equal(tc.t, code, AppErrorCodeOf(tc.err), "%s: %v", tc.name, tc.err)
	}
	tc.err = nil
	return tc
}

func (tc *WorkbookTestCase) End() {
	if tc.err != nil {
		tc.t.Errorf("%s: unexpected error: %v", tc.name, tc.err)
	}
}
