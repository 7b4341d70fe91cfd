package xlsxsource

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/xuri/excelize/v2"
)

// newTestFile builds
//
//	Sheet1: A1=2  B1=A1*A2       C1="x"
//	        A2=3  B2=Rate*2      C2="y"
//	              B3=[1]Ext!A1+1 C3="z"
//	Data:   A1="hello" B1=TRUE
//
// with Rate defined as Sheet1!$A$2. every formula has a value to its right
// so the row is not trimmed before the formula cell.
func newTestFile(t *testing.T) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	_, err := f.NewSheet("Data")
	require.NoError(t, err)

	require.NoError(t, f.SetCellValue("Sheet1", "A1", 2))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 3))
	require.NoError(t, f.SetCellFormula("Sheet1", "B1", "A1*A2"))
	require.NoError(t, f.SetCellFormula("Sheet1", "B2", "Rate*2"))
	require.NoError(t, f.SetCellFormula("Sheet1", "B3", "[1]Ext!A1+1"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", "x"))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", "y"))
	require.NoError(t, f.SetCellValue("Sheet1", "C3", "z"))
	require.NoError(t, f.SetCellValue("Data", "A1", "hello"))
	require.NoError(t, f.SetCellValue("Data", "B1", true))
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "Rate", RefersTo: "Sheet1!$A$2"}))
	return f
}

func cell(t *testing.T, book *formula.Workbook, text string) formula.CellAddress {
	t.Helper()
	addr, err := book.Cell(text)
	require.NoError(t, err)
	return addr
}

func TestFromFile(t *testing.T) {
	src, err := FromFile(newTestFile(t))
	require.NoError(t, err)
	defer src.Close()
	book := src.Workbook()

	assert.Equal(t, []string{"Sheet1", "Data"}, book.SheetNames())

	text, ok := book.FormulaText(cell(t, book, "Sheet1!B1"))
	require.True(t, ok)
	assert.Equal(t, "A1*A2", text)

	ev := formula.NewEvaluator(book)
	tests := map[string]formula.CellValue{
		"Sheet1!B1": formula.NumberValue(6),
		"Sheet1!B2": formula.NumberValue(6),
		"Sheet1!C1": formula.TextValue("x"),
		"Data!A1":   formula.TextValue("hello"),
		"Data!B1":   formula.BoolValue(true),
		"Data!C9":   formula.Blank(),
	}
	for address, want := range tests {
		v, err := ev.Evaluate(cell(t, book, address))
		require.NoError(t, err, address)
		assert.Equal(t, want, v, address)
	}

	_, err = ev.Evaluate(cell(t, book, "Sheet1!B3"))
	assert.ErrorIs(t, err, formula.ErrWorkbookNotAvailable)
}

func TestExternalWorkbooks(t *testing.T) {
	src, err := FromFile(newTestFile(t))
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, []string{"1"}, src.ExternalWorkbooks())
}

func TestWorkbookID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"[1]Sheet1!A1", "1", true},
		{"'[Book]My Sheet'!A1", "Book", true},
		{"Sheet1!A1", "", false},
		{"[]Sheet1!A1", "", false},
		{"A1:B2", "", false},
	}
	for _, tt := range tests {
		id, ok := workbookID(tt.ref)
		assert.Equal(t, tt.ok, ok, tt.ref)
		assert.Equal(t, tt.want, id, tt.ref)
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		typ  excelize.CellType
		raw  string
		want formula.CellValue
	}{
		{excelize.CellTypeUnset, "", formula.Blank()},
		{excelize.CellTypeUnset, "1.5", formula.NumberValue(1.5)},
		{excelize.CellTypeNumber, "42", formula.NumberValue(42)},
		{excelize.CellTypeUnset, "abc", formula.TextValue("abc")},
		{excelize.CellTypeSharedString, "12", formula.TextValue("12")},
		{excelize.CellTypeInlineString, "inline", formula.TextValue("inline")},
		{excelize.CellTypeBool, "1", formula.BoolValue(true)},
		{excelize.CellTypeBool, "0", formula.BoolValue(false)},
		{excelize.CellTypeError, "#DIV/0!", formula.ErrorValue(formula.ErrorCodeDiv0)},
		{excelize.CellTypeError, "#SPILL!", formula.TextValue("#SPILL!")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, valueOf(tt.typ, tt.raw), "%v %q", tt.typ, tt.raw)
	}
}

func TestWriteValuesAndReopen(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.xlsx")
	f := newTestFile(t)
	require.NoError(t, f.SaveAs(input))
	require.NoError(t, f.Close())

	src, err := Open(input)
	require.NoError(t, err)
	defer src.Close()

	report := formula.NewEvaluator(src.Workbook()).EvaluateAll()
	require.Len(t, report.Failures, 1)
	require.NoError(t, src.WriteValues(report.Values))

	output := filepath.Join(dir, "out.xlsx")
	require.NoError(t, src.SaveAs(output))

	out, err := excelize.OpenFile(output)
	require.NoError(t, err)
	defer out.Close()
	for name, want := range map[string]string{"B1": "6", "B2": "6", "C1": "x"} {
		got, err := out.GetCellValue("Sheet1", name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func TestWorkbookOptions(t *testing.T) {
	src, err := FromFile(newTestFile(t), WithWorkbookOptions(formula.WithWorkbookLimits(formula.Excel97)))
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, formula.Excel97, src.Workbook().Limits())
	assert.NotNil(t, src.File())
}
