package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	st := newTestSheets(t, "Sheet1", "Sheet2", "Sheet3")
	s1, _ := st.SheetID("Sheet1")
	s3, _ := st.SheetID("Sheet3")
	ctx := ParseContext{Sheets: st}

	tests := []struct {
		text string
		want Reference
	}{
		{"A1", CellRef{}},
		{"$B$2", CellRef{Row: 1, Col: 1, RowAbs: true, ColAbs: true}},
		{"Sheet1!A1:B2", AreaRef{Sheet: s1, LastRow: 1, LastCol: 1}},
		{"B2:A1", AreaRef{LastRow: 1, LastCol: 1}},
		{"A:C", AreaRef{LastRow: Excel2007.LastRow(), LastCol: 2, Span: SpanColumns}},
		{"2:5", AreaRef{FirstRow: 1, LastRow: 4, LastCol: Excel2007.LastCol(), Span: SpanRows}},
		{"Sheet1:Sheet3!A1", Range3DRef{FirstSheet: s1, LastSheet: s3, Inner: CellRef{}}},
		{"[Book]Data!A1", ExternalRef{Workbook: "Book", FirstSheet: "Data", Inner: CellRef{}}},
		{"Total", NameRef{Name: "Total"}},
		{"XFD1048576", CellRef{Row: 1048575, Col: 16383}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ref, err := ParseRef(tt.text, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestParseRefRejectsExpressions(t *testing.T) {
	st := newTestSheets(t, "Sheet1")
	for _, text := range []string{"1+2", "A1+1", "SUM(A1)", "Sheet1!", " A1"} {
		_, err := ParseRef(text, ParseContext{Sheets: st})
		assert.Error(t, err, text)
	}
}

func TestParseRefSmallGrid(t *testing.T) {
	// IV is the last BIFF8 column
	_, err := ParseRef("IV65536", ParseContext{Limits: Excel97})
	assert.NoError(t, err)
	_, err = Parse("IW1+1", ParseContext{Limits: Excel97})
	assert.Error(t, err)
}

func TestRenderRef(t *testing.T) {
	st := newTestSheets(t, "Sheet1", "My Sheet", "1Q", "R2C3", "TRUE", "A1", "O'Brien")
	id := func(name string) SheetID {
		id, ok := st.SheetID(name)
		require.True(t, ok, name)
		return id
	}
	tests := []struct {
		ref  Reference
		want string
	}{
		{CellRef{Row: 0, Col: 0}, "A1"},
		{CellRef{Row: 9, Col: 27, RowAbs: true}, "AB$10"},
		{CellRef{Sheet: id("Sheet1"), Row: 1, Col: 1}, "Sheet1!B2"},
		{CellRef{Sheet: id("My Sheet")}, "'My Sheet'!A1"},
		{CellRef{Sheet: id("1Q")}, "'1Q'!A1"},
		{CellRef{Sheet: id("R2C3")}, "'R2C3'!A1"},
		{CellRef{Sheet: id("TRUE")}, "'TRUE'!A1"},
		{CellRef{Sheet: id("A1")}, "'A1'!A1"},
		{CellRef{Sheet: id("O'Brien")}, "'O''Brien'!A1"},
		{AreaRef{FirstCol: 1, LastRow: 3, LastCol: 2, FirstColAbs: true, FirstRowAbs: true}, "$B$1:C4"},
		{AreaRef{FirstCol: 0, LastCol: 0, LastRow: Excel2007.LastRow(), Span: SpanColumns}, "A:A"},
		{Range3DRef{FirstSheet: id("Sheet1"), LastSheet: id("My Sheet"), Inner: CellRef{}}, "'Sheet1:My Sheet'!A1"},
		{ExternalRef{Workbook: "1", FirstSheet: "Data", Inner: CellRef{Row: 1, Col: 1}}, "[1]Data!B2"},
		{NameRef{Name: "Rates"}, "Rates"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderRef(tt.ref, st))
	}
}

func TestRenderRefQuotedSheetParsesBack(t *testing.T) {
	st := newTestSheets(t, "O'Brien", "My Sheet")
	for _, text := range []string{"'O''Brien'!A1", "'My Sheet'!$C$3:D4"} {
		ref, err := ParseRef(text, ParseContext{Sheets: st})
		require.NoError(t, err, text)
		assert.Equal(t, text, RenderRef(ref, st))
	}
}

func TestSheetTable(t *testing.T) {
	st := NewSheetTable()

	later := st.InternSheet("Later")
	assert.False(t, st.IsDefined(later))
	assert.Equal(t, later, st.InternSheet("LATER"))

	s1, err := st.DefineSheet("Sheet1")
	require.NoError(t, err)
	id, err := st.DefineSheet("later")
	require.NoError(t, err)
	assert.Equal(t, later, id, "defining an interned name keeps its id")
	name, _ := st.SheetName(later)
	assert.Equal(t, "later", name)

	_, err = st.DefineSheet("SHEET1")
	assert.Equal(t, AlreadyExists, AppErrorCodeOf(err))
	_, err = st.DefineSheet("")
	assert.Equal(t, InvalidArgument, AppErrorCodeOf(err))

	assert.Equal(t, AlreadyExists, AppErrorCodeOf(st.RenameSheet(s1, "Later")))
	require.NoError(t, st.RenameSheet(s1, "First"))
	got, ok := st.SheetID("first")
	assert.True(t, ok)
	assert.Equal(t, s1, got)
	_, ok = st.SheetID("Sheet1")
	assert.False(t, ok)

	require.NoError(t, st.MoveSheet(later, 0))
	assert.Equal(t, []SheetID{later, s1}, st.SheetOrder())
	assert.Equal(t, OutOfRange, AppErrorCodeOf(st.MoveSheet(later, 2)))

	require.NoError(t, st.RemoveSheet(s1))
	assert.Equal(t, 1, st.Count())
	assert.NotEqual(t, s1, st.InternSheet("First"), "a removed sheet's id is not reused")
	assert.Equal(t, NotFound, AppErrorCodeOf(st.RemoveSheet(s1)))
}

func TestSheetCellsBounds(t *testing.T) {
	cells := newSheetCells()
	_, _, ok := cells.bounds()
	assert.False(t, ok)

	cells.put(3, 1, &cellRecord{value: NumberValue(1)})
	cells.put(300, 700, &cellRecord{value: NumberValue(2)})
	lastRow, lastCol, ok := cells.bounds()
	assert.True(t, ok)
	assert.Equal(t, 300, lastRow)
	assert.Equal(t, 700, lastCol)
	assert.Equal(t, 2, cells.len())

	cells.remove(300, 700)
	lastRow, lastCol, _ = cells.bounds()
	assert.Equal(t, 3, lastRow)
	assert.Equal(t, 1, lastCol)
	assert.Len(t, cells.chunks, 1, "empty chunks are dropped")

	cells.remove(3, 1)
	_, _, ok = cells.bounds()
	assert.False(t, ok)
}
