package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSheets(t *testing.T, names ...string) *SheetTable {
	t.Helper()
	st := NewSheetTable()
	for _, name := range names {
		_, err := st.DefineSheet(name)
		require.NoError(t, err)
	}
	return st
}

func TestParseRoundTrip(t *testing.T) {
	st := newTestSheets(t, "Sheet1", "Sheet3", "My Sheet")
	tests := []string{
		"1+2",
		"1 + 2",
		"SUM(A1:B2, 3)",
		"( A1 )",
		`IF(A1>0,"yes","no")`,
		"A1\n+\tB1",
		"-A1%",
		"'My Sheet'!A1*2",
		"Sheet1:Sheet3!A1",
		"[1]Data!B2",
		`"a""b"`,
		"#DIV/0!+1",
		"1.50",
		"TRUE",
		"IF(A1,,1)",
		"$A$1+A$1+$A1",
		"SUM(A:C)",
		"SUM(2:5)",
		"UNKNOWNFN(1, 2)",
		"Sheet1!#REF!",
		"A1<>B1",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			node, err := Parse(text, ParseContext{Sheets: st})
			require.NoError(t, err)
			assert.Equal(t, text, Render(node, st))
		})
	}
}

func TestParseDropsLeadingEqualsAndTrailingSpace(t *testing.T) {
	node, err := Parse("=1+2  ", ParseContext{})
	require.NoError(t, err)
	assert.Equal(t, "1+2", Render(node, nil))
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"only equals", "="},
		{"open call", "SUM("},
		{"dangling colon", "A1:"},
		{"unterminated string", `"hello`},
		{"dangling operator", "1+"},
		{"missing close paren", "(1"},
		{"extra close paren", "1)"},
		{"two operands", "1 2"},
		{"empty parens", "()"},
		{"unknown error literal", "#FOO!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, ParseContext{})
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "want *ParseError, got %T", err)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("1+*2", ParseContext{})
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Pos)
}

func TestParseChecksArity(t *testing.T) {
	ctx := ParseContext{Functions: NewDefaultFunctionRegistry()}
	for _, text := range []string{"ABS(1,2)", "ABS()", "IF(1)", "PI(1)"} {
		_, err := Parse(text, ctx)
		assert.Error(t, err, text)
	}
	for _, text := range []string{"ABS(1)", "IF(1,2)", "SUM(1,2,3,4,5)", "UNKNOWNFN(1,2,3)", "abs(-1)"} {
		_, err := Parse(text, ctx)
		assert.NoError(t, err, text)
	}
}

func TestParsePrecedence(t *testing.T) {
	node, err := Parse("1+2*3", ParseContext{})
	require.NoError(t, err)
	add, ok := node.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, BinOpAdd, add.Op)
	mul, ok := add.Right.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, BinOpMultiply, mul.Op)

	// negation binds tighter than ^
	node, err = Parse("-2^2", ParseContext{})
	require.NoError(t, err)
	pow, ok := node.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, BinOpPower, pow.Op)
	_, ok = pow.Left.(*UnaryNode)
	assert.True(t, ok)

	// ^ is left-associative
	node, err = Parse("2^3^2", ParseContext{})
	require.NoError(t, err)
	pow, ok = node.(*BinaryNode)
	require.True(t, ok)
	_, ok = pow.Left.(*BinaryNode)
	assert.True(t, ok)
}

func TestParseReferences(t *testing.T) {
	st := newTestSheets(t, "Sheet1", "Sheet2")
	s1, _ := st.SheetID("Sheet1")
	s2, _ := st.SheetID("Sheet2")

	node, err := Parse("Sheet2!$B$3", ParseContext{Sheets: st})
	require.NoError(t, err)
	assert.Equal(t, &RefNode{Ref: CellRef{Sheet: s2, Row: 2, Col: 1, RowAbs: true, ColAbs: true}}, node)

	node, err = Parse("Sheet1:Sheet2!A1:B2", ParseContext{Sheets: st})
	require.NoError(t, err)
	ref := node.(*RefNode).Ref.(Range3DRef)
	assert.Equal(t, s1, ref.FirstSheet)
	assert.Equal(t, s2, ref.LastSheet)
	assert.Equal(t, AreaRef{LastRow: 1, LastCol: 1}, ref.Inner)

	// the same sheet on both ends is a plain qualified reference
	node, err = Parse("Sheet1:Sheet1!A1", ParseContext{Sheets: st})
	require.NoError(t, err)
	assert.Equal(t, CellRef{Sheet: s1}, node.(*RefNode).Ref)
}

func TestParseUnknownSheet(t *testing.T) {
	st := newTestSheets(t, "Sheet1")

	// a resolver that cannot intern rejects the name
	_, err := Parse("Later!A1", ParseContext{Sheets: strictSheets{st}})
	assert.Error(t, err)

	// an interning resolver hands out a placeholder id
	node, err := Parse("Later!A1", ParseContext{Sheets: st})
	require.NoError(t, err)
	id := node.(*RefNode).Ref.(CellRef).Sheet
	assert.NotZero(t, id)
	assert.False(t, st.IsDefined(id))
}

func TestParseExternal(t *testing.T) {
	node, err := Parse("[Book]Data!A1:A3", ParseContext{})
	require.NoError(t, err)
	assert.Equal(t, ExternalRef{
		Workbook:   "Book",
		FirstSheet: "Data",
		Inner:      AreaRef{LastRow: 2},
	}, node.(*RefNode).Ref)

	node, err = Parse("[Book]!Rate", ParseContext{})
	require.NoError(t, err)
	assert.Equal(t, ExternalRef{Workbook: "Book", Inner: NameRef{Name: "Rate"}}, node.(*RefNode).Ref)
	assert.Equal(t, "[Book]!Rate", Render(node, nil))
}

func TestFormulaTableInterns(t *testing.T) {
	ft := NewFormulaTable()
	a, err := ft.Intern("A1+1", ParseContext{})
	require.NoError(t, err)
	b, err := ft.Intern("A1+1", ParseContext{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = ft.Intern("1+", ParseContext{})
	assert.Error(t, err)
	assert.Equal(t, 1, ft.Count())

	hits, misses := ft.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)

	ft.Clear()
	assert.Equal(t, 0, ft.Count())
}
