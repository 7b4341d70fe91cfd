package formula

import (
	"bytes"
	"errors"
	"iter"
	"log/slog"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularReference(t *testing.T) {
	NewWorkbookTestCase(t, "two-cell cycle").
		Set("Sheet1!E4", "=E5+1").
		Set("Sheet1!E5", "=E4*2").
		Set("Sheet1!A1", "=1+1").
		AssertCellErr("Sheet1!E4", ErrorCodeCircular).
		AssertCellErr("Sheet1!E5", ErrorCodeCircular).
		AssertCellEq("Sheet1!A1", 2).
		End()

	NewWorkbookTestCase(t, "self reference").
		Set("Sheet1!A1", "=A1").
		AssertCellErr("Sheet1!A1", ErrorCodeCircular).
		// breaking the cycle recomputes
		Set("Sheet1!A1", "=5").
		AssertCellEq("Sheet1!A1", 5).
		End()

	NewWorkbookTestCase(t, "range over itself").
		Set("Sheet1!A1", 1).
		Set("Sheet1!A3", "=SUM(A1:A3)").
		AssertCellErr("Sheet1!A3", ErrorCodeCircular).
		End()
}

func TestCircularCellsAreNotCached(t *testing.T) {
	tc := NewWorkbookTestCase(t, "cycle cache").
		Set("Sheet1!A1", "=B1").
		Set("Sheet1!B1", "=A1").
		AssertCellErr("Sheet1!A1", ErrorCodeCircular)
	tc.End()
	assert.Empty(t, tc.eval.cache)
	assert.Equal(t, 0, tc.eval.stack.depth())
}

func threeSheetCase(t *testing.T, name string) *WorkbookTestCase {
	return NewWorkbookTestCase(t, name).
		RenameWorksheet("Sheet1", "Jan").
		AddWorksheet("Feb").
		AddWorksheet("Mar").
		AddWorksheet("Summary").
		Set("Jan!A1", 11).
		Set("Feb!A1", 22).
		Set("Mar!A1", 33)
}

func TestThreeDimensionalAggregates(t *testing.T) {
	threeSheetCase(t, "3-D aggregates").
		Set("Summary!A1", "=SUM(Jan:Mar!A1)").
		Set("Summary!A2", "=AVERAGE(Jan:Mar!A1)").
		Set("Summary!A3", "=MIN(Jan:Mar!A1)").
		Set("Summary!A4", "=MAX(Jan:Mar!A1)").
		Set("Summary!A5", "=COUNT(Jan:Mar!A1)").
		Set("Summary!A6", "=COUNTA(Jan:Mar!A1)").
		Set("Summary!A7", "=COUNTA(Jan:Mar!B1)").
		Set("Summary!A8", "=SUM(Mar:Jan!A1:B2)").
		Set("Summary!A9", "=Jan:Mar!A1").
		Set("Summary!A10", "=INDEX(Jan:Mar!A1:A2,1)").
		AssertCellEq("Summary!A1", 66).
		AssertCellEq("Summary!A2", 22).
		AssertCellEq("Summary!A3", 11).
		AssertCellEq("Summary!A4", 33).
		AssertCellEq("Summary!A5", 3).
		AssertCellEq("Summary!A6", 3).
		AssertCellEq("Summary!A7", 0).
		AssertCellEq("Summary!A8", 66).
		AssertCellErr("Summary!A9", ErrorCodeValue).
		AssertCellErr("Summary!A10", ErrorCodeRef).
		Run().
		End()
}

func TestThreeDimensionalFollowsSheetOrder(t *testing.T) {
	threeSheetCase(t, "3-D after move").
		Set("Summary!A1", "=SUM(Jan:Mar!A1)").
		AssertCellEq("Summary!A1", 66).
		// Mar now sits between Jan and Feb, so Jan:Mar no longer reaches Feb
		MoveWorksheet("Mar", 1).
		AssertCellEq("Summary!A1", 44).
		AssertFormula("Summary!A1", "SUM(Jan:Mar!A1)").
		End()
}

func TestThreeDimensionalAfterSheetDelete(t *testing.T) {
	threeSheetCase(t, "3-D after delete").
		Set("Summary!A1", "=SUM(Jan:Mar!A1)").
		Set("Summary!A2", "=Jan!A1+1").
		RemoveWorksheet("Jan").
		AssertCellEq("Summary!A1", 55).
		AssertFormula("Summary!A1", "SUM(Feb:Mar!A1)").
		AssertFormula("Summary!A2", "#REF!+1").
		AssertCellErr("Summary!A2", ErrorCodeRef).
		End()
}

func TestSheetLifecycle(t *testing.T) {
	NewWorkbookTestCase(t, "sheet lifecycle").
		Set("Sheet1!A1", "=Data!B2*2").
		AssertCellErr("Sheet1!A1", ErrorCodeRef).
		AddWorksheet("Data").
		Set("Data!B2", 21).
		AssertCellEq("Sheet1!A1", 42).
		RenameWorksheet("Data", "My Data").
		AssertFormula("Sheet1!A1", "'My Data'!B2*2").
		AssertCellEq("Sheet1!A1", 42).
		AddWorksheet("my data").
		ExpectAppError(AlreadyExists).
		RemoveWorksheet("Missing").
		ExpectAppError(NotFound).
		End()
}

func TestNamedRanges(t *testing.T) {
	NewWorkbookTestCase(t, "global name").
		Set("Sheet1!A1", 1).
		Set("Sheet1!A2", 2).
		DefineName("Total", "Sheet1!$A$1:$A$2").
		Set("Sheet1!B1", "=SUM(Total)").
		AssertCellEq("Sheet1!B1", 3).
		Do(func(book *Workbook) error {
			id, _ := book.SheetID("Sheet1")
			return book.InsertRows(id, 0, 1)
		}).
		AssertCellEq("Sheet1!B2", 3).
		Do(func(book *Workbook) error {
			ref, ok := book.NamedRange("total", 0)
			if !ok {
				return errors.New("name lost")
			}
			if got := RenderRef(ref, book); got != "Sheet1!$A$2:$A$3" {
				return errors.New("name not shifted: " + got)
			}
			return nil
		}).
		End()

	NewWorkbookTestCase(t, "local name wins").
		AddWorksheet("Other").
		Set("Sheet1!A1", 1).
		Set("Other!A1", 100).
		DefineName("Rate", "Sheet1!A1").
		Do(func(book *Workbook) error {
			other, _ := book.SheetID("Other")
			return book.DefineLocalName("Rate", other, "Other!A1")
		}).
		Set("Sheet1!B1", "=Rate").
		Set("Other!B1", "=Rate").
		AssertCellEq("Sheet1!B1", 1).
		AssertCellEq("Other!B1", 100).
		End()

	NewWorkbookTestCase(t, "name into deleted sheet").
		AddWorksheet("Gone").
		DefineName("Lost", "Gone!A1").
		Set("Sheet1!A1", "=Lost").
		RemoveWorksheet("Gone").
		AssertCellErr("Sheet1!A1", ErrorCodeRef).
		End()

	NewWorkbookTestCase(t, "invalid names").
		DefineName("A1", "Sheet1!B1").
		ExpectAppError(InvalidArgument).
		DefineName("Rate", "B1").
		ExpectAppError(InvalidArgument).
		DefineName("Rate", "Nowhere!B1").
		ExpectAppError(InvalidArgument).
		End()
}

func TestNameChainsAreBounded(t *testing.T) {
	source := newMapSource(t, "Sheet1")
	source.names["Loop"] = NameRef{Name: "Loop"}
	source.formulas[CellAddress{Sheet: 1}] = "Loop"
	ev := NewEvaluator(source)
	v, err := ev.Evaluate(CellAddress{Sheet: 1})
	require.NoError(t, err)
	assert.Equal(t, ErrorValue(ErrorCodeName), v)
}

func TestWritesInvalidateDependents(t *testing.T) {
	NewWorkbookTestCase(t, "invalidation").
		Set("Sheet1!A1", 1).
		Set("Sheet1!B1", "=A1*10").
		Set("Sheet1!C1", "=B1+1").
		AssertCellEq("Sheet1!C1", 11).
		Set("Sheet1!A1", 2).
		AssertCellEq("Sheet1!C1", 21).
		Set("Sheet1!A1", nil).
		AssertCellEq("Sheet1!C1", 1).
		End()
}

type sequenceRandom struct{ next float64 }

func (r *sequenceRandom) Float64() float64 {
	r.next += 0.25
	return r.next
}

func TestVolatileFunctionsAreNotCached(t *testing.T) {
	tc := NewWorkbookTestCase(t, "volatile", WithRandom(&sequenceRandom{})).
		Set("Sheet1!A1", "=RAND()").
		Set("Sheet1!B1", "=A1*4").
		Set("Sheet1!C1", "=1+1").
		AssertCellEq("Sheet1!A1", 0.25).
		AssertCellEq("Sheet1!A1", 0.5).
		AssertCellEq("Sheet1!B1", 3).
		AssertCellEq("Sheet1!C1", 2)
	tc.End()

	c1, _ := tc.book.Cell("Sheet1!C1")
	b1, _ := tc.book.Cell("Sheet1!B1")
	assert.Contains(t, tc.eval.cache, c1)
	assert.NotContains(t, tc.eval.cache, b1, "cells reading a volatile cell are volatile too")
}

func TestClock(t *testing.T) {
	NewWorkbookTestCase(t, "clock").
		Set("Sheet1!A1", "=TODAY()").
		Set("Sheet1!A2", "=NOW()-TODAY()").
		AssertCellEq("Sheet1!A1", 45306).
		AssertCellEq("Sheet1!A2", 0.5).
		End()
}

func TestRegisterFunction(t *testing.T) {
	tc := NewWorkbookTestCase(t, "custom function").
		Set("Sheet1!A1", "=DOUBLE(21)").
		AssertCellErr("Sheet1!A1", ErrorCodeName)
	tc.eval.RegisterFunction("DOUBLE", Function{
		MinArgs: 1, MaxArgs: 1,
		Impl: func(_ *CallContext, args []Arg) CellValue {
			n, code := toNumber(args[0].Value)
			if code != 0 {
				return ErrorValue(code)
			}
			return NumberValue(n * 2)
		},
	})
	tc.AssertCellEq("Sheet1!A1", 42).
		Set("Sheet1!A2", "=DOUBLE(1,2)").
		AssertCellErr("Sheet1!A2", ErrorCodeValue).
		End()
}

func TestPanickingFunction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tc := NewWorkbookTestCase(t, "panicking function", WithLogger(logger))
	tc.eval.RegisterFunction("BROKEN", Function{
		MinArgs: 1, MaxArgs: 1,
		Impl: func(_ *CallContext, args []Arg) CellValue {
			return args[len(args)+1].Value
		},
	})
	tc.Set("Sheet1!A1", "=BROKEN(1)").
		Set("Sheet1!B1", "=1+1").
		Set("Sheet1!C1", "=A1+1").
		Set("Sheet1!D1", "=IFERROR(BROKEN(2),7)").
		Run().
		AssertCellErr("Sheet1!A1", ErrorCodeValue).
		AssertCellEq("Sheet1!B1", 2).
		AssertCellErr("Sheet1!C1", ErrorCodeValue).
		AssertCellEq("Sheet1!D1", 7).
		End()
	assert.Equal(t, 0, tc.eval.stack.depth())
	assert.Contains(t, buf.String(), "function panicked")
	assert.Contains(t, buf.String(), "function=BROKEN")
}

func TestLazyFunction(t *testing.T) {
	var evaluated []float64
	tc := NewWorkbookTestCase(t, "lazy function").
		Set("Sheet1!A1", 1).
		Set("Sheet1!A2", 2)
	tc.eval.RegisterFunction("FIRST", Function{
		MinArgs: 1, MaxArgs: -1, Lazy: true,
		Impl: func(ctx *CallContext, args []Arg) CellValue {
			v := ctx.Arg(args, 0).Value
			evaluated = append(evaluated, v.Number)
			return v
		},
	})
	tc.Set("Sheet1!B1", "=FIRST(A2,A1/0,[9]X!A1)").
		AssertCellEq("Sheet1!B1", 2).
		End()
	assert.Equal(t, []float64{2}, evaluated)
}

func TestFunctionRegistry(t *testing.T) {
	r := NewDefaultFunctionRegistry()
	sum, ok := r.Lookup("sum")
	require.True(t, ok)
	assert.True(t, sum.AcceptsRanges)
	rand, _ := r.Lookup("RAND")
	assert.True(t, rand.Volatile)
	assert.Contains(t, r.Names(), "VLOOKUP")
	assert.IsNonDecreasing(t, r.Names())

	clone := r.Clone()
	clone.RegisterFunc("EXTRA", func(*CallContext, []Arg) CellValue { return NumberValue(1) })
	_, ok = r.Lookup("EXTRA")
	assert.False(t, ok)
	extra, ok := clone.Lookup("extra")
	require.True(t, ok)
	assert.Equal(t, -1, extra.MaxArgs)
}

func TestArityViolationAtRuntime(t *testing.T) {
	source := newMapSource(t, "Sheet1")
	source.formulas[CellAddress{Sheet: 1}] = "ABS(1,2)"
	v, err := NewEvaluator(source).Evaluate(CellAddress{Sheet: 1})
	require.Error(t, err, "stored text is checked against the evaluator's functions")
	assert.Equal(t, InvalidArgument, AppErrorCodeOf(err))
	assert.Equal(t, CellValue{}, v)

	// a tree parsed without functions is only checked when called
	node, err := Parse("ABS(1,2)", ParseContext{})
	require.NoError(t, err)
	v, err = NewEvaluator(source).EvaluateFormula(node, CellAddress{Sheet: 1})
	require.NoError(t, err)
	assert.Equal(t, ErrorValue(ErrorCodeValue), v)
}

func TestSetFormulaRejectsBadText(t *testing.T) {
	NewWorkbookTestCase(t, "bad formulas").
		Set("Sheet1!A1", "=ABS(1,2)").
		ExpectAppError(InvalidArgument).
		Set("Sheet1!A1", "=SUM(").
		ExpectAppError(InvalidArgument).
		Set("Sheet1!A1", "=").
		ExpectAppError(InvalidArgument).
		End()
}

func externalPair(t *testing.T, opts ...Option) (*WorkbookTestCase, *WorkbookTestCase) {
	other := NewWorkbookTestCase(t, "other").
		RenameWorksheet("Sheet1", "Data").
		Set("Data!A1", 7).
		Set("Data!A2", 8).
		DefineName("Rate", "Data!A2")
	main := NewWorkbookTestCase(t, "main", opts...)
	return main, other
}

func TestExternalWorkbook(t *testing.T) {
	main, other := externalPair(t)
	main.eval.RegisterExternalWorkbook("Other", other.eval)
	main.Set("Sheet1!A1", "=[Other]Data!A1*2").
		Set("Sheet1!A2", "=SUM([other]Data!A1:A2)").
		Set("Sheet1!A3", "=[Other]!Rate+1").
		Set("Sheet1!A4", "=[Other]Missing!A1").
		AssertCellEq("Sheet1!A1", 14).
		AssertCellEq("Sheet1!A2", 15).
		AssertCellEq("Sheet1!A3", 9).
		AssertCellErr("Sheet1!A4", ErrorCodeRef).
		End()
	other.End()
}

func TestExternalWorkbookUnavailable(t *testing.T) {
	main, _ := externalPair(t)
	main.Set("Sheet1!A1", "=[Other]Data!A1*2").
		Set("Sheet1!B1", "=A1+1").
		Set("Sheet1!C1", "=1+1")
	main.End()

	a1, _ := main.book.Cell("Sheet1!A1")
	_, err := main.eval.Evaluate(a1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkbookNotAvailable))
	assert.Equal(t, FailedPrecondition, AppErrorCodeOf(err))

	report := main.eval.EvaluateAll()
	require.Len(t, report.Failures, 2)
	assert.Equal(t, a1, report.Failures[0].Cell)
	c1, _ := main.book.Cell("Sheet1!C1")
	assert.Equal(t, NumberValue(2), report.Values[c1])
	cached, ok := main.book.CachedValue(c1)
	assert.True(t, ok)
	assert.Equal(t, NumberValue(2), cached)
}

func TestUntakenBranchesAreNotEvaluated(t *testing.T) {
	main, _ := externalPair(t)
	main.Set("Sheet1!A1", "=IF(TRUE,1,[Other]Data!A1)").
		Set("Sheet1!A2", "=IF(FALSE,[Other]Data!A1,2)").
		Set("Sheet1!A3", "=IFERROR(3,[Other]Data!A1)").
		Set("Sheet1!A4", "=IF(TRUE,4,A4)").
		Set("Sheet1!A5", "=IF(FALSE,A5)").
		Run().
		AssertCellEq("Sheet1!A1", 1).
		AssertCellEq("Sheet1!A2", 2).
		AssertCellEq("Sheet1!A3", 3).
		AssertCellEq("Sheet1!A4", 4).
		AssertCellEq("Sheet1!A5", false).
		End()

	a4, _ := main.book.Cell("Sheet1!A4")
	assert.Contains(t, main.eval.cache, a4, "an untaken self-reference does not make the cell circular")

	main.Set("Sheet1!B1", "=IF(TRUE,[Other]Data!A1,1)").End()
	b1, _ := main.book.Cell("Sheet1!B1")
	_, err := main.eval.Evaluate(b1)
	assert.ErrorIs(t, err, ErrWorkbookNotAvailable)
}

func TestExternalWorkbookCachedFallback(t *testing.T) {
	main, _ := externalPair(t, WithCachedValueFallback(true))
	main.Do(func(book *Workbook) error {
		a1, _ := book.Cell("Sheet1!A1")
		return book.SetCachedFormula(a1, "=[Other]Data!A1*2", NumberValue(99))
	}).
		Set("Sheet1!B1", "=A1+1").
		Set("Sheet1!C1", "=[Other]Data!A2").
		AssertCellEq("Sheet1!A1", 99).
		AssertCellEq("Sheet1!B1", 100).
		End()

	// without a saved result there is nothing to fall back on
	c1, _ := main.book.Cell("Sheet1!C1")
	_, err := main.eval.Evaluate(c1)
	assert.ErrorIs(t, err, ErrWorkbookNotAvailable)
}

func TestExternalWorkbookCycle(t *testing.T) {
	registry := NewWorkbookRegistry()
	left := NewWorkbookTestCase(t, "left", WithWorkbookRegistry(registry))
	right := NewWorkbookTestCase(t, "right", WithWorkbookRegistry(registry))
	registry.Register("Left", left.eval)
	registry.Register("Right", right.eval)

	left.Set("Sheet1!A1", "=[Right]Sheet1!A1").End()
	right.Set("Sheet1!A1", "=[Left]Sheet1!A1").End()
	left.AssertCellErr("Sheet1!A1", ErrorCodeCircular).End()

	_, ok := registry.Resolve("LEFT")
	assert.True(t, ok)
	registry.Unregister("left")
	_, ok = registry.Resolve("Left")
	assert.False(t, ok)
}

func TestResolveCell(t *testing.T) {
	tc := NewWorkbookTestCase(t, "resolve")
	addr, err := tc.eval.ResolveCell("sheet1", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!C5", AddressText(tc.book, addr))

	_, err = tc.eval.ResolveCell("Nope", 0, 0)
	assert.Equal(t, NotFound, AppErrorCodeOf(err))
	_, err = tc.eval.ResolveCell("Sheet1", Excel2007.MaxRows, 0)
	assert.Equal(t, OutOfRange, AppErrorCodeOf(err))
}

func TestEvaluatorLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	main, _ := externalPair(t, WithLogger(logger))
	main.Set("Sheet1!A1", "=[Other]Data!A1").End()
	main.eval.EvaluateAll()
	assert.Contains(t, buf.String(), "cell evaluation failed")
	assert.Contains(t, buf.String(), "cell=Sheet1!A1")
}

// mapSource is a CellSource holding formula text rather than parsed trees.
type mapSource struct {
	*SheetTable
	formulas map[CellAddress]string
	values   map[CellAddress]CellValue
	names    map[string]Reference
}

func newMapSource(t *testing.T, sheets ...string) *mapSource {
	return &mapSource{
		SheetTable: newTestSheets(t, sheets...),
		formulas:   make(map[CellAddress]string),
		values:     make(map[CellAddress]CellValue),
		names:      make(map[string]Reference),
	}
}

func (s *mapSource) FormulaText(addr CellAddress) (string, bool) {
	text, ok := s.formulas[addr]
	return text, ok
}

func (s *mapSource) CachedValue(addr CellAddress) (CellValue, bool) {
	v, ok := s.values[addr]
	return v, ok
}

func (s *mapSource) SetCachedValue(addr CellAddress, v CellValue) {
	s.values[addr] = v
}

func (s *mapSource) NamedRange(name string, _ SheetID) (Reference, bool) {
	ref, ok := s.names[name]
	return ref, ok
}

func (s *mapSource) FormulaCells() iter.Seq[CellAddress] {
	return maps.Keys(s.formulas)
}

func TestEvaluateFormulaText(t *testing.T) {
	source := newMapSource(t, "Sheet1", "Sheet2")
	a := func(sheet SheetID, row, col int) CellAddress { return CellAddress{Sheet: sheet, Row: row, Col: col} }
	source.values[a(1, 0, 0)] = NumberValue(4)
	source.values[a(2, 0, 0)] = NumberValue(6)
	source.formulas[a(1, 0, 1)] = "A1*2"
	source.formulas[a(2, 0, 1)] = "A1*2"
	source.formulas[a(1, 1, 1)] = "B1+Sheet2!B1"
	source.formulas[a(1, 2, 1)] = "1+"

	ev := NewEvaluator(source)
	report := ev.EvaluateAll()
	assert.Equal(t, NumberValue(8), report.Values[a(1, 0, 1)])
	assert.Equal(t, NumberValue(12), report.Values[a(2, 0, 1)])
	assert.Equal(t, NumberValue(20), report.Values[a(1, 1, 1)])
	require.Len(t, report.Failures, 1)
	assert.Equal(t, a(1, 2, 1), report.Failures[0].Cell)
	assert.Equal(t, InvalidArgument, AppErrorCodeOf(report.Failures[0].Err))
	var perr *ParseError
	assert.ErrorAs(t, report.Failures[0].Err, &perr)

	// results are written back to the source
	assert.Equal(t, NumberValue(20), source.values[a(1, 1, 1)])
	// both cells holding "A1*2" share one parsed tree
	assert.Equal(t, 2, ev.parsed.Count())
}

func TestCalculationStack(t *testing.T) {
	cs := NewCalculationStack()
	a, b, c := CellAddress{Row: 0}, CellAddress{Row: 1}, CellAddress{Row: 2}
	cs.push(a)
	cs.push(b)
	cs.push(c)
	assert.Equal(t, 1, cs.indexOf(b))
	assert.Equal(t, -1, cs.indexOf(CellAddress{Row: 9}))

	cs.markCycle(1)
	cs.markVolatile()
	top := cs.pop()
	assert.True(t, top.cyclic)
	assert.True(t, top.volatile)
	mid := cs.pop()
	assert.True(t, mid.cyclic)
	assert.True(t, mid.volatile, "volatility passes down the stack")
	bottom := cs.pop()
	assert.False(t, bottom.cyclic)
	assert.True(t, bottom.volatile)
	assert.Equal(t, 0, cs.depth())
}

func TestSharedFormulaAcrossColumns(t *testing.T) {
	NewWorkbookTestCase(t, "shared over B3:D3").
		Set("Sheet1!B1", 1).Set("Sheet1!B2", 2).
		Set("Sheet1!C1", 1).Set("Sheet1!C2", 2).
		Set("Sheet1!D1", 1).Set("Sheet1!D2", 2).
		Do(func(book *Workbook) error {
			anchor, _ := book.Cell("Sheet1!B3")
			_, err := book.SetSharedFormula(anchor, AreaRef{FirstRow: 2, LastRow: 2, FirstCol: 1, LastCol: 3}, "B1+B2")
			return err
		}).
		AssertCellEq("Sheet1!B3", 3.0).
		AssertCellEq("Sheet1!C3", 3.0).
		AssertCellEq("Sheet1!D3", 3.0).
		AssertFormula("Sheet1!D3", "D1+D2").
		// overwriting the master leaves the others computing the same values
		Set("Sheet1!B3", "=0").
		AssertCellEq("Sheet1!C3", 3.0).
		AssertCellEq("Sheet1!D3", 3.0).
		End()
}

func TestCountAcrossSheetColumns(t *testing.T) {
	threeSheetCase(t, "COUNTA over columns").
		Set("Jan!B2", "x").
		Set("Feb!B7", "y").
		Set("Mar!B1", "z").
		Set("Summary!A1", "=COUNTA(Jan:Mar!B:B)").
		Set("Summary!A2", "=COUNTA(Jan:Mar!C:C)").
		Set("Summary!A3", "=E4+E5").
		Set("Summary!E4", "=E4+E5").
		Set("Summary!E5", "=E4").
		AssertCellEq("Summary!A1", 3.0).
		AssertCellEq("Summary!A2", 0.0).
		AssertCellErr("Summary!E4", ErrorCodeCircular).
		AssertCellErr("Summary!E5", ErrorCodeCircular).
		AssertCellErr("Summary!A3", ErrorCodeCircular).
		End()
}
