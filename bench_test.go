package formula

import (
	"fmt"
	"testing"
)

type benchBook struct {
	b    *testing.B
	book *Workbook
	eval *Evaluator
}

func newBenchBook(b *testing.B, sheets ...string) *benchBook {
	book := NewWorkbook()
	for _, name := range sheets {
		if _, err := book.AddSheet(name); err != nil {
			b.Fatal(err)
		}
	}
	return &benchBook{b: b, book: book, eval: NewEvaluator(book)}
}

func (bb *benchBook) set(address string, value any) {
	addr, err := bb.book.Cell(address)
	if err != nil {
		bb.b.Fatal(err)
	}
	switch v := value.(type) {
	case string:
		err = bb.book.SetFormula(addr, v)
	case float64:
		err = bb.book.SetValue(addr, NumberValue(v))
	}
	if err != nil {
		bb.b.Fatal(err)
	}
}

// calculate evaluates everything from scratch.
func (bb *benchBook) calculate() {
	bb.eval.ClearCache()
	if report := bb.eval.EvaluateAll(); len(report.Failures) > 0 {
		bb.b.Fatal(report.Failures[0].Err)
	}
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		bb := newBenchBook(b, "Sheet1")
		for row := 1; row <= 100; row++ {
			for col := 1; col <= 26; col++ {
				bb.set(fmt.Sprintf("Sheet1!%c%d", 'A'+col-1, row), float64(row*col))
			}
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	bb.set("Sheet1!A1", 1.0)
	for i := 2; i <= 100; i++ {
		bb.set(fmt.Sprintf("Sheet1!A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.calculate()
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	bb.set("Sheet1!A1", 100.0)
	for i := 2; i <= 500; i++ {
		bb.set(fmt.Sprintf("Sheet1!B%d", i), "=A1*2")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.set("Sheet1!A1", float64(i))
		bb.eval.EvaluateAll()
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	for i := 1; i <= 1000; i++ {
		bb.set(fmt.Sprintf("Sheet1!A%d", i), float64(i))
	}
	bb.set("Sheet1!B1", "=SUM(A1:A1000)")
	bb.set("Sheet1!B2", "=SUM(A:A)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.calculate()
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	for i := 1; i <= 20; i++ {
		bb.set(fmt.Sprintf("Sheet1!A%d", i), float64(i))
		bb.set(fmt.Sprintf("Sheet1!B%d", i), float64(i*2))
	}
	bb.set("Sheet1!C1", "=IF(AVERAGE(A1:A20)>10, SUM(B1:B20), MAX(A1:A20))")
	bb.set("Sheet1!D1", "=ROUND(SQRT(C1)*PI(), 2)")
	bb.set("Sheet1!E1", "=IF(D1>100, INDEX(A1:A20, 10), MIN(B1:B20))")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.calculate()
	}
}

func BenchmarkVolatileFunctions(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	for i := 1; i <= 50; i++ {
		bb.set(fmt.Sprintf("Sheet1!A%d", i), "=RAND()")
		bb.set(fmt.Sprintf("Sheet1!B%d", i), fmt.Sprintf("=A%d*100", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.eval.EvaluateAll()
	}
}

func BenchmarkThreeDimensionalSUM(b *testing.B) {
	sheets := []string{"Summary"}
	for i := 1; i <= 12; i++ {
		sheets = append(sheets, fmt.Sprintf("Month%d", i))
	}
	bb := newBenchBook(b, sheets...)
	for _, sheet := range sheets[1:] {
		for row := 1; row <= 50; row++ {
			bb.set(fmt.Sprintf("%s!A%d", sheet, row), float64(row))
		}
	}
	bb.set("Summary!A1", "=SUM(Month1:Month12!A1:A50)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.calculate()
	}
}

func BenchmarkParse(b *testing.B) {
	st := NewSheetTable()
	if _, err := st.DefineSheet("Data"); err != nil {
		b.Fatal(err)
	}
	ctx := ParseContext{Sheets: st, Functions: NewDefaultFunctionRegistry()}
	const text = `IF(SUM(Data!$A$1:$A$100)>10, VLOOKUP(B2, Data!A1:C100, 3, FALSE), "none")&" units"`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(text, ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkInsertRows(b *testing.B) {
	bb := newBenchBook(b, "Sheet1")
	for i := 1; i <= 200; i++ {
		bb.set(fmt.Sprintf("Sheet1!A%d", i), float64(i))
		bb.set(fmt.Sprintf("Sheet1!B%d", i), fmt.Sprintf("=SUM($A$1:A%d)", i))
	}
	id, _ := bb.book.SheetID("Sheet1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := bb.book.InsertRows(id, 0, 1); err != nil {
			b.Fatal(err)
		}
		if err := bb.book.DeleteRows(id, 0, 1); err != nil {
			b.Fatal(err)
		}
	}
}
