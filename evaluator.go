package formula

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// maxNameDepth bounds chains of names defined in terms of other names.
const maxNameDepth = 32

// Evaluator computes cell values on demand. results are cached per cell
// until a write or structural edit invalidates them. an Evaluator is not
// safe for concurrent use; independent workbooks get independent
// evaluators.
type Evaluator struct {
	source    CellSource
	formulas  FormulaSource
	usedRange UsedRangeSource

	functions *FunctionRegistry
	workbooks *WorkbookRegistry
	opts      options
	log       *slog.Logger

	cache      map[CellAddress]cacheEntry
	generation uint64
	parsed     *FormulaTable
	stack      *CalculationStack
}

type cacheEntry struct {
	value      CellValue
	generation uint64
}

// CellFailure is a cell EvaluateAll could not evaluate.
type CellFailure struct {
	Cell CellAddress
	Err  error
}

// Report is the outcome of EvaluateAll.
type Report struct {
	Values   map[CellAddress]CellValue
	Failures []CellFailure
}

// NewEvaluator creates an evaluator over source. if source also implements
// FormulaSource, UsedRangeSource or EditNotifier those are used too.
func NewEvaluator(source CellSource, opts ...Option) *Evaluator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.functions == nil {
		o.functions = NewDefaultFunctionRegistry()
	}
	if o.workbooks == nil {
		o.workbooks = NewWorkbookRegistry()
	}
	e := &Evaluator{
		source:    source,
		functions: o.functions,
		workbooks: o.workbooks,
		opts:      o,
		log:       o.logger,
		cache:     make(map[CellAddress]cacheEntry),
		parsed:    NewFormulaTable(),
		stack:     NewCalculationStack(),
	}
	e.formulas, _ = source.(FormulaSource)
	e.usedRange, _ = source.(UsedRangeSource)
	if notifier, ok := source.(EditNotifier); ok {
		notifier.OnStructuralEdit(e.onEdit)
	}
	return e
}

func (e *Evaluator) onEdit(edit Edit) {
	switch edit.Kind {
	case EditStructural:
		e.ClearCache()
	case EditCellWrite:
		e.Invalidate(edit.Cell)
	}
}

// Invalidate drops the cached value of addr. formula results computed
// before the call are recomputed on their next read, since any of them may
// depend on addr.
func (e *Evaluator) Invalidate(addr CellAddress) {
	delete(e.cache, addr)
	e.generation++
}

// ClearCache drops every cached value and parsed formula.
func (e *Evaluator) ClearCache() {
	clear(e.cache)
	e.parsed.Clear()
	e.generation++
}

// RegisterFunction adds or replaces a function for this evaluator.
func (e *Evaluator) RegisterFunction(name string, fn Function) {
	e.functions.Register(name, fn)
	e.generation++
}

// RegisterExternalWorkbook links the id used in [id]Sheet!A1 references to
// another evaluator.
func (e *Evaluator) RegisterExternalWorkbook(id string, other *Evaluator) {
	e.workbooks.Register(id, other)
	e.generation++
}

// Functions returns the registry the evaluator calls into.
func (e *Evaluator) Functions() *FunctionRegistry {
	return e.functions
}

// ResolveCell maps a sheet name and zero-based coordinates to an address.
func (e *Evaluator) ResolveCell(sheetName string, row, col int) (CellAddress, error) {
	id, ok := e.source.SheetID(sheetName)
	if !ok || !slices.Contains(e.source.SheetOrder(), id) {
		return CellAddress{}, NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", sheetName))
	}
	if !inGrid(row, e.opts.limits.MaxRows) || !inGrid(col, e.opts.limits.MaxCols) {
		return CellAddress{}, NewApplicationError(OutOfRange, fmt.Sprintf("cell %d,%d is outside the sheet", row, col))
	}
	return CellAddress{Sheet: id, Row: row, Col: col}, nil
}

// ParseFormula parses text as it would be parsed for a formula stored at
// host, checking argument counts against this evaluator's functions.
func (e *Evaluator) ParseFormula(text string, host CellAddress) (Node, error) {
	return Parse(text, e.parseContext(host))
}

func (e *Evaluator) parseContext(host CellAddress) ParseContext {
	return ParseContext{Sheets: e.source, Cell: host, Functions: e.functions, Limits: e.opts.limits}
}

// Evaluate returns the value of a cell. formula errors such as #DIV/0! are
// values, not errors; an error is returned only when the formula cannot be
// evaluated at all: its text does not parse, it reads from an unavailable
// workbook, or its shared formula group is inconsistent.
func (e *Evaluator) Evaluate(addr CellAddress) (CellValue, error) {
	return e.evaluateCell(addr)
}

// EvaluateFormula evaluates a tree as if it were stored at host. the
// result is not cached.
func (e *Evaluator) EvaluateFormula(node Node, host CellAddress) (CellValue, error) {
	v, err := e.eval(node, host)
	if err != nil {
		return CellValue{}, err
	}
	if v.IsBlank() {
		return NumberValue(0), nil
	}
	return v, nil
}

// EvaluateAll evaluates every formula cell in sheet order, storing each
// result back into the source. a failing cell is recorded and skipped.
func (e *Evaluator) EvaluateAll() *Report {
	order := e.source.SheetOrder()
	position := make(map[SheetID]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	var cells []CellAddress
	for addr := range e.source.FormulaCells() {
		cells = append(cells, addr)
	}
	slices.SortFunc(cells, func(a, b CellAddress) int {
		return cmp.Or(
			cmp.Compare(position[a.Sheet], position[b.Sheet]),
			cmp.Compare(a.Row, b.Row),
			cmp.Compare(a.Col, b.Col),
		)
	})

	report := &Report{Values: make(map[CellAddress]CellValue, len(cells))}
	for _, addr := range cells {
		v, err := e.evaluateCell(addr)
		if err != nil {
			e.log.Warn("cell evaluation failed", "cell", e.logAddr(addr), "error", err)
			report.Failures = append(report.Failures, CellFailure{Cell: addr, Err: err})
			continue
		}
		e.source.SetCachedValue(addr, v)
		report.Values[addr] = v
	}
	e.log.Info("evaluated workbook", "cells", len(cells), "failures", len(report.Failures))
	return report
}

func (e *Evaluator) evaluateCell(addr CellAddress) (CellValue, error) {
	if entry, ok := e.cache[addr]; ok && entry.generation == e.generation {
		return entry.value, nil
	}
	root, isFormula, err := e.formulaAt(addr)
	if err != nil {
		return CellValue{}, err
	}
	if !isFormula {
		v, _ := e.source.CachedValue(addr)
		return v, nil
	}
	if i := e.stack.indexOf(addr); i >= 0 {
		e.stack.markCycle(i)
		e.log.Debug("circular reference", "cell", e.logAddr(addr), "depth", e.stack.depth())
		return ErrorValue(ErrorCodeCircular), nil
	}

	e.log.Debug("evaluating cell", "cell", e.logAddr(addr))
	e.stack.push(addr)
	v, err := e.eval(root, addr)
	top := e.stack.pop()
	if err != nil {
		if e.opts.fallback && errors.Is(err, ErrWorkbookNotAvailable) {
			if cached, ok := e.source.CachedValue(addr); ok {
				e.log.Info("using cached value", "cell", e.logAddr(addr), "reason", err)
				return cached, nil
			}
		}
		return CellValue{}, err
	}
	if v.IsBlank() {
		v = NumberValue(0)
	}
	if !top.cyclic && !top.volatile {
		e.cache[addr] = cacheEntry{value: v, generation: e.generation}
	}
	return v, nil
}

// formulaAt returns the tree to evaluate for addr, and false when the cell
// holds a plain value.
func (e *Evaluator) formulaAt(addr CellAddress) (Node, bool, error) {
	if e.formulas != nil {
		f, ok := e.formulas.Formula(addr)
		if !ok {
			return nil, false, nil
		}
		if !f.IsShared() {
			return f.Root, true, nil
		}
		master, ok := e.formulas.SharedGroup(f.Group)
		if !ok {
			return nil, true, NewApplicationError(Internal, fmt.Sprintf("shared formula group %d of %s does not exist", f.Group, AddressText(e.source, addr)))
		}
		node, err := expandWithin(master, addr, e.opts.limits)
		return node, true, err
	}
	text, ok := e.source.FormulaText(addr)
	if !ok {
		return nil, false, nil
	}
	node, err := e.parsed.Intern(text, e.parseContext(addr))
	if err != nil {
		return nil, true, wrapApplicationError(InvalidArgument, err, "formula in %s", AddressText(e.source, addr))
	}
	return node, true, nil
}

// eval evaluates a node to a single value. an area in scalar position is
// #VALUE! unless it covers exactly one cell.
func (e *Evaluator) eval(node Node, host CellAddress) (CellValue, error) {
	switch n := node.(type) {
	case *NumberNode:
		return NumberValue(n.Value), nil
	case *StringNode:
		return TextValue(n.Value), nil
	case *BooleanNode:
		return BoolValue(n.Value), nil
	case *ErrorNode:
		return ErrorValue(n.Code), nil
	case *RefErrorNode:
		return ErrorValue(ErrorCodeRef), nil
	case *MissingArgNode:
		return Blank(), nil
	case *ParenNode:
		return e.eval(n.Inner, host)
	case *UnaryNode:
		v, err := e.eval(n.Operand, host)
		if err != nil {
			return CellValue{}, err
		}
		return applyUnary(n.Op, v), nil
	case *BinaryNode:
		l, err := e.eval(n.Left, host)
		if err != nil {
			return CellValue{}, err
		}
		r, err := e.eval(n.Right, host)
		if err != nil {
			return CellValue{}, err
		}
		return applyBinary(n.Op, l, r), nil
	case *FunctionNode:
		return e.call(n, host)
	case *RefNode, *NameNode:
		arg, err := e.evalArg(node, host)
		if err != nil {
			return CellValue{}, err
		}
		return scalarOf(arg), nil
	}
	return ErrorValue(ErrorCodeValue), nil
}

func scalarOf(arg Arg) CellValue {
	if !arg.IsRange() {
		return arg.Value
	}
	if v, ok := singleCell(arg.Range); ok {
		return v
	}
	return ErrorValue(ErrorCodeValue)
}

func singleCell(rng Range) (CellValue, bool) {
	if rng.Sheets() != 1 || rng.Rows() != 1 || rng.Cols() != 1 {
		return CellValue{}, false
	}
	return rng.Value(0, 0, 0), true
}

// evalArg evaluates a function argument, keeping areas as ranges.
func (e *Evaluator) evalArg(node Node, host CellAddress) (Arg, error) {
	switch n := node.(type) {
	case *RefNode:
		return e.resolveRef(n.Ref, host, 0)
	case *NameNode:
		return e.resolveRef(NameRef{Name: n.Name}, host, 0)
	case *ParenNode:
		return e.evalArg(n.Inner, host)
	case *MissingArgNode:
		return Arg{Missing: true}, nil
	}
	v, err := e.eval(node, host)
	return Arg{Value: v}, err
}

func (e *Evaluator) call(n *FunctionNode, host CellAddress) (CellValue, error) {
	fn, ok := e.functions.Lookup(n.Name)
	if !ok {
		return ErrorValue(ErrorCodeName), nil
	}
	if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
		return ErrorValue(ErrorCodeValue), nil
	}
	if fn.Volatile {
		e.stack.markVolatile()
	}
	args := make([]Arg, len(n.Args))
	for i, node := range n.Args {
		if fn.Lazy {
			args[i].pending = func() (Arg, error) { return e.functionArg(fn, node, host) }
			continue
		}
		arg, err := e.functionArg(fn, node, host)
		if err != nil {
			return CellValue{}, err
		}
		if arg.IsRange() && !fn.AcceptsRanges {
			return ErrorValue(ErrorCodeValue), nil
		}
		args[i] = arg
	}
	ctx := &CallContext{Cell: host, Clock: e.opts.clock, Rand: e.opts.rand}
	v := e.invoke(n.Name, fn, ctx, args)
	if ctx.err != nil {
		return CellValue{}, ctx.err
	}
	return v, nil
}

// functionArg evaluates one argument for fn. a single-cell area passed to a
// function that does not accept ranges is read as that cell; a larger one is
// left as a range for the caller to reject.
func (e *Evaluator) functionArg(fn Function, node Node, host CellAddress) (Arg, error) {
	arg, err := e.evalArg(node, host)
	if err != nil || !arg.IsRange() || fn.AcceptsRanges {
		return arg, err
	}
	if v, single := singleCell(arg.Range); single {
		return Arg{Value: v, Ref: arg.Ref}, nil
	}
	if fn.Lazy {
		return Arg{Value: ErrorValue(ErrorCodeValue)}, nil
	}
	return arg, nil
}

// invoke runs a function implementation. a panic inside it becomes #VALUE!
// for the calling cell.
func (e *Evaluator) invoke(name string, fn Function, ctx *CallContext, args []Arg) (v CellValue) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("function panicked", "function", name, "cell", e.logAddr(ctx.Cell), "panic", r)
			v = ErrorValue(ErrorCodeValue)
		}
	}()
	return fn.Impl(ctx, args)
}

// sheetDefined reports whether id names a sheet that currently exists.
func (e *Evaluator) sheetDefined(id SheetID) bool {
	return slices.Contains(e.source.SheetOrder(), id)
}

// resolveRef reads the cells a reference points at. host supplies the
// sheet of unqualified references.
func (e *Evaluator) resolveRef(ref Reference, host CellAddress, depth int) (Arg, error) {
	switch r := ref.(type) {
	case CellRef:
		sheet := cmp.Or(r.Sheet, host.Sheet)
		if !e.sheetDefined(sheet) {
			return Arg{Value: ErrorValue(ErrorCodeRef), Ref: ref}, nil
		}
		v, err := e.evaluateCell(CellAddress{Sheet: sheet, Row: r.Row, Col: r.Col})
		return Arg{Value: v, Ref: ref}, err
	case AreaRef:
		sheet := cmp.Or(r.Sheet, host.Sheet)
		if !e.sheetDefined(sheet) {
			return Arg{Value: ErrorValue(ErrorCodeRef), Ref: ref}, nil
		}
		rng, err := e.readArea([]SheetID{sheet}, r)
		return Arg{Range: rng, Ref: ref}, err
	case Range3DRef:
		sheets, ok := e.sheetSpan(r.FirstSheet, r.LastSheet)
		if !ok {
			return Arg{Value: ErrorValue(ErrorCodeRef), Ref: ref}, nil
		}
		area, ok := asArea(r.Inner)
		if !ok {
			return Arg{Value: ErrorValue(ErrorCodeRef), Ref: ref}, nil
		}
		rng, err := e.readArea(sheets, area)
		return Arg{Range: rng, Ref: ref}, err
	case ExternalRef:
		return e.resolveExternal(r)
	case NameRef:
		if depth >= maxNameDepth {
			return Arg{Value: ErrorValue(ErrorCodeName)}, nil
		}
		target, ok := e.source.NamedRange(r.Name, host.Sheet)
		if !ok {
			return Arg{Value: ErrorValue(ErrorCodeName)}, nil
		}
		if target == nil {
			return Arg{Value: ErrorValue(ErrorCodeRef)}, nil
		}
		return e.resolveRef(target, host, depth+1)
	}
	return Arg{Value: ErrorValue(ErrorCodeRef)}, nil
}

// sheetSpan lists the sheets between two endpoints, inclusive, in their
// current workbook order.
func (e *Evaluator) sheetSpan(first, last SheetID) ([]SheetID, bool) {
	order := e.source.SheetOrder()
	pf, pl := slices.Index(order, first), slices.Index(order, last)
	if pf < 0 || pl < 0 {
		return nil, false
	}
	lo, hi := min(pf, pl), max(pf, pl)
	return order[lo : hi+1], true
}

// readArea evaluates every cell of area on each sheet. whole rows and
// columns stop at the used range when the source can report one.
func (e *Evaluator) readArea(sheets []SheetID, area AreaRef) (*gridRange, error) {
	storedRows, storedCols := area.Rows(), area.Cols()
	if e.usedRange != nil {
		lastRow, lastCol := -1, -1
		for _, sheet := range sheets {
			if r, c, ok := e.usedRange.UsedRange(sheet); ok {
				lastRow, lastCol = max(lastRow, r), max(lastCol, c)
			}
		}
		storedRows = max(0, min(area.LastRow, lastRow)-area.FirstRow+1)
		storedCols = max(0, min(area.LastCol, lastCol)-area.FirstCol+1)
	}
	rng := newGridRange(len(sheets), area.Rows(), area.Cols(), storedRows, storedCols)
	for s, sheet := range sheets {
		for r := range storedRows {
			for c := range storedCols {
				v, err := e.evaluateCell(CellAddress{Sheet: sheet, Row: area.FirstRow + r, Col: area.FirstCol + c})
				if err != nil {
					return nil, err
				}
				rng.set(s, r, c, v)
			}
		}
	}
	return rng, nil
}

// resolveExternal reads a reference into a linked workbook through that
// workbook's own evaluator.
func (e *Evaluator) resolveExternal(r ExternalRef) (Arg, error) {
	other, ok := e.workbooks.Resolve(r.Workbook)
	if !ok {
		return Arg{}, wrapApplicationError(FailedPrecondition, ErrWorkbookNotAvailable, "external workbook [%s]", r.Workbook)
	}
	if name, isName := r.Inner.(NameRef); isName {
		arg, err := other.resolveRef(name, CellAddress{}, 0)
		arg.Ref = r
		return arg, err
	}
	first, ok := other.source.SheetID(r.FirstSheet)
	if !ok || !other.sheetDefined(first) {
		return Arg{Value: ErrorValue(ErrorCodeRef), Ref: r}, nil
	}
	local := r.Inner
	if r.LastSheet != "" {
		last, ok := other.source.SheetID(r.LastSheet)
		if !ok {
			return Arg{Value: ErrorValue(ErrorCodeRef), Ref: r}, nil
		}
		local = Range3DRef{FirstSheet: first, LastSheet: last, Inner: r.Inner}
	}
	arg, err := other.resolveRef(local, CellAddress{Sheet: first}, 0)
	arg.Ref = r
	return arg, err
}

// AddressText renders an address as Sheet!A1 for messages and output.
func AddressText(sheets SheetResolver, addr CellAddress) string {
	return sheetPrefix("", sheetName(sheets, addr.Sheet), "") + cellText(addr.Row, addr.Col, false, false)
}

// logAddr defers rendering an address until a log record is written.
func (e *Evaluator) logAddr(addr CellAddress) slog.LogValuer {
	return addrLogValue{sheets: e.source, addr: addr}
}

type addrLogValue struct {
	sheets SheetResolver
	addr   CellAddress
}

func (v addrLogValue) LogValue() slog.Value {
	return slog.StringValue(AddressText(v.sheets, v.addr))
}
