package formula

import (
	"iter"
	"maps"
	"slices"
	"sync"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (WallClock) Now() time.Time {
	return time.Now()
}

// Range is an area argument handed to a function. 3-D ranges have more
// than one sheet; Value indexes are zero-based within the range.
type Range interface {
	Sheets() int
	Rows() int
	Cols() int
	Value(sheet, row, col int) CellValue
	// IterateValues walks every cell, sheet by sheet, row by row.
	IterateValues() iter.Seq[CellValue]
}

// Arg is one evaluated function argument: either a scalar Value or a Range.
type Arg struct {
	Value CellValue
	Range Range
	// Ref is the reference the argument was read from, if any.
	Ref Reference
	// Missing is set for an omitted argument such as the middle of IF(A1,,1).
	Missing bool

	// pending evaluates the argument of a Lazy function on first use.
	pending func() (Arg, error)
}

func (a Arg) IsRange() bool { return a.Range != nil }

// FromRef reports whether a scalar argument was read from a cell rather than
// written as a literal. aggregate functions treat the two differently.
func (a Arg) FromRef() bool { return a.Ref != nil }

// CallContext is passed to every function call.
type CallContext struct {
	Cell  CellAddress
	Clock Clock
	Rand  RandomGenerator

	// err is the first evaluation failure met by Arg.
	err error
}

// Arg returns args[i]. a Lazy function's arguments are evaluated here, the
// first time they are asked for. a failure to evaluate fails the calling
// cell and reads as #VALUE!.
func (c *CallContext) Arg(args []Arg, i int) Arg {
	if args[i].pending == nil {
		return args[i]
	}
	arg, err := args[i].pending()
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		arg = Arg{Value: ErrorValue(ErrorCodeValue)}
	}
	args[i] = arg
	return arg
}

// FunctionImpl computes a function's result. errors are returned as
// ErrorValue results, never as Go errors.
type FunctionImpl func(ctx *CallContext, args []Arg) CellValue

// Function describes a registered function.
type Function struct {
	Impl    FunctionImpl
	MinArgs int
	MaxArgs int // -1 for no upper bound
	// AcceptsRanges allows area and 3-D arguments. a function without it
	// receives #VALUE! instead of being called when given an area.
	AcceptsRanges bool
	Volatile      bool
	// Lazy defers argument evaluation to CallContext.Arg, so branches that
	// are never read are never evaluated.
	Lazy bool
}

// FunctionRegistry maps function names to implementations. names are
// matched case-insensitively. it is safe for concurrent use.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]registeredFunction
}

type registeredFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]registeredFunction)}
}

// NewDefaultFunctionRegistry creates a registry holding the built-in
// functions.
func NewDefaultFunctionRegistry() *FunctionRegistry {
	r := NewFunctionRegistry()
	registerBuiltins(r)
	return r
}

// Register adds or replaces a function.
func (r *FunctionRegistry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[foldName(name)] = registeredFunction{name: name, fn: fn}
}

// RegisterFunc registers a scalar function taking any number of arguments.
func (r *FunctionRegistry) RegisterFunc(name string, impl FunctionImpl) {
	r.Register(name, Function{Impl: impl, MinArgs: 0, MaxArgs: -1})
}

func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.funcs[foldName(name)]
	return entry.fn, ok
}

// Names returns the registered names in sorted order.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for _, entry := range r.funcs {
		names = append(names, entry.name)
	}
	slices.Sort(names)
	return names
}

// Clone returns an independent copy, so one evaluator can override
// functions without affecting another.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &FunctionRegistry{funcs: maps.Clone(r.funcs)}
}

// WorkbookRegistry maps external workbook ids, as written between square
// brackets in a reference, to the evaluators that can answer for them.
type WorkbookRegistry struct {
	mu         sync.RWMutex
	evaluators map[string]*Evaluator
}

func NewWorkbookRegistry() *WorkbookRegistry {
	return &WorkbookRegistry{evaluators: make(map[string]*Evaluator)}
}

// Register links id to an evaluator, replacing any earlier link.
func (r *WorkbookRegistry) Register(id string, ev *Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[foldName(id)] = ev
}

func (r *WorkbookRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.evaluators, foldName(id))
}

func (r *WorkbookRegistry) Resolve(id string) (*Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.evaluators[foldName(id)]
	return ev, ok
}
