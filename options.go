package formula

import (
	"log/slog"
)

type options struct {
	logger    *slog.Logger
	clock     Clock
	rand      RandomGenerator
	functions *FunctionRegistry
	workbooks *WorkbookRegistry
	fallback  bool
	limits    GridLimits
}

// Option configures an Evaluator.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger: slog.New(slog.DiscardHandler),
		clock:  WallClock{},
		rand:   DefaultRandomGenerator{},
		limits: Excel2007,
	}
}

// WithLogger sets the logger. by default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used by NOW and TODAY.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRandom sets the generator used by RAND.
func WithRandom(rng RandomGenerator) Option {
	return func(o *options) {
		o.rand = rng
	}
}

// WithFunctions replaces the built-in function set. the registry is used as
// given, so functions registered on it later are seen by the evaluator.
func WithFunctions(functions *FunctionRegistry) Option {
	return func(o *options) {
		o.functions = functions
	}
}

// WithWorkbookRegistry shares one set of external workbook links between
// evaluators.
func WithWorkbookRegistry(workbooks *WorkbookRegistry) Option {
	return func(o *options) {
		o.workbooks = workbooks
	}
}

// WithCachedValueFallback makes a formula that reads from an unavailable
// workbook return its cached value instead of failing.
func WithCachedValueFallback(enabled bool) Option {
	return func(o *options) {
		o.fallback = enabled
	}
}

// WithGridLimits sets the sheet size used when parsing stored formula text
// and expanding shared formulas.
func WithGridLimits(limits GridLimits) Option {
	return func(o *options) {
		o.limits = limits.orDefault()
	}
}

type workbookOptions struct {
	limits    GridLimits
	logger    *slog.Logger
	functions *FunctionRegistry
}

// WorkbookOption configures a Workbook.
type WorkbookOption func(*workbookOptions)

// WithWorkbookLimits sets the grid size of every sheet in the workbook.
func WithWorkbookLimits(limits GridLimits) WorkbookOption {
	return func(o *workbookOptions) {
		o.limits = limits.orDefault()
	}
}

// WithWorkbookLogger sets the logger used for structural edits.
func WithWorkbookLogger(logger *slog.Logger) WorkbookOption {
	return func(o *workbookOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkbookFunctions sets the registry formulas are checked against when
// they are stored. argument counts of unknown functions are not checked.
func WithWorkbookFunctions(functions *FunctionRegistry) WorkbookOption {
	return func(o *workbookOptions) {
		o.functions = functions
	}
}
