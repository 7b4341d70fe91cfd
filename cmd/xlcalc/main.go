// Command xlcalc evaluates the formulas of an .xlsx workbook and prints
// each result as Sheet!A1<TAB>value.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/xlsxsource"
)

// links collects repeated --link id=path flags.
type links map[string]string

func (l links) String() string {
	pairs := make([]string, 0, len(l))
	for id, path := range l {
		pairs = append(pairs, id+"="+path)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

func (l links) Set(value string) error {
	id, path, ok := strings.Cut(value, "=")
	if !ok || id == "" || path == "" {
		return errors.New("want id=path")
	}
	l[id] = path
	return nil
}

func (l links) Type() string { return "id=path" }

type config struct {
	cell     string
	fallback bool
	verbose  bool
	output   string
	links    links
	book     string
}

var errCellsFailed = errors.New("some cells failed to evaluate")

func main() {
	if err := newCommand(execute).Execute(); err != nil {
		os.Exit(1)
	}
}

// newCommand builds the xlcalc command. exec runs once the flags and the
// workbook argument are parsed into a config.
func newCommand(exec func(cmd *cobra.Command, cfg config) error) *cobra.Command {
	cfg := config{links: make(links)}
	cmd := &cobra.Command{
		Use:   "xlcalc [flags] book.xlsx",
		Short: "Evaluate the formulas of an .xlsx workbook",
		Long: `Evaluate every formula of an .xlsx workbook and print each result as
Sheet!A1<TAB>value. Cells that fail are listed on stderr.

Formulas reading another workbook, such as [1]Sheet1!A1, need that workbook
linked with --link 1=other.xlsx.

Examples:
  xlcalc report.xlsx
  xlcalc --cell Summary!B4 report.xlsx
  xlcalc --link 1=rates.xlsx -o recalculated.xlsx report.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg.book = args[0]
			return exec(cmd, cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.cell, "cell", "", "evaluate only this cell, e.g. Sheet1!A1")
	flags.BoolVar(&cfg.fallback, "fallback", false, "use saved results for formulas reading unavailable workbooks")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "log evaluation details to stderr")
	flags.StringVarP(&cfg.output, "output", "o", "", "write results into a copy of the workbook at this path")
	flags.Var(cfg.links, "link", "link an external workbook id to a file (repeatable)")
	return cmd
}

func execute(cmd *cobra.Command, cfg config) error {
	failed, err := run(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if failed {
		return errCellsFailed
	}
	return nil
}

// run evaluates the workbook and reports whether any cell failed.
func run(cfg config, stdout, stderr io.Writer) (bool, error) {
	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	src, err := xlsxsource.Open(cfg.book, xlsxsource.WithLogger(logger))
	if err != nil {
		return false, err
	}
	defer src.Close()

	workbooks := formula.NewWorkbookRegistry()
	opts := []formula.Option{
		formula.WithLogger(logger),
		formula.WithWorkbookRegistry(workbooks),
		formula.WithCachedValueFallback(cfg.fallback),
	}
	for id, path := range cfg.links {
		linked, err := xlsxsource.Open(path, xlsxsource.WithLogger(logger))
		if err != nil {
			return false, fmt.Errorf("link [%s]: %w", id, err)
		}
		defer linked.Close()
		// linked workbooks resolve their own external references through the
		// same registry
		workbooks.Register(id, formula.NewEvaluator(linked.Workbook(), opts...))
	}
	for _, id := range src.ExternalWorkbooks() {
		if _, ok := workbooks.Resolve(id); !ok {
			logger.Warn("external workbook not linked", "id", id)
		}
	}

	book := src.Workbook()
	ev := formula.NewEvaluator(book, opts...)

	if cfg.cell != "" {
		addr, err := book.Cell(cfg.cell)
		if err != nil {
			return false, err
		}
		v, err := ev.Evaluate(addr)
		if err != nil {
			fmt.Fprintf(stderr, "%s\t%v\n", formula.AddressText(book, addr), err)
			return true, nil
		}
		fmt.Fprintf(stdout, "%s\t%s\n", formula.AddressText(book, addr), v)
		return false, nil
	}

	report := ev.EvaluateAll()
	cells := make([]formula.CellAddress, 0, len(report.Values))
	for addr := range report.Values {
		cells = append(cells, addr)
	}
	order := book.SheetOrder()
	slices.SortFunc(cells, func(a, b formula.CellAddress) int {
		if a.Sheet != b.Sheet {
			return slices.Index(order, a.Sheet) - slices.Index(order, b.Sheet)
		}
		if a.Row != b.Row {
			return a.Row - b.Row
		}
		return a.Col - b.Col
	})
	for _, addr := range cells {
		fmt.Fprintf(stdout, "%s\t%s\n", formula.AddressText(book, addr), report.Values[addr])
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(stderr, "%s\t%v\n", formula.AddressText(book, failure.Cell), failure.Err)
	}

	if cfg.output != "" {
		if err := src.WriteValues(report.Values); err != nil {
			return false, err
		}
		if err := src.SaveAs(cfg.output); err != nil {
			return false, err
		}
	}
	return len(report.Failures) > 0, nil
}
