// Package xlsxsource loads .xlsx workbooks into a formula.Workbook so the
// engine can evaluate them, and writes computed results back.
package xlsxsource

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/xuri/efp"
	"github.com/xuri/excelize/v2"
)

// Source is an opened xlsx file and the workbook read from it.
type Source struct {
	file *excelize.File
	book *formula.Workbook
	log  *slog.Logger
}

type options struct {
	open   []excelize.Options
	book   []formula.WorkbookOption
	logger *slog.Logger
}

// Option configures Open and FromFile.
type Option func(*options)

// WithOpenOptions passes options such as a password through to
// excelize.OpenFile.
func WithOpenOptions(opts ...excelize.Options) Option {
	return func(o *options) {
		o.open = append(o.open, opts...)
	}
}

// WithWorkbookOptions configures the workbook cells are loaded into.
func WithWorkbookOptions(opts ...formula.WorkbookOption) Option {
	return func(o *options) {
		o.book = append(o.book, opts...)
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open reads the workbook at path.
func Open(path string, opts ...Option) (*Source, error) {
	o := buildOptions(opts)
	f, err := excelize.OpenFile(path, o.open...)
	if err != nil {
		return nil, fmt.Errorf("open workbook %q: %w", path, err)
	}
	src, err := load(f, o)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// FromFile reads an already opened file. the Source takes ownership of f.
func FromFile(f *excelize.File, opts ...Option) (*Source, error) {
	return load(f, buildOptions(opts))
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func load(f *excelize.File, o options) (*Source, error) {
	src := &Source{file: f, book: formula.NewWorkbook(o.book...), log: o.logger}
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		if _, err := src.book.AddSheet(sheet); err != nil {
			return nil, fmt.Errorf("add sheet %q: %w", sheet, err)
		}
	}
	for _, sheet := range sheets {
		if err := src.readSheet(sheet); err != nil {
			return nil, err
		}
	}
	src.readNames()
	return src, nil
}

// readSheet copies every non-empty cell of sheet into the workbook.
// formula cells keep the result excelize last saved as their cached value.
func (s *Source) readSheet(sheet string) error {
	rows, err := s.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("read rows from sheet %q: %w", sheet, err)
	}
	id, _ := s.book.SheetID(sheet)
	for r, row := range rows {
		for c, raw := range row {
			cellName, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			addr := formula.CellAddress{Sheet: id, Row: r, Col: c}
			text, err := s.file.GetCellFormula(sheet, cellName)
			if err != nil {
				return fmt.Errorf("read formula %s!%s: %w", sheet, cellName, err)
			}
			typ, err := s.file.GetCellType(sheet, cellName)
			if err != nil {
				return fmt.Errorf("read cell type %s!%s: %w", sheet, cellName, err)
			}
			if text != "" {
				if err := s.book.SetFormula(addr, text); err != nil {
					s.log.Warn("skipping formula", "cell", sheet+"!"+cellName, "error", err)
					continue
				}
				if raw != "" {
					s.book.SetCachedValue(addr, valueOf(typ, raw))
				}
				continue
			}
			if v := valueOf(typ, raw); !v.IsBlank() {
				if err := s.book.SetValue(addr, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// valueOf converts a raw cell value to a CellValue according to the type
// excelize reports for it.
func valueOf(typ excelize.CellType, raw string) formula.CellValue {
	if raw == "" {
		return formula.Blank()
	}
	switch typ {
	case excelize.CellTypeBool:
		return formula.BoolValue(raw == "1" || strings.EqualFold(raw, "TRUE"))
	case excelize.CellTypeError:
		if code, ok := formula.ErrorCodeFromText(raw); ok {
			return formula.ErrorValue(code)
		}
		return formula.TextValue(raw)
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return formula.TextValue(raw)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return formula.NumberValue(n)
	}
	return formula.TextValue(raw)
}

// readNames defines the workbook's names. names that are not plain
// references, such as constants or formulas, are skipped.
func (s *Source) readNames() {
	for _, dn := range s.file.GetDefinedName() {
		refersTo := strings.TrimPrefix(dn.RefersTo, "=")
		var err error
		if dn.Scope == "" || dn.Scope == "Workbook" {
			err = s.book.DefineName(dn.Name, refersTo)
		} else if id, ok := s.book.SheetID(dn.Scope); ok {
			err = s.book.DefineLocalName(dn.Name, id, refersTo)
		} else {
			err = fmt.Errorf("unknown scope %q", dn.Scope)
		}
		if err != nil {
			s.log.Debug("skipping defined name", "name", dn.Name, "refers_to", dn.RefersTo, "error", err)
		}
	}
}

// Workbook returns the loaded workbook.
func (s *Source) Workbook() *formula.Workbook {
	return s.book
}

// File returns the underlying excelize file.
func (s *Source) File() *excelize.File {
	return s.file
}

// ExternalWorkbooks lists the workbook ids that formulas reference, such as
// "1" for [1]Sheet1!A1, in sorted order.
func (s *Source) ExternalWorkbooks() []string {
	seen := make(map[string]struct{})
	ps := efp.ExcelParser()
	for addr := range s.book.FormulaCells() {
		text, ok := s.book.FormulaText(addr)
		if !ok {
			continue
		}
		for _, token := range ps.Parse(text) {
			if token.TType != efp.TokenTypeOperand || token.TSubType != efp.TokenSubTypeRange {
				continue
			}
			if id, ok := workbookID(token.TValue); ok {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// workbookID extracts "Book" from "[Book]Sheet!A1" or "'[Book]My Sheet'!A1".
func workbookID(ref string) (string, bool) {
	ref = strings.TrimPrefix(ref, "'")
	if !strings.HasPrefix(ref, "[") {
		return "", false
	}
	end := strings.IndexByte(ref, ']')
	if end < 2 {
		return "", false
	}
	return ref[1:end], true
}

// WriteValues writes computed results into the file's cells.
func (s *Source) WriteValues(values map[formula.CellAddress]formula.CellValue) error {
	for addr, v := range values {
		sheet, ok := s.book.SheetName(addr.Sheet)
		if !ok {
			continue
		}
		cellName, err := excelize.CoordinatesToCellName(addr.Col+1, addr.Row+1)
		if err != nil {
			return err
		}
		var value any
		switch v.Kind {
		case formula.KindNumber:
			value = v.Number
		case formula.KindBoolean:
			value = v.Bool
		case formula.KindBlank:
			value = nil
		default:
			value = v.String()
		}
		if err := s.file.SetCellValue(sheet, cellName, value); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, cellName, err)
		}
	}
	return nil
}

// SaveAs writes the file to path.
func (s *Source) SaveAs(path string) error {
	if err := s.file.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %q: %w", path, err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.file.Close()
}
