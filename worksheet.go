package formula

import (
	"fmt"
	"iter"
	"slices"

	"golang.org/x/text/cases"
)

// foldName is the case-insensitive key used for sheet, function and
// workbook names.
func foldName(name string) string {
	return cases.Fold().String(name)
}

// SheetTable manages sheet names, ids and order. names are matched
// case-insensitively. an id can exist without a sheet behind it when a
// formula references a sheet that has not been added yet.
type SheetTable struct {
	nameToID map[string]SheetID // folded name -> id for all sheets, defined or not
	idToName map[SheetID]string // id -> name as written

	// sheets that exist, in workbook order
	order []SheetID

	// ids handed out by InternSheet that have no sheet behind them
	undefined map[SheetID]struct{}

	nextID SheetID
}

// NewSheetTable creates an empty sheet table
func NewSheetTable() *SheetTable {
	return &SheetTable{
		nameToID:  make(map[string]SheetID),
		idToName:  make(map[SheetID]string),
		undefined: make(map[SheetID]struct{}),
		nextID:    1, // start at 1, reserve 0 for no sheet
	}
}

// InternSheet returns the id for name, allocating an undefined one when the
// name has never been seen.
func (st *SheetTable) InternSheet(name string) SheetID {
	if id, exists := st.nameToID[foldName(name)]; exists {
		return id
	}
	id := st.allocate(name)
	st.undefined[id] = struct{}{}
	return id
}

func (st *SheetTable) allocate(name string) SheetID {
	id := st.nextID
	st.nameToID[foldName(name)] = id
	st.idToName[id] = name
	st.nextID++
	return id
}

// DefineSheet appends a sheet to the workbook order. a previously interned
// name becomes defined and keeps its id.
func (st *SheetTable) DefineSheet(name string) (SheetID, error) {
	if name == "" {
		return 0, NewApplicationError(InvalidArgument, "sheet name must not be empty")
	}
	if id, exists := st.nameToID[foldName(name)]; exists {
		if _, undefined := st.undefined[id]; !undefined {
			return 0, NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
		}
		delete(st.undefined, id)
		st.idToName[id] = name
		st.order = append(st.order, id)
		return id, nil
	}
	id := st.allocate(name)
	st.order = append(st.order, id)
	return id, nil
}

// RemoveSheet retires the id entirely. later references to the same name
// get a fresh id.
func (st *SheetTable) RemoveSheet(id SheetID) error {
	pos := st.Position(id)
	if pos < 0 {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", id))
	}
	st.order = slices.Delete(st.order, pos, pos+1)
	delete(st.nameToID, foldName(st.idToName[id]))
	delete(st.idToName, id)
	return nil
}

// RenameSheet changes the display name of a defined sheet. a placeholder
// already interned under newName is retired; Workbook.RenameSheet rebinds
// the formulas that held it first.
func (st *SheetTable) RenameSheet(id SheetID, newName string) error {
	oldName, ok := st.idToName[id]
	if !ok || st.Position(id) < 0 {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", id))
	}
	if newName == "" {
		return NewApplicationError(InvalidArgument, "sheet name must not be empty")
	}
	key := foldName(newName)
	if other, exists := st.nameToID[key]; exists && other != id {
		if _, undefined := st.undefined[other]; !undefined {
			return NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", newName))
		}
		// an interned placeholder with this name is superseded
		delete(st.undefined, other)
		delete(st.idToName, other)
	}
	delete(st.nameToID, foldName(oldName))
	st.nameToID[key] = id
	st.idToName[id] = newName
	return nil
}

// MoveSheet places a defined sheet at position pos in the workbook order.
func (st *SheetTable) MoveSheet(id SheetID, pos int) error {
	from := st.Position(id)
	if from < 0 {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %d not found", id))
	}
	if pos < 0 || pos >= len(st.order) {
		return NewApplicationError(OutOfRange, fmt.Sprintf("sheet position %d out of range", pos))
	}
	st.order = slices.Delete(st.order, from, from+1)
	st.order = slices.Insert(st.order, pos, id)
	return nil
}

// Position returns the index of id in the workbook order, or -1.
func (st *SheetTable) Position(id SheetID) int {
	return slices.Index(st.order, id)
}

// SheetID looks up a name, defined or not.
func (st *SheetTable) SheetID(name string) (SheetID, bool) {
	id, ok := st.nameToID[foldName(name)]
	return id, ok
}

func (st *SheetTable) SheetName(id SheetID) (string, bool) {
	name, ok := st.idToName[id]
	return name, ok
}

func (st *SheetTable) SheetOrder() []SheetID {
	return slices.Clone(st.order)
}

// IsDefined reports whether a sheet exists behind id.
func (st *SheetTable) IsDefined(id SheetID) bool {
	return st.Position(id) >= 0
}

// Count returns the number of defined sheets.
func (st *SheetTable) Count() int {
	return len(st.order)
}

// ChunkKey represents the key for indexing chunks in a sheet
type ChunkKey struct {
	ChunkRow int
	ChunkCol int
}

const (
	ChunkRows = 256                   // rows per chunk
	ChunkCols = 256                   // columns per chunk
	ChunkSize = ChunkRows * ChunkCols // 65536 cells per chunk
)

// cellRecord is what the in-memory model keeps for one cell.
type cellRecord struct {
	value     CellValue // plain value, or the cached result of a formula
	formula   *Formula  // nil for value cells
	hasCached bool      // value holds a computed result for a formula cell
}

// chunk holds one 256x256 block of cells. the cell slice is allocated on
// first write.
type chunk struct {
	cells []*cellRecord
	count int
}

// sheetCells is sparse cell storage for one sheet. cells are partitioned
// into 256x256 chunks so clustered data stays together and empty regions
// cost nothing.
type sheetCells struct {
	chunks map[ChunkKey]*chunk

	// last used row and column, recomputed lazily after a removal
	lastRow, lastCol int
	stale            bool
}

func newSheetCells() *sheetCells {
	return &sheetCells{chunks: make(map[ChunkKey]*chunk), lastRow: -1, lastCol: -1}
}

func chunkIndex(row, col int) (ChunkKey, int) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	// column-first indexing inside the chunk
	return key, (col%ChunkCols)*ChunkRows + row%ChunkRows
}

func (s *sheetCells) get(row, col int) *cellRecord {
	key, idx := chunkIndex(row, col)
	c, ok := s.chunks[key]
	if !ok || c.cells == nil {
		return nil
	}
	return c.cells[idx]
}

func (s *sheetCells) put(row, col int, rec *cellRecord) {
	key, idx := chunkIndex(row, col)
	c, ok := s.chunks[key]
	if !ok {
		c = &chunk{}
		s.chunks[key] = c
	}
	if c.cells == nil {
		c.cells = make([]*cellRecord, ChunkSize)
	}
	if c.cells[idx] == nil {
		c.count++
	}
	c.cells[idx] = rec
	if !s.stale {
		s.lastRow, s.lastCol = max(s.lastRow, row), max(s.lastCol, col)
	}
}

func (s *sheetCells) remove(row, col int) {
	key, idx := chunkIndex(row, col)
	c, ok := s.chunks[key]
	if !ok || c.cells == nil || c.cells[idx] == nil {
		return
	}
	c.cells[idx] = nil
	c.count--
	if c.count == 0 {
		delete(s.chunks, key)
	}
	if row == s.lastRow || col == s.lastCol {
		s.stale = true
	}
}

// all yields every stored cell. order is not defined.
func (s *sheetCells) all() iter.Seq2[[2]int, *cellRecord] {
	return func(yield func([2]int, *cellRecord) bool) {
		for key, c := range s.chunks {
			for idx, rec := range c.cells {
				if rec == nil {
					continue
				}
				row := key.ChunkRow*ChunkRows + idx%ChunkRows
				col := key.ChunkCol*ChunkCols + idx/ChunkRows
				if !yield([2]int{row, col}, rec) {
					return
				}
			}
		}
	}
}

// bounds returns the last used row and column.
func (s *sheetCells) bounds() (lastRow, lastCol int, ok bool) {
	if s.stale {
		s.lastRow, s.lastCol = -1, -1
		for pos := range s.all() {
			s.lastRow = max(s.lastRow, pos[0])
			s.lastCol = max(s.lastCol, pos[1])
		}
		s.stale = false
	}
	return s.lastRow, s.lastCol, s.lastRow >= 0
}

func (s *sheetCells) len() int {
	n := 0
	for _, c := range s.chunks {
		n += c.count
	}
	return n
}
