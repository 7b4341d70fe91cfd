package formula

// FormulaTable caches parsed trees by formula text. parsed trees do not
// depend on the cell they were parsed for (references hold absolute
// coordinates and unqualified ones mean "this sheet"), so every cell with
// the same text shares one tree. trees are never mutated after parsing.
type FormulaTable struct {
	trees  map[string]Node
	hits   int
	misses int
}

// NewFormulaTable creates an empty formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{trees: make(map[string]Node)}
}

// Intern returns the tree for text, parsing it on first use. parse
// failures are not cached.
func (ft *FormulaTable) Intern(text string, ctx ParseContext) (Node, error) {
	if node, ok := ft.trees[text]; ok {
		ft.hits++
		return node, nil
	}
	ft.misses++
	node, err := Parse(text, ctx)
	if err != nil {
		return nil, err
	}
	ft.trees[text] = node
	return node, nil
}

// Count returns the number of distinct formulas held.
func (ft *FormulaTable) Count() int {
	return len(ft.trees)
}

// Stats returns cache hits and misses since the table was created.
func (ft *FormulaTable) Stats() (hits, misses int) {
	return ft.hits, ft.misses
}

// Clear drops every tree. sheet names may resolve differently after a
// structural edit, so the evaluator clears the table on every one.
func (ft *FormulaTable) Clear() {
	clear(ft.trees)
}
