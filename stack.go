package formula

// frame is one cell being evaluated.
type frame struct {
	addr     CellAddress
	cyclic   bool // part of a reference cycle
	volatile bool // depends on a volatile function
}

// CalculationStack holds the cells currently being evaluated, innermost
// last. a cell found on the stack while evaluating is a cycle.
type CalculationStack struct {
	frames     []frame
	processing map[CellAddress]int // cell -> index in frames
}

// NewCalculationStack creates a new calculation stack
func NewCalculationStack() *CalculationStack {
	return &CalculationStack{
		frames:     make([]frame, 0),
		processing: make(map[CellAddress]int),
	}
}

// push adds a cell to the stack
func (cs *CalculationStack) push(addr CellAddress) {
	cs.processing[addr] = len(cs.frames)
	cs.frames = append(cs.frames, frame{addr: addr})
}

// pop removes the top cell. a volatile dependency is passed on to the cell
// below, since that cell's result depends on it too.
func (cs *CalculationStack) pop() frame {
	top := cs.frames[len(cs.frames)-1]
	cs.frames = cs.frames[:len(cs.frames)-1]
	delete(cs.processing, top.addr)
	if top.volatile && len(cs.frames) > 0 {
		cs.frames[len(cs.frames)-1].volatile = true
	}
	return top
}

// indexOf returns the stack position of addr, or -1 when it is not being
// evaluated.
func (cs *CalculationStack) indexOf(addr CellAddress) int {
	if i, ok := cs.processing[addr]; ok {
		return i
	}
	return -1
}

// markCycle flags every frame from index i to the top: each of them
// reaches the cell at i and is reached from it.
func (cs *CalculationStack) markCycle(i int) {
	for j := i; j < len(cs.frames); j++ {
		cs.frames[j].cyclic = true
	}
}

// markVolatile flags the top frame.
func (cs *CalculationStack) markVolatile() {
	if len(cs.frames) > 0 {
		cs.frames[len(cs.frames)-1].volatile = true
	}
}

func (cs *CalculationStack) depth() int {
	return len(cs.frames)
}
