package rsparser

// Handler is implemented by every compiled column handler. The handler
// array produced by the compiler is immutable once built; only the
// per-handler local state mutated by execute/reset changes across rows.
type Handler interface {
	// execute consumes raw, the cell at colInd for row rowNum, and
	// returns the column index at which the row walk should resume.
	execute(p *Parser, rowNum int, raw any) (int, error)
	// reset clears per-row/per-scope mutable state. Invoked by
	// resetChain when an ancestor anchor transitions to a new value.
	reset(p *Parser)
}

// anchorHandler is implemented by handlers that can mark subtree
// boundaries: the top-id column, every array/map anchor, and the fetched-
// reference handlers (see singleFetchedRefHandler).
type anchorHandler interface {
	Handler
	// empty marks this anchor's own subtree as absent for the row that
	// caused a parent (a SingleObject, a polymorphic dispatcher, or a
	// fetched-ref handler) to skip over it entirely, so stale lastValue
	// state doesn't cause a later reactivation to be mistaken for a
	// continuation of the same value.
	empty(p *Parser, upperColInd int)
	setNextAnchor(idx int)
	nextAnchor() int
}

// anchorBase is embedded by every anchorHandler implementation.
type anchorBase struct {
	colInd  int
	nextIdx int
}

func newAnchorBase(colInd int) anchorBase {
	return anchorBase{colInd: colInd, nextIdx: -1}
}

func (a *anchorBase) setNextAnchor(idx int) { a.nextIdx = idx }
func (a *anchorBase) nextAnchor() int       { return a.nextIdx }

// objCell is a mutable box holding the Record currently active for one
// object-level scope (the top record, a nested object, a collection
// element, or a referred record). Handlers below that scope read it at
// execute time to know where to write; handlers that create a new object
// for the scope assign into it.
type objCell struct {
	rec Record
}

// collCell is a mutable box holding the collection (array or map)
// currently being populated at one collection-anchor's scope, plus the
// owning cell/property it is attached under.
type collCell struct {
	owner     *objCell
	prop      string
	arr       []any
	m         map[string]any
	allocated bool
}

func (c *collCell) ensureArray() {
	if !c.allocated {
		c.arr = make([]any, 0, 4)
		c.allocated = true
		c.owner.rec[c.prop] = c.arr
	}
}

func (c *collCell) appendValue(v any) {
	c.ensureArray()
	c.arr = append(c.arr, v)
	c.owner.rec[c.prop] = c.arr
}

func (c *collCell) ensureMap() {
	if !c.allocated {
		c.m = make(map[string]any, 4)
		c.allocated = true
		c.owner.rec[c.prop] = c.m
	}
}

func (c *collCell) assignKey(key string, v any) {
	c.ensureMap()
	c.m[key] = v
}

func (c *collCell) reset() {
	c.arr = nil
	c.m = nil
	c.allocated = false
}

// resetChain clears every handler with column index strictly greater than
// anchorColInd — the reaction to an anchor observing a new value or
// nullifying.
func resetChain(p *Parser, anchorColInd int) {
	for i := anchorColInd + 1; i < len(p.handlers); i++ {
		p.handlers[i].reset(p)
	}
}

// emptyRange notifies every handler in [fromCol, toCol) that the subtree
// they belong to did not appear in the current row: anchors get empty(),
// everything else just gets reset() (discarding any state left over from
// the last time the subtree was populated).
func emptyRange(p *Parser, fromCol, toCol int) {
	n := len(p.handlers)
	if toCol > n {
		toCol = n
	}
	for i := fromCol; i < toCol; i++ {
		h := p.handlers[i]
		if a, ok := h.(anchorHandler); ok {
			a.empty(p, toCol)
		} else {
			h.reset(p)
		}
	}
}
