package rsparser

import (
	"fmt"
	"sync"
)

// refSpanKey identifies one referred record across rows: its reference
// value plus the column at which it was (re)sighted, since the same
// reference value could in principle appear under two different fetched
// reference columns in the same markup.
type refSpanKey struct {
	ref    string
	colInd int
}

// Parser is the stateful driver of the row walk: it owns the compiled
// handler array, the accumulated top-level records, the deduplicated
// referred-records table, and the bookkeeping of referred-record spans
// that are still open.
type Parser struct {
	cfg      Config
	registry *Registry

	markup   []string
	handlers []Handler
	topType  RecordTypeDesc

	records         []Record
	referredRecords map[string]Record
	refOrder        []string

	activeRefs map[refSpanKey]Record

	currentRowNum int
	rowsFed       int
	initialized   bool

	rowScratch sync.Pool // *[]any, sized to len(markup); reused across FeedRowMap calls
}

// New returns an uninitialized Parser. Call Init before feeding rows.
func New(cfg ...Config) *Parser {
	c := defaultConfig(cfg...)
	return &Parser{cfg: c, registry: c.Registry.clone()}
}

// Init compiles markup against topTypeName in schema and prepares the
// parser to accept rows. Init may be called at most once per Parser.
func (p *Parser) Init(markup []string, topTypeName string, schema SchemaView) error {
	if p.initialized {
		return usageErr(ErrAlreadyInitialized, "Init called twice")
	}
	handlers, topType, err := compileMarkup(markup, topTypeName, schema)
	if err != nil {
		return err
	}
	p.markup = markup
	p.handlers = handlers
	p.topType = topType
	p.records = nil
	p.referredRecords = make(map[string]Record)
	p.activeRefs = make(map[refSpanKey]Record)
	p.currentRowNum = -1
	p.rowsFed = 0
	p.initialized = true
	p.rowScratch = sync.Pool{
		New: func() any {
			buf := make([]any, len(p.markup))
			return &buf
		},
	}
	return nil
}

// FeedRow walks one relational result-set row through the compiled handler
// array, positionally (row[i] is the raw cell for markup column i).
func (p *Parser) FeedRow(row []any) error {
	if !p.initialized {
		return usageErr(ErrNotInitialized, "FeedRow called before Init")
	}
	if len(row) != len(p.handlers) {
		return dataErrWrap(p.rowsFed, -1, ErrRowShapeMismatch, "row has %d cells, markup has %d columns", len(row), len(p.handlers))
	}
	if p.cfg.MaxRowsPerFeed > 0 && p.rowsFed >= p.cfg.MaxRowsPerFeed {
		return usageErr(nil, "MaxRowsPerFeed (%d) exceeded", p.cfg.MaxRowsPerFeed)
	}

	rowNum := p.rowsFed
	p.currentRowNum = rowNum

	skip := 0
	for i := 0; i < len(p.handlers); {
		if skip > 0 {
			skip--
			i++
			continue
		}
		next, err := p.handlers[i].execute(p, rowNum, row[i])
		if err != nil {
			return err
		}
		if next <= i {
			return dataErr(rowNum, i, "handler did not advance the column cursor")
		}
		i = next
	}

	p.rowsFed++
	return nil
}

// FeedRowMap is the associative-row-shape counterpart of FeedRow: m maps
// markup column strings to raw cells.
func (p *Parser) FeedRowMap(m map[string]any) error {
	if !p.initialized {
		return usageErr(ErrNotInitialized, "FeedRowMap called before Init")
	}
	rowPtr := p.rowScratch.Get().(*[]any)
	defer p.rowScratch.Put(rowPtr)
	row := *rowPtr
	for i, col := range p.markup {
		row[i] = m[col]
	}
	return p.FeedRow(row)
}

// FeedRows feeds every row of rows in order.
func (p *Parser) FeedRows(rows [][]any) error {
	for _, row := range rows {
		if err := p.FeedRow(row); err != nil {
			return err
		}
	}
	return nil
}

// Records returns the top-level records accumulated so far, in first-seen
// order. The returned slice is owned by the Parser; callers must not
// mutate it.
func (p *Parser) Records() []Record {
	return p.records
}

// ReferredRecords returns the deduplicated table of fetched referred
// records accumulated so far, keyed by their canonical reference value.
// Call Finalize once the last row has been fed so that references whose
// span was still open at end-of-stream are committed here too. A fetched
// reference whose markup has no columns nested under it adds no entry here;
// only its reference value is written into the owning record.
func (p *Parser) ReferredRecords() map[string]Record {
	return p.referredRecords
}

// Finalize closes every still-open fetched-reference span after the last
// row of a result set has been fed, committing them into ReferredRecords.
// Unlike Reset, it does not discard accumulated Records/ReferredRecords.
func (p *Parser) Finalize() error {
	if !p.initialized {
		return usageErr(ErrNotInitialized, "Finalize called before Init")
	}
	for _, h := range p.handlers {
		h.reset(p)
	}
	return nil
}

// Reset discards every accumulated record and referred record, and clears
// all handler-local state, so the Parser can be reused for a fresh result
// set without recompiling the markup.
func (p *Parser) Reset() error {
	if !p.initialized {
		return usageErr(ErrNotInitialized, "Reset called before Init")
	}
	for _, h := range p.handlers {
		h.reset(p)
	}
	p.records = nil
	p.referredRecords = make(map[string]Record)
	p.refOrder = nil
	p.activeRefs = make(map[refSpanKey]Record)
	p.currentRowNum = -1
	p.rowsFed = 0
	return nil
}

// beginReferredRecord is called by a fetched-reference handler every time
// it sees refValue at colInd in the current walk. Three cases arise:
//
//   - refValue was already fully materialized on an earlier, now-closed
//     sighting: return it and true, so the caller fast-forwards past its
//     own nested subtree instead of re-walking it.
//   - refValue's span is still open (a prior row in the same contiguous
//     sighting already started it): return the same in-progress Record
//     so the caller keeps writing into it, and false.
//   - refValue is being seen for the first time: allocate a fresh Record
//     seeded with its id, mark the span open, and return it with false.
func (p *Parser) beginReferredRecord(refValue string, colInd, rowNum int, targetType RecordTypeDesc) (Record, bool, error) {
	if rec, ok := p.referredRecords[refValue]; ok {
		return rec, true, nil
	}
	key := refSpanKey{ref: refValue, colInd: colInd}
	if rec, active := p.activeRefs[key]; active {
		return rec, false, nil
	}
	if p.cfg.MaxReferredRecords > 0 && len(p.referredRecords) >= p.cfg.MaxReferredRecords {
		return nil, false, dataErr(rowNum, colInd, "MaxReferredRecords (%d) exceeded", p.cfg.MaxReferredRecords)
	}
	_, idName, ok := SplitRef(refValue)
	if !ok {
		return nil, false, dataErr(rowNum, colInd, "malformed reference value %q", refValue)
	}
	rec := targetType.NewRecord()
	idProp, hasID := targetType.IDProperty()
	if hasID {
		rec[idProp.Name()] = idName
	}
	p.activeRefs[key] = rec
	return rec, false, nil
}

// endReferredRecord is called from a fetched-reference handler's reset,
// once the current sighting's span of rows has ended (an ancestor anchor
// moved to a new value, or the walk finished). It materializes the record
// built up in-place by the nested columns into ReferredRecords, so later
// sightings of the same reference value short-circuit.
func (p *Parser) endReferredRecord(refValue string, colInd int) {
	key := refSpanKey{ref: refValue, colInd: colInd}
	rec, active := p.activeRefs[key]
	if !active {
		return
	}
	delete(p.activeRefs, key)
	if _, exists := p.referredRecords[refValue]; exists {
		return
	}
	p.referredRecords[refValue] = rec
	p.refOrder = append(p.refOrder, refValue)
}

func (p *Parser) String() string {
	return fmt.Sprintf("rsparser.Parser{records=%d, referred=%d}", len(p.records), len(p.referredRecords))
}
