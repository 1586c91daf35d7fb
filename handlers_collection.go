package rsparser

// collElementKind distinguishes what an array/map collection holds, decided
// once at compile time.
type collElementKind int

const (
	elemSimpleObject collElementKind = iota // mono, non-ref nested object
	elemFetchedRef                          // fetched reference (inlined referred record)
	elemPolymorphic                         // polymorphic object or reference target tier
)

// ---------------------------------------------------------------------
// Single-row collections (scalar arrays/maps, unfetched ref arrays/maps)
// ---------------------------------------------------------------------

// arraySingleRowAnchor implements the anchor half of a scalar or unfetched-
// ref array: exactly two columns, this one and a trailing value/ref column.
type arraySingleRowAnchor struct {
	anchorBase
	prop PropertyDesc
	coll collCell
	seen bool
}

func (h *arraySingleRowAnchor) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		if h.seen {
			return 0, dataErr(rowNum, h.colInd, "repeated NULL in array anchor %q", h.prop.Name())
		}
		h.seen = true
		emptyRange(p, h.colInd+1, h.colInd+2)
		return h.colInd + 2, nil
	}
	h.seen = true
	h.coll.ensureArray()
	return h.colInd + 1, nil
}

func (h *arraySingleRowAnchor) reset(p *Parser) {
	h.seen = false
	h.coll.reset()
}

func (h *arraySingleRowAnchor) empty(p *Parser, upperColInd int) { h.reset(p) }

// mapSingleRowAnchor implements the anchor half of a scalar or unfetched-ref
// map: the cell is the key itself.
type mapSingleRowAnchor struct {
	anchorBase
	prop         PropertyDesc
	keyTag       string
	keyIsRef     bool
	keyRefTarget string
	coll         collCell
	hasLastKey   bool
	nullSeen     bool
	curKey       string
	seenKeys     map[string]bool
}

func (h *mapSingleRowAnchor) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.keyTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		if h.nullSeen {
			return 0, dataErr(rowNum, h.colInd, "repeated NULL in map anchor %q", h.prop.Name())
		}
		h.nullSeen = true
		emptyRange(p, h.colInd+1, h.colInd+2)
		return h.colInd + 2, nil
	}
	if h.nullSeen {
		return 0, dataErr(rowNum, h.colInd, "NULL expected in map anchor column %q", h.prop.Name())
	}
	key := stringifyScalar(v)
	if h.keyIsRef {
		key = FormatRef(h.keyRefTarget, key)
	}
	if h.seenKeys == nil {
		h.seenKeys = make(map[string]bool, 4)
	}
	if h.seenKeys[key] {
		return 0, dataErr(rowNum, h.colInd, "repeated key %q in map %q", key, h.prop.Name())
	}
	h.seenKeys[key] = true
	h.curKey = key
	h.hasLastKey = true
	h.coll.ensureMap()
	return h.colInd + 1, nil
}

func (h *mapSingleRowAnchor) reset(p *Parser) {
	h.hasLastKey = false
	h.nullSeen = false
	h.curKey = ""
	h.seenKeys = nil
	h.coll.reset()
}

func (h *mapSingleRowAnchor) empty(p *Parser, upperColInd int) { h.reset(p) }

// arrayValueElemHandler writes a scalar value, or an unfetched reference
// value, into the array owned by an arraySingleRowAnchor. A null value
// appends a null slot.
type arrayValueElemHandler struct {
	colInd        int
	extractTag    string
	isRef         bool
	refTargetType string
	anchor        *arraySingleRowAnchor
}

func (h *arrayValueElemHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		h.anchor.coll.appendValue(nil)
		return h.colInd + 1, nil
	}
	if h.isRef {
		v = FormatRef(h.refTargetType, stringifyScalar(v))
	}
	h.anchor.coll.appendValue(v)
	return h.colInd + 1, nil
}

func (h *arrayValueElemHandler) reset(p *Parser) {}

// mapValueElemHandler writes a scalar or unfetched-reference value under
// the current key of a mapSingleRowAnchor. A null value is not stored —
// the key stays absent.
type mapValueElemHandler struct {
	colInd        int
	extractTag    string
	isRef         bool
	refTargetType string
	anchor        *mapSingleRowAnchor
}

func (h *mapValueElemHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return h.colInd + 1, nil
	}
	if h.isRef {
		v = FormatRef(h.refTargetType, stringifyScalar(v))
	}
	h.anchor.coll.assignKey(h.anchor.curKey, v)
	return h.colInd + 1, nil
}

func (h *mapValueElemHandler) reset(p *Parser) {}

// ---------------------------------------------------------------------
// Multi-row collections (object arrays/maps, fetched-ref arrays/maps,
// polymorphic-object and polymorphic-reference arrays/maps)
// ---------------------------------------------------------------------

// objectArrayAnchor implements the multi-row array anchor.
type objectArrayAnchor struct {
	anchorBase
	prop        PropertyDesc
	coll        collCell
	elementKind collElementKind
	extractTag  string
	nextCol     int

	// elemSimpleObject
	nestedType RecordTypeDesc
	idPropName string
	elemCell   *objCell

	// elemFetchedRef
	targetType       string
	targetRecordType RecordTypeDesc
	hasNestedRef     bool
	curRef           string

	lastValue    any
	hasLastValue bool
	nullSeen     bool
	rowMatched   bool // polymorphic only: at most one branch matched per row
}

func (h *objectArrayAnchor) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}

	if v == nil {
		if h.hasLastValue && h.nullSeen {
			return 0, dataErr(rowNum, h.colInd, "repeated NULL in anchor %q", h.prop.Name())
		}
		if !h.hasLastValue {
			h.hasLastValue = true
			h.nullSeen = true
			emptyRange(p, h.colInd+1, h.nextCol)
			return h.nextCol, nil
		}
		return 0, dataErr(rowNum, h.colInd, "unexpected NULL in anchor %q", h.prop.Name())
	}

	if h.hasLastValue && h.nullSeen {
		return 0, dataErr(rowNum, h.colInd, "NULL expected in anchor column %q", h.prop.Name())
	}

	if h.hasLastValue && valuesEqual(v, h.lastValue) {
		// A fetched-ref element with its own nested collection must keep
		// re-deriving whether its referred record is still open, already
		// materialized, or newly sighted on every continuation row: jumping
		// straight to nextIdx would freeze that decision at row one of the
		// current element, letting a later row corrupt an already-committed
		// referred record instead of re-skipping its subtree.
		if h.elementKind == elemFetchedRef && h.hasNestedRef {
			refValue := FormatRef(h.targetType, stringifyScalar(v))
			rec, already, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
			if err != nil {
				return 0, err
			}
			h.curRef = refValue
			h.elemCell.rec = rec
			if already {
				return h.nextCol, nil
			}
			return h.colInd + 1, nil
		}
		if h.nextIdx < 0 {
			return 0, dataErr(rowNum, h.colInd, "at least one anchor must change in each row")
		}
		return h.nextIdx, nil
	}

	first := !h.hasLastValue
	h.hasLastValue = true
	h.lastValue = v
	h.nullSeen = false
	if first {
		h.coll.ensureArray()
	} else {
		resetChain(p, h.colInd)
	}

	switch h.elementKind {
	case elemSimpleObject:
		rec := h.nestedType.NewRecord()
		if h.idPropName != "" {
			rec[h.idPropName] = v
		}
		h.coll.appendValue(rec)
		h.elemCell.rec = rec
		return h.colInd + 1, nil

	case elemFetchedRef:
		refValue := FormatRef(h.targetType, stringifyScalar(v))
		h.coll.appendValue(refValue)
		if !h.hasNestedRef {
			return h.colInd + 1, nil
		}
		rec, already, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
		if err != nil {
			return 0, err
		}
		h.curRef = refValue
		h.elemCell.rec = rec
		if already {
			return h.nextCol, nil
		}
		return h.colInd + 1, nil

	default: // elemPolymorphic
		h.rowMatched = false
		return h.colInd + 1, nil
	}
}

func (h *objectArrayAnchor) reset(p *Parser) {
	if h.elementKind == elemFetchedRef && h.hasNestedRef && h.curRef != "" {
		p.endReferredRecord(h.curRef, h.colInd)
		h.curRef = ""
	}
	h.hasLastValue = false
	h.nullSeen = false
	h.lastValue = nil
	h.rowMatched = false
	if h.elemCell != nil {
		h.elemCell.rec = nil
	}
	h.coll.reset()
}

func (h *objectArrayAnchor) empty(p *Parser, upperColInd int) { h.reset(p) }

// gotValue is called by a polymorphic subtype handler nested within this
// array when its branch matched for the current row.
func (h *objectArrayAnchor) gotValue(rowNum, colInd int, rec Record) error {
	if h.rowMatched {
		return dataErr(rowNum, colInd, "at most one value per row for array %q", h.prop.Name())
	}
	h.rowMatched = true
	h.coll.appendValue(rec)
	return nil
}

// gotRefValue is the reference-target equivalent of gotValue.
func (h *objectArrayAnchor) gotRefValue(rowNum, colInd int, refValue string) error {
	if h.rowMatched {
		return dataErr(rowNum, colInd, "at most one value per row for array %q", h.prop.Name())
	}
	h.rowMatched = true
	h.coll.appendValue(refValue)
	return nil
}

// arrayPolySubtypeHandler handles one subtype column within the tier
// beneath a polymorphic-object objectArrayAnchor.
type arrayPolySubtypeHandler struct {
	colInd       int
	subtypeName  string
	typePropName string
	nestedType   RecordTypeDesc
	idPropName   string
	anchor       *objectArrayAnchor
	childCell    *objCell
	nextCol      int
}

func (h *arrayPolySubtypeHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		return h.nextCol, nil
	}
	rec := h.nestedType.NewRecord()
	rec[h.typePropName] = h.subtypeName
	if h.idPropName != "" {
		rec[h.idPropName] = h.anchor.lastValue
	}
	if err := h.anchor.gotValue(rowNum, h.colInd, rec); err != nil {
		return 0, err
	}
	h.childCell.rec = rec
	return h.colInd + 1, nil
}

func (h *arrayPolySubtypeHandler) reset(p *Parser) { h.childCell.rec = nil }

// arrayPolyRefTargetHandler handles one unfetched target column within the
// tier beneath a polymorphic-reference objectArrayAnchor.
type arrayPolyRefTargetHandler struct {
	colInd      int
	targetType  string
	targetIDTag string
	anchor      *objectArrayAnchor
}

func (h *arrayPolyRefTargetHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return h.colInd + 1, nil
	}
	refValue := FormatRef(h.targetType, stringifyScalar(v))
	if err := h.anchor.gotRefValue(rowNum, h.colInd, refValue); err != nil {
		return 0, err
	}
	return h.colInd + 1, nil
}

func (h *arrayPolyRefTargetHandler) reset(p *Parser) {}

// arrayPolyRefFetchedTargetHandler is the fetched variant of
// arrayPolyRefTargetHandler. It implements anchorHandler for the same
// reason singleFetchedRefHandler does: a collection nested inside its
// referred record must chain through its own column, not past it, so its
// per-row materialization check keeps running on every row of a resighting.
type arrayPolyRefFetchedTargetHandler struct {
	anchorBase
	targetType       string
	targetIDTag      string
	targetRecordType RecordTypeDesc
	anchor           *objectArrayAnchor
	childCell        *objCell
	nextCol          int
	hasNested        bool
	curRef           string
}

func (h *arrayPolyRefFetchedTargetHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		emptyRange(p, h.colInd+1, h.nextCol)
		return h.nextCol, nil
	}
	refValue := FormatRef(h.targetType, stringifyScalar(v))
	if err := h.anchor.gotRefValue(rowNum, h.colInd, refValue); err != nil {
		return 0, err
	}
	if !h.hasNested {
		return h.colInd + 1, nil
	}
	rec, already, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
	if err != nil {
		return 0, err
	}
	h.curRef = refValue
	h.childCell.rec = rec
	if already {
		return h.nextCol, nil
	}
	return h.colInd + 1, nil
}

func (h *arrayPolyRefFetchedTargetHandler) reset(p *Parser) {
	if h.hasNested && h.curRef != "" {
		p.endReferredRecord(h.curRef, h.colInd)
		h.curRef = ""
	}
	h.childCell.rec = nil
}

func (h *arrayPolyRefFetchedTargetHandler) empty(p *Parser, upperColInd int) {
	h.reset(p)
}

// ---------------------------------------------------------------------
// objectMapAnchor: the map counterpart of objectArrayAnchor. Besides the
// array/map distinction, a map key may derive from a property on the
// nested object / referred record itself (keyPropertyName) rather than
// from a schema-declared literal key type — in that case the key can only
// be known once the element's own columns have populated it, so
// assignment into the map is deferred to finalizePending.
// ---------------------------------------------------------------------

type objectMapAnchor struct {
	anchorBase
	prop        PropertyDesc
	coll        collCell
	elementKind collElementKind
	extractTag  string
	nextCol     int

	keyFromProp  bool
	keyPropName  string
	keyIsRef     bool
	keyRefTarget string

	nestedType RecordTypeDesc
	idPropName string
	elemCell   *objCell

	targetType       string
	targetRecordType RecordTypeDesc
	hasNestedRef     bool
	curRef           string

	lastValue    any
	hasLastValue bool
	nullSeen     bool
	rowMatched   bool

	hasPending      bool
	pendingRec      Record
	pendingRefValue string
}

func (h *objectMapAnchor) literalKey() string {
	key := stringifyScalar(h.lastValue)
	if h.keyIsRef {
		key = FormatRef(h.keyRefTarget, key)
	}
	return key
}

func (h *objectMapAnchor) finalizePending() {
	if !h.hasPending {
		return
	}
	var key string
	if h.elementKind == elemFetchedRef {
		if h.keyFromProp {
			key = stringifyScalar(h.pendingRec[h.keyPropName])
		} else {
			key = h.literalKey()
		}
		h.coll.assignKey(key, h.pendingRefValue)
	} else {
		if h.keyFromProp {
			key = stringifyScalar(h.pendingRec[h.keyPropName])
		} else {
			key = h.literalKey()
		}
		h.coll.assignKey(key, h.pendingRec)
	}
	h.hasPending = false
	h.pendingRec = nil
	h.pendingRefValue = ""
}

func (h *objectMapAnchor) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}

	if v == nil {
		if h.hasLastValue && h.nullSeen {
			return 0, dataErr(rowNum, h.colInd, "repeated NULL in anchor %q", h.prop.Name())
		}
		if !h.hasLastValue {
			h.hasLastValue = true
			h.nullSeen = true
			emptyRange(p, h.colInd+1, h.nextCol)
			return h.nextCol, nil
		}
		return 0, dataErr(rowNum, h.colInd, "unexpected NULL in anchor %q", h.prop.Name())
	}

	if h.hasLastValue && h.nullSeen {
		return 0, dataErr(rowNum, h.colInd, "NULL expected in anchor column %q", h.prop.Name())
	}

	if h.hasLastValue && valuesEqual(v, h.lastValue) {
		// Same rationale as objectArrayAnchor: a fetched-ref element with
		// its own nested collection must re-derive its materialization
		// state on every continuation row, not just the first.
		if h.elementKind == elemFetchedRef && h.hasNestedRef {
			refValue := FormatRef(h.targetType, stringifyScalar(v))
			rec, already, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
			if err != nil {
				return 0, err
			}
			h.curRef = refValue
			h.pendingRec = rec
			h.elemCell.rec = rec
			if already {
				return h.nextCol, nil
			}
			return h.colInd + 1, nil
		}
		if h.nextIdx < 0 {
			return 0, dataErr(rowNum, h.colInd, "at least one anchor must change in each row")
		}
		return h.nextIdx, nil
	}

	first := !h.hasLastValue
	h.finalizePending()
	h.hasLastValue = true
	h.lastValue = v
	h.nullSeen = false
	if first {
		h.coll.ensureMap()
	} else {
		resetChain(p, h.colInd)
	}

	switch h.elementKind {
	case elemSimpleObject:
		rec := h.nestedType.NewRecord()
		if h.idPropName != "" {
			rec[h.idPropName] = v
		}
		h.pendingRec = rec
		h.hasPending = true
		h.elemCell.rec = rec
		return h.colInd + 1, nil

	case elemFetchedRef:
		refValue := FormatRef(h.targetType, stringifyScalar(v))
		h.pendingRefValue = refValue
		h.hasPending = true
		if !h.hasNestedRef {
			return h.colInd + 1, nil
		}
		rec, already, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
		if err != nil {
			return 0, err
		}
		h.curRef = refValue
		h.pendingRec = rec
		h.elemCell.rec = rec
		if already {
			return h.nextCol, nil
		}
		return h.colInd + 1, nil

	default: // elemPolymorphic
		h.rowMatched = false
		return h.colInd + 1, nil
	}
}

func (h *objectMapAnchor) reset(p *Parser) {
	h.finalizePending()
	if h.elementKind == elemFetchedRef && h.hasNestedRef && h.curRef != "" {
		p.endReferredRecord(h.curRef, h.colInd)
		h.curRef = ""
	}
	h.hasLastValue = false
	h.nullSeen = false
	h.lastValue = nil
	h.rowMatched = false
	if h.elemCell != nil {
		h.elemCell.rec = nil
	}
	h.coll.reset()
}

func (h *objectMapAnchor) empty(p *Parser, upperColInd int) { h.reset(p) }

func (h *objectMapAnchor) gotValue(rowNum, colInd int, rec Record) error {
	if h.rowMatched {
		return dataErr(rowNum, colInd, "at most one value per row for map %q", h.prop.Name())
	}
	h.rowMatched = true
	h.pendingRec = rec
	h.hasPending = true
	return nil
}

// mapPolySubtypeHandler is the map counterpart of arrayPolySubtypeHandler.
type mapPolySubtypeHandler struct {
	colInd       int
	subtypeName  string
	typePropName string
	nestedType   RecordTypeDesc
	idPropName   string
	anchor       *objectMapAnchor
	childCell    *objCell
	nextCol      int
}

func (h *mapPolySubtypeHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		return h.nextCol, nil
	}
	rec := h.nestedType.NewRecord()
	rec[h.typePropName] = h.subtypeName
	if h.idPropName != "" {
		rec[h.idPropName] = h.anchor.lastValue
	}
	if err := h.anchor.gotValue(rowNum, h.colInd, rec); err != nil {
		return 0, err
	}
	h.childCell.rec = rec
	return h.colInd + 1, nil
}

func (h *mapPolySubtypeHandler) reset(p *Parser) { h.childCell.rec = nil }
