package rsparser

// singleRefHandler implements a mono, unfetched scalar TRef property.
type singleRefHandler struct {
	colInd      int
	prop        PropertyDesc
	targetType  string
	targetIDTag string
	cell        *objCell
}

func (h *singleRefHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		if !h.prop.Optional() {
			return 0, dataErr(rowNum, h.colInd, "non-optional reference %q is null", h.prop.Name())
		}
		return h.colInd + 1, nil
	}
	h.cell.rec[h.prop.Name()] = FormatRef(h.targetType, stringifyScalar(v))
	return h.colInd + 1, nil
}

func (h *singleRefHandler) reset(p *Parser) {}

// polyRefDispatcher gates a polymorphic scalar TRef property, mirroring
// polyObjectDispatcher so unfetched and fetched polymorphic references
// share the same markup shape.
type polyRefDispatcher struct {
	colInd  int
	prop    PropertyDesc
	nextCol int
}

func (h *polyRefDispatcher) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		return h.nextCol, nil
	}
	return h.colInd + 1, nil
}

func (h *polyRefDispatcher) reset(p *Parser) {}

// polyRefTargetHandler handles one unfetched target column within the tier
// beneath a polyRefDispatcher.
type polyRefTargetHandler struct {
	colInd      int
	prop        PropertyDesc
	targetType  string
	targetIDTag string
	cell        *objCell
	isLast      bool
}

func (h *polyRefTargetHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		if h.isLast {
			if _, matched := h.cell.rec[h.prop.Name()]; !matched && !h.prop.Optional() {
				return 0, dataErr(rowNum, h.colInd, "non-optional polymorphic reference %q has no target value", h.prop.Name())
			}
		}
		return h.colInd + 1, nil
	}
	if _, exists := h.cell.rec[h.prop.Name()]; exists {
		return 0, dataErr(rowNum, h.colInd, "more than one value for a polymorphic reference %q", h.prop.Name())
	}
	h.cell.rec[h.prop.Name()] = FormatRef(h.targetType, stringifyScalar(v))
	return h.colInd + 1, nil
}

func (h *polyRefTargetHandler) reset(p *Parser) {}

// singleFetchedRefHandler implements a mono, fetched scalar TRef property:
// the referred record is inlined into subsequent columns and collected into
// ReferredRecords. On a repeat sighting of an already-collected referent its
// nested columns are skipped within the row; rows themselves are never
// skipped. With no nested columns in the markup, only the reference value
// is written and no ReferredRecords entry is made.
//
// It implements anchorHandler, not because its own value is ever re-checked
// against a lastValue, but so that a collection nested inside its referred
// record chains through it rather than past it: an enclosing anchor must
// keep landing on this handler's own column every row, since only this
// handler's execute re-derives whether the referred record is still open,
// already fully materialized, or freshly sighted. Skipping straight to the
// nested collection would freeze that decision at whatever it was on the
// first row of the current sighting, corrupting an already-materialized
// referred record on every later row of a resighting.
type singleFetchedRefHandler struct {
	anchorBase
	prop             PropertyDesc
	targetType       string
	targetIDTag      string
	targetRecordType RecordTypeDesc
	cell             *objCell
	childCell        *objCell
	nextCol          int
	hasNested        bool
	curRef           string
}

func (h *singleFetchedRefHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		emptyRange(p, h.colInd+1, h.nextCol)
		h.childCell.rec = nil
		return h.nextCol, nil
	}
	refValue := FormatRef(h.targetType, stringifyScalar(v))
	h.cell.rec[h.prop.Name()] = refValue
	if !h.hasNested {
		return h.colInd + 1, nil
	}
	rec, alreadyMaterialized, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
	if err != nil {
		return 0, err
	}
	h.curRef = refValue
	h.childCell.rec = rec
	if alreadyMaterialized {
		return h.nextCol, nil
	}
	return h.colInd + 1, nil
}

func (h *singleFetchedRefHandler) reset(p *Parser) {
	if h.hasNested && h.curRef != "" {
		p.endReferredRecord(h.curRef, h.colInd)
		h.curRef = ""
	}
	h.childCell.rec = nil
}

func (h *singleFetchedRefHandler) empty(p *Parser, upperColInd int) {
	h.reset(p)
}

// polyRefFetchedTargetHandler handles one fetched target column within the
// tier beneath a polyRefDispatcher, for fetched polymorphic references. Like
// singleFetchedRefHandler, it implements anchorHandler so a collection
// nested inside its referred record chains through its own column rather
// than past it.
type polyRefFetchedTargetHandler struct {
	anchorBase
	prop             PropertyDesc
	targetType       string
	targetIDTag      string
	targetRecordType RecordTypeDesc
	cell             *objCell
	childCell        *objCell
	nextCol          int
	hasNested        bool
	isLast           bool
	curRef           string
}

func (h *polyRefFetchedTargetHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.targetIDTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		emptyRange(p, h.colInd+1, h.nextCol)
		if h.isLast {
			if _, matched := h.cell.rec[h.prop.Name()]; !matched && !h.prop.Optional() {
				return 0, dataErr(rowNum, h.colInd, "non-optional polymorphic reference %q has no target value", h.prop.Name())
			}
		}
		return h.nextCol, nil
	}
	if _, exists := h.cell.rec[h.prop.Name()]; exists {
		return 0, dataErr(rowNum, h.colInd, "more than one value for a polymorphic reference %q", h.prop.Name())
	}
	refValue := FormatRef(h.targetType, stringifyScalar(v))
	h.cell.rec[h.prop.Name()] = refValue
	if !h.hasNested {
		return h.colInd + 1, nil
	}
	rec, alreadyMaterialized, err := p.beginReferredRecord(refValue, h.colInd, rowNum, h.targetRecordType)
	if err != nil {
		return 0, err
	}
	h.curRef = refValue
	h.childCell.rec = rec
	if alreadyMaterialized {
		return h.nextCol, nil
	}
	return h.colInd + 1, nil
}

func (h *polyRefFetchedTargetHandler) reset(p *Parser) {
	if h.hasNested && h.curRef != "" {
		p.endReferredRecord(h.curRef, h.colInd)
		h.curRef = ""
	}
	h.childCell.rec = nil
}

func (h *polyRefFetchedTargetHandler) empty(p *Parser, upperColInd int) {
	h.reset(p)
}
