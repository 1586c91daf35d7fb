package rsparser

// topIDHandler is the anchor at column 0.
type topIDHandler struct {
	anchorBase
	idProp      PropertyDesc
	extractTag  string
	cell        *objCell
	lastValue   any
	lastSet     bool
}

func (h *topIDHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, dataErr(rowNum, h.colInd, "top record id must not be null")
	}
	if h.lastSet && valuesEqual(v, h.lastValue) {
		if h.nextIdx < 0 {
			return 0, dataErr(rowNum, h.colInd, "at least one anchor must change in each row")
		}
		return h.nextIdx, nil
	}
	resetChain(p, h.colInd)
	rec := p.topType.NewRecord()
	rec[h.idProp.Name()] = v
	p.records = append(p.records, rec)
	h.cell.rec = rec
	h.lastValue = v
	h.lastSet = true
	return h.colInd + 1, nil
}

func (h *topIDHandler) reset(p *Parser) {
	h.lastValue = nil
	h.lastSet = false
	h.cell.rec = nil
}

func (h *topIDHandler) empty(p *Parser, upperColInd int) { h.reset(p) }

// singleValueHandler writes a scalar (mono, non-ref, non-object) property.
type singleValueHandler struct {
	colInd     int
	prop       PropertyDesc
	extractTag string
	cell       *objCell
}

func (h *singleValueHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	fn, _ := p.registry.Get(h.extractTag)
	v, err := fn(raw, rowNum, h.colInd)
	if err != nil {
		return 0, err
	}
	if v == nil {
		if !h.prop.Optional() {
			return 0, dataErr(rowNum, h.colInd, "non-optional property %q is null", h.prop.Name())
		}
		return h.colInd + 1, nil
	}
	h.cell.rec[h.prop.Name()] = v
	return h.colInd + 1, nil
}

func (h *singleValueHandler) reset(p *Parser) {}

// singleObjectHandler implements mono scalar TObject properties.
type singleObjectHandler struct {
	colInd     int
	prop       PropertyDesc
	nestedType RecordTypeDesc
	parentCell *objCell
	childCell  *objCell
	nextCol    int // set by the compiler once the nested level is compiled
}

func (h *singleObjectHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		h.childCell.rec = nil
		return h.nextCol, nil
	}
	rec := h.nestedType.NewRecord()
	h.parentCell.rec[h.prop.Name()] = rec
	h.childCell.rec = rec
	return h.colInd + 1, nil
}

func (h *singleObjectHandler) reset(p *Parser) { h.childCell.rec = nil }

// polyObjectDispatcher gates a polymorphic scalar TObject property: its own
// column acts as an object-indicator for the entire subtype tier beneath it.
type polyObjectDispatcher struct {
	colInd  int
	prop    PropertyDesc
	nextCol int // column after the whole subtype tier
}

func (h *polyObjectDispatcher) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		return h.nextCol, nil
	}
	return h.colInd + 1, nil
}

func (h *polyObjectDispatcher) reset(p *Parser) {}

// polyObjectSubtypeHandler handles one subtype column within the tier
// beneath a polyObjectDispatcher.
type polyObjectSubtypeHandler struct {
	colInd       int
	subtypeName  string
	typePropName string
	prop         PropertyDesc
	nestedType   RecordTypeDesc
	parentCell   *objCell // the enclosing object the polymorphic property lives on
	childCell    *objCell
	nextCol      int // column after this subtype's own nested props
	isLast       bool
}

func (h *polyObjectSubtypeHandler) execute(p *Parser, rowNum int, raw any) (int, error) {
	isNullFn, _ := p.registry.Get("isNull")
	isNullV, _ := isNullFn(raw, rowNum, h.colInd)
	if isNullV.(bool) {
		emptyRange(p, h.colInd+1, h.nextCol)
		if h.isLast {
			if _, matched := h.parentCell.rec[h.prop.Name()]; !matched && !h.prop.Optional() {
				return 0, dataErr(rowNum, h.colInd, "non-optional polymorphic object %q has no matching subtype", h.prop.Name())
			}
		}
		return h.nextCol, nil
	}
	if _, exists := h.parentCell.rec[h.prop.Name()]; exists {
		return 0, dataErr(rowNum, h.colInd, "more than one value for a polymorphic object %q", h.prop.Name())
	}
	rec := h.nestedType.NewRecord()
	rec[h.typePropName] = h.subtypeName
	h.parentCell.rec[h.prop.Name()] = rec
	h.childCell.rec = rec
	return h.colInd + 1, nil
}

func (h *polyObjectSubtypeHandler) reset(p *Parser) { h.childCell.rec = nil }
