package rsparser

import "strings"

// compiler is the recursive-descent compiler: it turns an ordered markup
// sequence plus a SchemaView into a fixed, column-indexed Handler array.
// A compiler value is used once, for exactly one compile call.
type compiler struct {
	markup   []string
	labels   []label
	handlers []Handler
	schema   SchemaView
}

// compileMarkup is the compiler's entry point. topTypeName names the
// record type produced at column 0.
func compileMarkup(markup []string, topTypeName string, schema SchemaView) ([]Handler, RecordTypeDesc, error) {
	if len(markup) == 0 {
		return nil, nil, markupErrWrap(-1, ErrEmptyMarkup, "markup must not be empty")
	}
	topType, err := schema.RecordType(topTypeName)
	if err != nil {
		return nil, nil, markupErrWrap(0, err, "unknown top record type %q", topTypeName)
	}
	c := &compiler{
		markup:   markup,
		labels:   make([]label, len(markup)),
		handlers: make([]Handler, len(markup)),
		schema:   schema,
	}
	for i, raw := range markup {
		c.labels[i] = parseLabel(raw)
	}

	idProp, ok := topType.IDProperty()
	if !ok {
		return nil, nil, markupErr(0, "top record type %q has no id property", topTypeName)
	}
	cell := &objCell{}
	top := &topIDHandler{
		anchorBase: newAnchorBase(0),
		idProp:     idProp,
		extractTag: idProp.ValueType().extractorTag(),
		cell:       cell,
	}
	c.handlers[0] = top

	next := 1
	if next < len(c.labels) {
		levelPrefix := c.labels[next].prefix
		if levelPrefix != "" {
			return nil, nil, markupErr(next, "column 1 must belong to the top level")
		}
		j, err := c.compileLevel(next, "", topType, cell, top)
		if err != nil {
			return nil, nil, err
		}
		if j != len(c.labels) {
			return nil, nil, markupErr(j, "trailing columns do not belong to any open level")
		}
	}
	return c.handlers, topType, nil
}

func (c *compiler) levelEnds(i int, prefix string) bool {
	return i >= len(c.labels) || c.labels[i].prefix != prefix
}

func (c *compiler) hasDeeperLevel(i int, prefix string) bool {
	return i < len(c.labels) && c.labels[i].prefix != prefix && strings.HasPrefix(c.labels[i].prefix, prefix)
}

// compileLevel compiles every column belonging to one object level — one
// Record's worth of scalar properties, optionally ending in a single
// collection property — a collection must be the last property compiled
// within its level.
func (c *compiler) compileLevel(start int, prefix string, typeDesc RecordTypeDesc, cell *objCell, enclosing anchorHandler) (int, error) {
	i := start
	seenCollection := false
	for !c.levelEnds(i, prefix) {
		if seenCollection {
			return 0, markupErr(i, "no columns may follow a collection property within the same level")
		}
		lbl := c.labels[i]
		prop, ok := typeDesc.Property(lbl.name)
		if !ok {
			return 0, markupErr(i, "unknown property %q on record type %q", lbl.name, typeDesc.Name())
		}
		if prop.IsID() {
			return 0, markupErr(i, "id property %q must not appear as a nested column", lbl.name)
		}

		var (
			next int
			err  error
		)
		switch prop.Cardinality() {
		case CardArray, CardMap:
			seenCollection = true
			next, err = c.compileCollection(i, prefix, prop, cell, enclosing)
		default:
			switch prop.ValueType() {
			case TObject:
				if prop.Polymorphic() {
					next, err = c.compilePolyObject(i, prefix, prop, cell, enclosing)
				} else {
					next, err = c.compileSingleObject(i, prefix, prop, cell, enclosing)
				}
			case TRef:
				if prop.Polymorphic() {
					next, err = c.compilePolyRef(i, prefix, prop, cell, enclosing)
				} else {
					next, err = c.compileSingleRef(i, prefix, prop, cell, enclosing)
				}
			default:
				h := &singleValueHandler{colInd: i, prop: prop, extractTag: prop.ValueType().extractorTag(), cell: cell}
				c.handlers[i] = h
				next, err = i+1, nil
			}
		}
		if err != nil {
			return 0, err
		}
		i = next
	}
	return i, nil
}

func (c *compiler) compileSingleObject(i int, prefix string, prop PropertyDesc, parentCell *objCell, enclosing anchorHandler) (int, error) {
	nestedType := prop.NestedType()
	childCell := &objCell{}
	h := &singleObjectHandler{colInd: i, prop: prop, nestedType: nestedType, parentCell: parentCell, childCell: childCell}
	c.handlers[i] = h
	next := i + 1
	if c.hasDeeperLevel(i+1, prefix) {
		nestedPrefix := c.labels[i+1].prefix
		j, err := c.compileLevel(i+1, nestedPrefix, nestedType, childCell, enclosing)
		if err != nil {
			return 0, err
		}
		next = j
	}
	h.nextCol = next
	return next, nil
}

func (c *compiler) compilePolyObject(i int, prefix string, prop PropertyDesc, parentCell *objCell, enclosing anchorHandler) (int, error) {
	dispatcher := &polyObjectDispatcher{colInd: i, prop: prop}
	c.handlers[i] = dispatcher
	if !c.hasDeeperLevel(i+1, prefix) {
		return 0, markupErr(i, "polymorphic object %q requires a subtype tier", prop.Name())
	}
	tierPrefix := c.labels[i+1].prefix
	subtypes := prop.SubtypeTable()
	j := i + 1
	lastCol := -1
	for !c.levelEnds(j, tierPrefix) {
		lbl := c.labels[j]
		subType, ok := subtypes[lbl.name]
		if !ok {
			return 0, markupErr(j, "unknown subtype %q for polymorphic object %q", lbl.name, prop.Name())
		}
		childCell := &objCell{}
		sh := &polyObjectSubtypeHandler{
			colInd: j, subtypeName: lbl.name, typePropName: prop.TypePropertyName(),
			prop: prop, nestedType: subType, parentCell: parentCell, childCell: childCell,
		}
		c.handlers[j] = sh
		next := j + 1
		if c.hasDeeperLevel(j+1, tierPrefix) {
			deeperPrefix := c.labels[j+1].prefix
			n, err := c.compileLevel(j+1, deeperPrefix, subType, childCell, enclosing)
			if err != nil {
				return 0, err
			}
			next = n
		}
		sh.nextCol = next
		lastCol = j
		j = next
	}
	if lastCol < 0 {
		return 0, markupErr(i+1, "polymorphic object %q has no subtype columns", prop.Name())
	}
	c.handlers[lastCol].(*polyObjectSubtypeHandler).isLast = true
	dispatcher.nextCol = j
	return j, nil
}

func (c *compiler) compileSingleRef(i int, prefix string, prop PropertyDesc, parentCell *objCell, enclosing anchorHandler) (int, error) {
	targets := prop.RefTargets()
	if len(targets) != 1 {
		return 0, markupErr(i, "reference %q must declare exactly one target here", prop.Name())
	}
	targetType := targets[0]
	tt, err := c.schema.RecordType(targetType)
	if err != nil {
		return 0, markupErrWrap(i, err, "unknown target record type %q for %q", targetType, prop.Name())
	}
	idProp, ok := tt.IDProperty()
	if !ok {
		return 0, markupErr(i, "target record type %q has no id property", targetType)
	}
	extractTag := idProp.ValueType().extractorTag()
	lbl := c.labels[i]

	if !lbl.fetched {
		h := &singleRefHandler{colInd: i, prop: prop, targetType: targetType, targetIDTag: extractTag, cell: parentCell}
		c.handlers[i] = h
		return i + 1, nil
	}

	childCell := &objCell{}
	h := &singleFetchedRefHandler{anchorBase: newAnchorBase(i), prop: prop, targetType: targetType, targetIDTag: extractTag, targetRecordType: tt, cell: parentCell, childCell: childCell}
	c.handlers[i] = h
	next := i + 1
	if c.hasDeeperLevel(i+1, prefix) {
		h.hasNested = true
		nestedPrefix := c.labels[i+1].prefix
		// h, not enclosing, is passed down: any collection nested inside
		// this referred record must chain through this handler's own
		// column so its per-row materialization check keeps running,
		// rather than being skipped by enclosing's same-value jump.
		n, err := c.compileLevel(i+1, nestedPrefix, tt, childCell, h)
		if err != nil {
			return 0, err
		}
		next = n
		if h.nextAnchor() != -1 {
			if enclosing.nextAnchor() != -1 {
				return 0, markupErr(i, "more than one collection axis under the same enclosing scope")
			}
			enclosing.setNextAnchor(i)
		}
	}
	h.nextCol = next
	return next, nil
}

func (c *compiler) compilePolyRef(i int, prefix string, prop PropertyDesc, parentCell *objCell, enclosing anchorHandler) (int, error) {
	dispatcher := &polyRefDispatcher{colInd: i, prop: prop}
	c.handlers[i] = dispatcher
	if !c.hasDeeperLevel(i+1, prefix) {
		return 0, markupErr(i, "polymorphic reference %q requires a target tier", prop.Name())
	}
	tierPrefix := c.labels[i+1].prefix
	targets := make(map[string]bool, len(prop.RefTargets()))
	for _, t := range prop.RefTargets() {
		targets[t] = true
	}
	j := i + 1
	lastCol := -1
	for !c.levelEnds(j, tierPrefix) {
		lbl := c.labels[j]
		if !targets[lbl.name] {
			return 0, markupErr(j, "unknown reference target %q for polymorphic reference %q", lbl.name, prop.Name())
		}
		targetType := lbl.name
		tt, err := c.schema.RecordType(targetType)
		if err != nil {
			return 0, markupErrWrap(j, err, "unknown target record type %q", targetType)
		}
		idProp, ok := tt.IDProperty()
		if !ok {
			return 0, markupErr(j, "target record type %q has no id property", targetType)
		}
		extractTag := idProp.ValueType().extractorTag()

		if lbl.fetched {
			childCell := &objCell{}
			th := &polyRefFetchedTargetHandler{anchorBase: newAnchorBase(j), prop: prop, targetType: targetType, targetIDTag: extractTag, targetRecordType: tt, cell: parentCell, childCell: childCell}
			c.handlers[j] = th
			next := j + 1
			if c.hasDeeperLevel(j+1, tierPrefix) {
				th.hasNested = true
				deeperPrefix := c.labels[j+1].prefix
				n, err := c.compileLevel(j+1, deeperPrefix, tt, childCell, th)
				if err != nil {
					return 0, err
				}
				next = n
				if th.nextAnchor() != -1 {
					if enclosing.nextAnchor() != -1 {
						return 0, markupErr(j, "more than one collection axis under the same enclosing scope")
					}
					enclosing.setNextAnchor(j)
				}
			}
			th.nextCol = next
			lastCol = j
			j = next
		} else {
			th := &polyRefTargetHandler{colInd: j, prop: prop, targetType: targetType, targetIDTag: extractTag, cell: parentCell}
			c.handlers[j] = th
			lastCol = j
			j = j + 1
		}
	}
	if lastCol < 0 {
		return 0, markupErr(i+1, "polymorphic reference %q has no target columns", prop.Name())
	}
	switch last := c.handlers[lastCol].(type) {
	case *polyRefTargetHandler:
		last.isLast = true
	case *polyRefFetchedTargetHandler:
		last.isLast = true
	}
	dispatcher.nextCol = j
	return j, nil
}

// resolveLiteralKey resolves a map property's schema-declared literal key
// type (KeyValueType, plus KeyRefTarget when it is TRef) into an extractor
// tag, used when the property has no KeyPropertyName.
func (c *compiler) resolveLiteralKey(i int, prop PropertyDesc) (tag string, isRef bool, refTarget string, err error) {
	kt := prop.KeyValueType()
	if kt != TRef {
		return kt.extractorTag(), false, "", nil
	}
	refTarget = prop.KeyRefTarget()
	tt, e := c.schema.RecordType(refTarget)
	if e != nil {
		return "", false, "", markupErrWrap(i, e, "unknown key target record type %q for %q", refTarget, prop.Name())
	}
	idProp, ok := tt.IDProperty()
	if !ok {
		return "", false, "", markupErr(i, "key target record type %q has no id property", refTarget)
	}
	return idProp.ValueType().extractorTag(), true, refTarget, nil
}

func (c *compiler) compileCollection(i int, prefix string, prop PropertyDesc, ownerCell *objCell, enclosing anchorHandler) (int, error) {
	if enclosing.nextAnchor() != -1 {
		return 0, markupErr(i, "more than one collection axis under the same enclosing scope")
	}
	isMap := prop.Cardinality() == CardMap

	switch prop.ValueType() {
	case TObject, TRef:
		if prop.ValueType() == TRef && !prop.Polymorphic() && !c.labels[i].fetched {
			return c.compileCollectionSingleRow(i, prefix, prop, ownerCell, enclosing, isMap)
		}
		return c.compileCollectionMultiRow(i, prefix, prop, ownerCell, enclosing, isMap)
	default:
		return c.compileCollectionSingleRow(i, prefix, prop, ownerCell, enclosing, isMap)
	}
}

// compileCollectionSingleRow compiles a scalar (non-ref, non-object) or
// unfetched-reference array/map: two columns, the anchor and a trailing
// value/ref element column.
func (c *compiler) compileCollectionSingleRow(i int, prefix string, prop PropertyDesc, ownerCell *objCell, enclosing anchorHandler, isMap bool) (int, error) {
	if !c.hasDeeperLevel(i+1, prefix) {
		return 0, markupErr(i, "collection %q requires a value column nested one level deeper", prop.Name())
	}
	isRef := prop.ValueType() == TRef
	var extractTag, refTargetType string
	if isRef {
		targets := prop.RefTargets()
		if len(targets) != 1 {
			return 0, markupErr(i, "reference collection %q must be monomorphic here", prop.Name())
		}
		refTargetType = targets[0]
		tt, err := c.schema.RecordType(refTargetType)
		if err != nil {
			return 0, markupErrWrap(i, err, "unknown target record type %q for %q", refTargetType, prop.Name())
		}
		idProp, ok := tt.IDProperty()
		if !ok {
			return 0, markupErr(i, "target record type %q has no id property", refTargetType)
		}
		extractTag = idProp.ValueType().extractorTag()
	} else {
		extractTag = prop.ValueType().extractorTag()
	}

	coll := collCell{owner: ownerCell, prop: prop.Name()}

	if enclosing.nextAnchor() != -1 {
		return 0, markupErr(i, "more than one collection axis under the same enclosing scope")
	}

	if isMap {
		keyTag, keyIsRef, keyRefTarget, err := c.resolveLiteralKey(i, prop)
		if err != nil {
			return 0, err
		}
		anchor := &mapSingleRowAnchor{anchorBase: newAnchorBase(i), prop: prop, coll: coll, keyTag: keyTag, keyIsRef: keyIsRef, keyRefTarget: keyRefTarget}
		c.handlers[i] = anchor
		enclosing.setNextAnchor(i)
		vh := &mapValueElemHandler{colInd: i + 1, extractTag: extractTag, isRef: isRef, refTargetType: refTargetType, anchor: anchor}
		c.handlers[i+1] = vh
		return i + 2, nil
	}

	anchor := &arraySingleRowAnchor{anchorBase: newAnchorBase(i), prop: prop, coll: coll}
	c.handlers[i] = anchor
	enclosing.setNextAnchor(i)
	vh := &arrayValueElemHandler{colInd: i + 1, extractTag: extractTag, isRef: isRef, refTargetType: refTargetType, anchor: anchor}
	c.handlers[i+1] = vh
	return i + 2, nil
}

// compileCollectionMultiRow compiles an object, fetched-reference, or
// polymorphic array/map: a multi-row anchor whose own cell is a per-row
// boundary/identity marker, followed by the element body.
func (c *compiler) compileCollectionMultiRow(i int, prefix string, prop PropertyDesc, ownerCell *objCell, enclosing anchorHandler, isMap bool) (int, error) {
	var kind collElementKind
	switch {
	case prop.Polymorphic():
		kind = elemPolymorphic
	case prop.ValueType() == TRef:
		kind = elemFetchedRef
	default:
		kind = elemSimpleObject
	}

	coll := collCell{owner: ownerCell, prop: prop.Name()}

	if isMap {
		keyFromProp := prop.KeyPropertyName() != ""
		var extractTag string
		var keyIsRef bool
		var keyRefTarget string
		if keyFromProp {
			tag, err := c.multiRowBoundaryTag(i, prop, kind)
			if err != nil {
				return 0, err
			}
			extractTag = tag
		} else {
			tag, isRef, refTarget, err := c.resolveLiteralKey(i, prop)
			if err != nil {
				return 0, err
			}
			extractTag, keyIsRef, keyRefTarget = tag, isRef, refTarget
		}
		anchor := &objectMapAnchor{
			anchorBase:  newAnchorBase(i),
			prop:        prop,
			coll:        coll,
			elementKind: kind,
			extractTag:  extractTag,
			keyFromProp: keyFromProp,
			keyPropName: prop.KeyPropertyName(),
			keyIsRef:    keyIsRef,
			keyRefTarget: keyRefTarget,
		}
		c.handlers[i] = anchor
		enclosing.setNextAnchor(i)
		switch kind {
		case elemSimpleObject:
			anchor.nestedType = prop.NestedType()
			return c.compileMapSimpleBody(i, prefix, prop, anchor)
		case elemFetchedRef:
			return c.compileMapFetchedRefBody(i, prefix, prop, anchor)
		default:
			return c.compileMapPolyBody(i, prefix, prop, anchor)
		}
	}

	extractTag, err := c.multiRowBoundaryTag(i, prop, kind)
	if err != nil {
		return 0, err
	}
	anchor := &objectArrayAnchor{anchorBase: newAnchorBase(i), prop: prop, coll: coll, elementKind: kind, extractTag: extractTag}
	c.handlers[i] = anchor
	enclosing.setNextAnchor(i)
	switch kind {
	case elemSimpleObject:
		anchor.nestedType = prop.NestedType()
		idProp, ok := anchor.nestedType.IDProperty()
		if ok {
			anchor.idPropName = idProp.Name()
		}
		return c.compileArraySimpleBody(i, prefix, prop, anchor)
	case elemFetchedRef:
		return c.compileArrayFetchedRefBody(i, prefix, prop, anchor)
	default:
		return c.compileArrayPolyBody(i, prefix, prop, anchor)
	}
}

// multiRowBoundaryTag picks the extractor tag used to read a multi-row
// collection anchor's own cell, when that cell is not itself a declared
// literal map key (array anchors always use this path).
func (c *compiler) multiRowBoundaryTag(i int, prop PropertyDesc, kind collElementKind) (string, error) {
	switch kind {
	case elemSimpleObject:
		// Array elements always carry an id (schema invariant) and use its
		// value type as the boundary tag, so that tag also doubles as the
		// element's auto-assigned id. Map elements need not have one — the
		// boundary column still has to be read to detect a new entry, but
		// with no id to pair the tag to, a generic string read is enough.
		nt := prop.NestedType()
		idProp, ok := nt.IDProperty()
		if !ok {
			return "string", nil
		}
		return idProp.ValueType().extractorTag(), nil
	case elemFetchedRef:
		targets := prop.RefTargets()
		if len(targets) != 1 {
			return "string", nil
		}
		tt, err := c.schema.RecordType(targets[0])
		if err != nil {
			return "", markupErrWrap(i, err, "unknown target record type %q", targets[0])
		}
		idProp, ok := tt.IDProperty()
		if !ok {
			return "", markupErr(i, "target record type %q has no id property", targets[0])
		}
		return idProp.ValueType().extractorTag(), nil
	default:
		return "string", nil
	}
}

func (c *compiler) compileArraySimpleBody(i int, prefix string, prop PropertyDesc, anchor *objectArrayAnchor) (int, error) {
	if !c.hasDeeperLevel(i+1, prefix) {
		anchor.elemCell = &objCell{}
		anchor.nextCol = i + 1
		return i + 1, nil
	}
	elemCell := &objCell{}
	anchor.elemCell = elemCell
	nestedPrefix := c.labels[i+1].prefix
	j, err := c.compileLevel(i+1, nestedPrefix, anchor.nestedType, elemCell, anchor)
	if err != nil {
		return 0, err
	}
	anchor.nextCol = j
	return j, nil
}

func (c *compiler) compileArrayFetchedRefBody(i int, prefix string, prop PropertyDesc, anchor *objectArrayAnchor) (int, error) {
	targets := prop.RefTargets()
	if len(targets) != 1 {
		return 0, markupErr(i, "fetched reference collection %q must be monomorphic here", prop.Name())
	}
	targetType := targets[0]
	tt, err := c.schema.RecordType(targetType)
	if err != nil {
		return 0, markupErrWrap(i, err, "unknown target record type %q for %q", targetType, prop.Name())
	}
	anchor.targetType = targetType
	anchor.targetRecordType = tt
	elemCell := &objCell{}
	anchor.elemCell = elemCell
	if !c.hasDeeperLevel(i+1, prefix) {
		anchor.nextCol = i + 1
		return i + 1, nil
	}
	anchor.hasNestedRef = true
	nestedPrefix := c.labels[i+1].prefix
	j, err := c.compileLevel(i+1, nestedPrefix, tt, elemCell, anchor)
	if err != nil {
		return 0, err
	}
	anchor.nextCol = j
	return j, nil
}

func (c *compiler) compileArrayPolyBody(i int, prefix string, prop PropertyDesc, anchor *objectArrayAnchor) (int, error) {
	if !c.hasDeeperLevel(i+1, prefix) {
		return 0, markupErr(i, "polymorphic collection %q requires a subtype/target tier", prop.Name())
	}
	tierPrefix := c.labels[i+1].prefix
	j := i + 1
	lastCol := -1

	if prop.ValueType() == TObject {
		subtypes := prop.SubtypeTable()
		for !c.levelEnds(j, tierPrefix) {
			lbl := c.labels[j]
			subType, ok := subtypes[lbl.name]
			if !ok {
				return 0, markupErr(j, "unknown subtype %q for polymorphic collection %q", lbl.name, prop.Name())
			}
			childCell := &objCell{}
			idProp, idOk := subType.IDProperty()
			idPropName := ""
			if idOk {
				idPropName = idProp.Name()
			}
			sh := &arrayPolySubtypeHandler{colInd: j, subtypeName: lbl.name, typePropName: prop.TypePropertyName(), nestedType: subType, idPropName: idPropName, anchor: anchor, childCell: childCell}
			c.handlers[j] = sh
			next := j + 1
			if c.hasDeeperLevel(j+1, tierPrefix) {
				deeperPrefix := c.labels[j+1].prefix
				n, err := c.compileLevel(j+1, deeperPrefix, subType, childCell, anchor)
				if err != nil {
					return 0, err
				}
				next = n
			}
			sh.nextCol = next
			lastCol = j
			j = next
		}
	} else {
		targets := make(map[string]bool, len(prop.RefTargets()))
		for _, t := range prop.RefTargets() {
			targets[t] = true
		}
		for !c.levelEnds(j, tierPrefix) {
			lbl := c.labels[j]
			if !targets[lbl.name] {
				return 0, markupErr(j, "unknown reference target %q for polymorphic collection %q", lbl.name, prop.Name())
			}
			targetType := lbl.name
			tt, err := c.schema.RecordType(targetType)
			if err != nil {
				return 0, markupErrWrap(j, err, "unknown target record type %q", targetType)
			}
			idProp, ok := tt.IDProperty()
			if !ok {
				return 0, markupErr(j, "target record type %q has no id property", targetType)
			}
			extractTag := idProp.ValueType().extractorTag()
			if lbl.fetched {
				childCell := &objCell{}
				th := &arrayPolyRefFetchedTargetHandler{anchorBase: newAnchorBase(j), targetType: targetType, targetIDTag: extractTag, targetRecordType: tt, anchor: anchor, childCell: childCell}
				c.handlers[j] = th
				next := j + 1
				if c.hasDeeperLevel(j+1, tierPrefix) {
					th.hasNested = true
					deeperPrefix := c.labels[j+1].prefix
					n, err := c.compileLevel(j+1, deeperPrefix, tt, childCell, th)
					if err != nil {
						return 0, err
					}
					next = n
					if th.nextAnchor() != -1 {
						if anchor.nextAnchor() != -1 {
							return 0, markupErr(j, "more than one collection axis under the same enclosing scope")
						}
						anchor.setNextAnchor(j)
					}
				}
				th.nextCol = next
				lastCol = j
				j = next
			} else {
				th := &arrayPolyRefTargetHandler{colInd: j, targetType: targetType, targetIDTag: extractTag, anchor: anchor}
				c.handlers[j] = th
				lastCol = j
				j = j + 1
			}
		}
	}

	if lastCol < 0 {
		return 0, markupErr(i+1, "polymorphic collection %q has no subtype/target columns", prop.Name())
	}
	anchor.nextCol = j
	return j, nil
}

func (c *compiler) compileMapSimpleBody(i int, prefix string, prop PropertyDesc, anchor *objectMapAnchor) (int, error) {
	elemCell := &objCell{}
	anchor.elemCell = elemCell
	if !c.hasDeeperLevel(i+1, prefix) {
		anchor.nextCol = i + 1
		return i + 1, nil
	}
	nestedPrefix := c.labels[i+1].prefix
	j, err := c.compileLevel(i+1, nestedPrefix, anchor.nestedType, elemCell, anchor)
	if err != nil {
		return 0, err
	}
	anchor.nextCol = j
	return j, nil
}

func (c *compiler) compileMapFetchedRefBody(i int, prefix string, prop PropertyDesc, anchor *objectMapAnchor) (int, error) {
	targets := prop.RefTargets()
	if len(targets) != 1 {
		return 0, markupErr(i, "fetched reference collection %q must be monomorphic here", prop.Name())
	}
	targetType := targets[0]
	tt, err := c.schema.RecordType(targetType)
	if err != nil {
		return 0, markupErrWrap(i, err, "unknown target record type %q for %q", targetType, prop.Name())
	}
	anchor.targetType = targetType
	anchor.targetRecordType = tt
	elemCell := &objCell{}
	anchor.elemCell = elemCell
	if !c.hasDeeperLevel(i+1, prefix) {
		anchor.nextCol = i + 1
		return i + 1, nil
	}
	anchor.hasNestedRef = true
	nestedPrefix := c.labels[i+1].prefix
	j, err := c.compileLevel(i+1, nestedPrefix, tt, elemCell, anchor)
	if err != nil {
		return 0, err
	}
	anchor.nextCol = j
	return j, nil
}

func (c *compiler) compileMapPolyBody(i int, prefix string, prop PropertyDesc, anchor *objectMapAnchor) (int, error) {
	if !c.hasDeeperLevel(i+1, prefix) {
		return 0, markupErr(i, "polymorphic collection %q requires a subtype tier", prop.Name())
	}
	tierPrefix := c.labels[i+1].prefix
	subtypes := prop.SubtypeTable()
	j := i + 1
	lastCol := -1
	for !c.levelEnds(j, tierPrefix) {
		lbl := c.labels[j]
		subType, ok := subtypes[lbl.name]
		if !ok {
			return 0, markupErr(j, "unknown subtype %q for polymorphic collection %q", lbl.name, prop.Name())
		}
		childCell := &objCell{}
		idProp, idOk := subType.IDProperty()
		idPropName := ""
		if idOk {
			idPropName = idProp.Name()
		}
		sh := &mapPolySubtypeHandler{colInd: j, subtypeName: lbl.name, typePropName: prop.TypePropertyName(), nestedType: subType, idPropName: idPropName, anchor: anchor, childCell: childCell}
		c.handlers[j] = sh
		next := j + 1
		if c.hasDeeperLevel(j+1, tierPrefix) {
			deeperPrefix := c.labels[j+1].prefix
			n, err := c.compileLevel(j+1, deeperPrefix, subType, childCell, anchor)
			if err != nil {
				return 0, err
			}
			next = n
		}
		sh.nextCol = next
		lastCol = j
		j = next
	}
	if lastCol < 0 {
		return 0, markupErr(i+1, "polymorphic collection %q has no subtype columns", prop.Name())
	}
	anchor.nextCol = j
	return j, nil
}
