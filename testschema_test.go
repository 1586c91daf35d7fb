package rsparser

// A minimal, in-memory SchemaView used only by this package's own tests.
// Schema loading and validation are out of scope for the core (schema.go);
// production callers supply their own RecordTypeDesc/PropertyDesc.

type testProp struct {
	name         string
	cardinality  Cardinality
	valueType    ValueType
	polymorphic  bool
	optional     bool
	isID         bool
	refTargets   []string
	nestedType   RecordTypeDesc
	subtypes     map[string]RecordTypeDesc
	typePropName string
	keyValueType ValueType
	keyRefTarget string
	keyPropName  string
}

func (p *testProp) Name() string                           { return p.name }
func (p *testProp) Cardinality() Cardinality                { return p.cardinality }
func (p *testProp) ValueType() ValueType                    { return p.valueType }
func (p *testProp) Polymorphic() bool                       { return p.polymorphic }
func (p *testProp) Optional() bool                          { return p.optional }
func (p *testProp) IsID() bool                              { return p.isID }
func (p *testProp) RefTargets() []string                    { return p.refTargets }
func (p *testProp) NestedType() RecordTypeDesc              { return p.nestedType }
func (p *testProp) SubtypeTable() map[string]RecordTypeDesc { return p.subtypes }
func (p *testProp) TypePropertyName() string                { return p.typePropName }
func (p *testProp) KeyValueType() ValueType                  { return p.keyValueType }
func (p *testProp) KeyRefTarget() string                     { return p.keyRefTarget }
func (p *testProp) KeyPropertyName() string                  { return p.keyPropName }

// testRecordType is a hand-built RecordTypeDesc: a name plus an ordered list
// of properties, at most one of which is the id property.
type testRecordType struct {
	name  string
	props map[string]*testProp
	idCol string // empty if this type has no id property
}

func newTestRecordType(name string) *testRecordType {
	return &testRecordType{name: name, props: make(map[string]*testProp, 8)}
}

func (t *testRecordType) withID(p *testProp) *testRecordType {
	p.isID = true
	t.props[p.name] = p
	t.idCol = p.name
	return t
}

func (t *testRecordType) with(p *testProp) *testRecordType {
	t.props[p.name] = p
	return t
}

func (t *testRecordType) Name() string { return t.name }

func (t *testRecordType) IDProperty() (PropertyDesc, bool) {
	if t.idCol == "" {
		return nil, false
	}
	return t.props[t.idCol], true
}

func (t *testRecordType) Property(name string) (PropertyDesc, bool) {
	p, ok := t.props[name]
	return p, ok
}

func (t *testRecordType) NewRecord() Record { return Record{} }

// testSchema is a plain map-backed SchemaView.
type testSchema struct {
	types map[string]RecordTypeDesc
}

func newTestSchema(types ...RecordTypeDesc) *testSchema {
	s := &testSchema{types: make(map[string]RecordTypeDesc, len(types))}
	for _, t := range types {
		s.types[t.Name()] = t
	}
	return s
}

func (s *testSchema) RecordType(name string) (RecordTypeDesc, error) {
	t, ok := s.types[name]
	if !ok {
		return nil, ErrUnknownRecordType
	}
	return t, nil
}

// ---- fixture builders shared across test files ----

// scalarProp builds a plain scalar (non-ref, non-object) property.
func scalarProp(name string, vt ValueType, optional bool) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: vt, optional: optional}
}

// idProp builds an id property of the given value type.
func idProp(name string, vt ValueType) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: vt, isID: true}
}

// refProp builds a mono scalar reference property.
func refProp(name string, target string, optional bool) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: TRef, refTargets: []string{target}, optional: optional}
}

// objProp builds a mono scalar nested-object property.
func objProp(name string, nested RecordTypeDesc) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: TObject, nestedType: nested}
}

// arrayObjProp builds an array-of-object property.
func arrayObjProp(name string, nested RecordTypeDesc) *testProp {
	return &testProp{name: name, cardinality: CardArray, valueType: TObject, nestedType: nested}
}

// mapObjProp builds a map-of-object property with a literal key type.
func mapObjProp(name string, nested RecordTypeDesc, keyType ValueType) *testProp {
	return &testProp{name: name, cardinality: CardMap, valueType: TObject, nestedType: nested, keyValueType: keyType}
}

// mapObjPropFromProp builds a map-of-object property whose key derives from
// a property on the nested object.
func mapObjPropFromProp(name string, nested RecordTypeDesc, keyPropName string) *testProp {
	return &testProp{name: name, cardinality: CardMap, valueType: TObject, nestedType: nested, keyPropName: keyPropName}
}

// arrayScalarProp builds a scalar array property.
func arrayScalarProp(name string, vt ValueType) *testProp {
	return &testProp{name: name, cardinality: CardArray, valueType: vt}
}

// mapScalarProp builds a scalar map property with a literal key type.
func mapScalarProp(name string, vt ValueType, keyType ValueType) *testProp {
	return &testProp{name: name, cardinality: CardMap, valueType: vt, keyValueType: keyType}
}

// arrayRefProp builds an array-of-reference property (unfetched).
func arrayRefProp(name string, target string) *testProp {
	return &testProp{name: name, cardinality: CardArray, valueType: TRef, refTargets: []string{target}}
}

// polyObjProp builds a polymorphic scalar object property.
func polyObjProp(name string, typePropName string, subtypes map[string]RecordTypeDesc) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: TObject, polymorphic: true, typePropName: typePropName, subtypes: subtypes}
}

// arrayPolyObjProp builds a polymorphic array-of-object property.
func arrayPolyObjProp(name string, typePropName string, subtypes map[string]RecordTypeDesc) *testProp {
	return &testProp{name: name, cardinality: CardArray, valueType: TObject, polymorphic: true, typePropName: typePropName, subtypes: subtypes}
}

// polyRefProp builds a polymorphic scalar reference property.
func polyRefProp(name string, targets ...string) *testProp {
	return &testProp{name: name, cardinality: CardScalar, valueType: TRef, polymorphic: true, refTargets: targets}
}

// arrayPolyRefProp builds a polymorphic array-of-reference property.
func arrayPolyRefProp(name string, targets ...string) *testProp {
	return &testProp{name: name, cardinality: CardArray, valueType: TRef, polymorphic: true, refTargets: targets}
}
