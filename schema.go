package rsparser

// This file defines the read-only schema-view contract that the compiler
// and handlers consult. The record-types library itself — schema loading
// and validation — is out of scope; callers supply an implementation.
// testschema (test-only) provides a minimal in-memory implementation used
// by this package's own tests.

// SchemaView is the minimal read interface the core requires from a
// record-types library.
type SchemaView interface {
	// RecordType returns the descriptor for name, or ErrUnknownRecordType.
	RecordType(name string) (RecordTypeDesc, error)
}

// RecordTypeDesc describes one record type: its properties and how to
// construct new instances.
type RecordTypeDesc interface {
	Name() string
	// IDProperty returns the type's single id property, if it has one.
	// Scalar/map object types have no id property; array-of-object element
	// types always do (schema-load-time invariant, relied on but not
	// re-validated here).
	IDProperty() (PropertyDesc, bool)
	// Property looks up a property descriptor by name.
	Property(name string) (PropertyDesc, bool)
	// NewRecord returns a freshly allocated, empty record of this type.
	NewRecord() Record
}

// PropertyDesc describes one property of a record type. Not all getters
// are meaningful for every kind; callers consult them according to the
// Cardinality/ValueType/Polymorphic combination that applies.
type PropertyDesc interface {
	Name() string
	Cardinality() Cardinality
	ValueType() ValueType
	Polymorphic() bool
	// Optional reports whether a null/absent value is permitted for a
	// scalar (non-collection) property.
	Optional() bool
	IsID() bool

	// RefTargets returns the candidate target record type names for a
	// TRef property. Length 1 means a monomorphic reference; length >= 2
	// means polymorphic, with the concrete target chosen per column via
	// the polymorphic tier.
	RefTargets() []string

	// NestedType returns the nested object type for a non-polymorphic
	// TObject property (scalar, array, or map element).
	NestedType() RecordTypeDesc

	// SubtypeTable returns, for a polymorphic TObject property, the
	// per-subtype-name record type descriptor.
	SubtypeTable() map[string]RecordTypeDesc

	// TypePropertyName returns the discriminator property name written
	// into constructed subtype objects of a polymorphic TObject property.
	TypePropertyName() string

	// KeyValueType, KeyRefTarget and KeyPropertyName describe a CardMap
	// property's key derivation. Exactly one key-type resolution applies:
	// either KeyPropertyName names a property on the nested object/referred
	// record to derive the key from, or KeyValueType (plus KeyRefTarget,
	// when it is TRef) is used as a literal key type with no derivation
	// property.
	KeyValueType() ValueType
	KeyRefTarget() string
	KeyPropertyName() string
}
