package rsparser

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a created record: a mapping from property name to value.
// Unset optional properties are simply absent from the map, never nil.
type Record map[string]any

// Cardinality is one of the three orthogonal attributes of a property kind.
type Cardinality int

const (
	CardScalar Cardinality = iota
	CardArray
	CardMap
)

func (c Cardinality) String() string {
	switch c {
	case CardScalar:
		return "scalar"
	case CardArray:
		return "array"
	case CardMap:
		return "map"
	default:
		return "unknown"
	}
}

// ValueType is the second orthogonal attribute of a property kind.
type ValueType int

const (
	TString ValueType = iota
	TNumber
	TBoolean
	TDatetime
	TObject
	TRef
)

func (v ValueType) String() string {
	switch v {
	case TString:
		return "string"
	case TNumber:
		return "number"
	case TBoolean:
		return "boolean"
	case TDatetime:
		return "datetime"
	case TObject:
		return "object"
	case TRef:
		return "ref"
	default:
		return "unknown"
	}
}

// extractorTag returns the registry key consulted for a scalar value type.
// TObject/TRef are not scalar value types extracted by the registry directly
// (objects have no raw-cell extraction; refs are resolved via the target
// type's id extractor, which is itself one of the scalar tags below).
func (v ValueType) extractorTag() string {
	switch v {
	case TString:
		return "string"
	case TNumber:
		return "number"
	case TBoolean:
		return "boolean"
	case TDatetime:
		return "datetime"
	default:
		return ""
	}
}

// FormatRef renders the canonical reference value "<TypeName>#<id>" for a
// referred record's id, already rendered as its native scalar type's
// canonical string form.
func FormatRef(typeName string, idRendered string) string {
	return typeName + "#" + idRendered
}

// SplitRef parses a canonical reference value back into its type name and id
// string. It is used by beginReferredRecord to recover the referred record's
// id from its reference value.
func SplitRef(ref string) (typeName, id string, ok bool) {
	idx := strings.LastIndexByte(ref, '#')
	if idx < 0 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

// stringifyScalar renders an extracted id/key value as its canonical
// string form, used to build reference values and map keys.
func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// valuesEqual compares two extracted scalar values (string, float64, bool,
// or nil) for anchor/id equality checks.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return a == b
	}
}
