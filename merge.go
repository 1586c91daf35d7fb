package rsparser

import "fmt"

// Merge combines the output of two Parsers that were Init'd against the
// same top record type with two different markups over the same
// underlying row order — e.g. one query contributed a record's scalar
// properties, another contributed a different branch of its nested
// structure. The two parsers' top-level records are paired up positionally
// and deep-merged field by field; their referred-records tables are unioned.
func Merge(a, b *Parser) ([]Record, map[string]Record, error) {
	if !a.initialized || !b.initialized {
		return nil, nil, usageErr(ErrNotInitialized, "Merge requires both parsers to be initialized")
	}
	if a.topType.Name() != b.topType.Name() {
		return nil, nil, usageErr(ErrIncompatibleMerge, "top record types differ: %q vs %q", a.topType.Name(), b.topType.Name())
	}
	if len(a.records) != len(b.records) {
		return nil, nil, usageErr(ErrRecordCountMismatch, "%d records vs %d records", len(a.records), len(b.records))
	}

	idName := ""
	if idProp, ok := a.topType.IDProperty(); ok {
		idName = idProp.Name()
	}

	merged := make([]Record, len(a.records))
	for i := range a.records {
		ra, rb := a.records[i], b.records[i]
		if idName != "" && !valuesEqual(ra[idName], rb[idName]) {
			return nil, nil, usageErr(ErrStructureMismatch, "record %d: id %v vs %v", i, ra[idName], rb[idName])
		}
		m, err := mergeRecords(ra, rb)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		merged[i] = m
	}

	referred := make(map[string]Record, len(a.referredRecords)+len(b.referredRecords))
	for k, v := range a.referredRecords {
		referred[k] = v
	}
	for k, rb := range b.referredRecords {
		ra, exists := referred[k]
		if !exists {
			referred[k] = rb
			continue
		}
		m, err := mergeRecords(ra, rb)
		if err != nil {
			return nil, nil, fmt.Errorf("referred record %q: %w", k, err)
		}
		referred[k] = m
	}

	return merged, referred, nil
}

// mergeRecords deep-merges two Records field by field: a property present
// on only one side passes through unchanged; a property present on both
// sides must have structurally compatible values, recursively merged.
func mergeRecords(a, b Record) (Record, error) {
	out := make(Record, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		av, exists := out[k]
		if !exists {
			out[k] = bv
			continue
		}
		m, err := mergeValue(av, bv)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = m
	}
	return out, nil
}

func mergeValue(a, b any) (any, error) {
	switch av := a.(type) {
	case Record:
		bv, ok := b.(Record)
		if !ok {
			return nil, ErrStructureMismatch
		}
		return mergeRecords(av, bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return nil, ErrStructureMismatch
		}
		return mergeMapValue(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return nil, ErrStructureMismatch
		}
		return mergeArrayValue(av, bv)
	default:
		// A scalar leaf present on both sides is resolved by overwrite with
		// b's value. The one scalar that must already be equal is the id
		// property, and that check is made explicitly by the caller before
		// ever reaching a scalar leaf here: Merge compares each paired
		// top-level record's id before calling mergeRecords, and a nested
		// or referred record's id is guaranteed equal by construction (the
		// same row order, or the same reference key) rather than by a check
		// here.
		return b, nil
	}
}

// mergeMapValue requires both sides to declare the same key set — two
// parsers populating the same map-valued property from the same row order
// are expected to have discovered the same entries, whether the map holds
// plain or polymorphic-object values.
func mergeMapValue(a, b map[string]any) (map[string]any, error) {
	if len(a) != len(b) {
		return nil, ErrStructureMismatch
	}
	out := make(map[string]any, len(a))
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return nil, ErrStructureMismatch
		}
		m, err := mergeValue(av, bv)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = m
	}
	return out, nil
}

func mergeArrayValue(a, b []any) ([]any, error) {
	if len(a) != len(b) {
		return nil, ErrRecordCountMismatch
	}
	out := make([]any, len(a))
	for i := range a {
		m, err := mergeValue(a[i], b[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}
