package rsparser

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ExtractFunc is a pure, stateless conversion from a raw driver cell to a
// typed value. It must never fail for well-formed driver input and must be
// side-effect free; the compiler consults extractors only by name.
type ExtractFunc func(raw any, rowNum, colInd int) (any, error)

// Registry is a process-wide-capable, but instance-scoped, mapping from
// type tag to ExtractFunc. A Registry has no locking: it is not safe to call
// Register concurrently with any other method. Extractors registered after a
// Parser was constructed with this Registry affect only parsers constructed
// afterward — New takes a copy of the whole Registry.
type Registry struct {
	fns map[string]ExtractFunc
}

// NewRegistry returns an empty registry with no extractors registered.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]ExtractFunc, 8)}
}

// DefaultRegistry returns a fresh registry pre-populated with the five
// built-in extractors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("string", extractString)
	r.Register("number", extractNumber)
	r.Register("boolean", extractBoolean)
	r.Register("datetime", extractDatetime)
	r.Register("isNull", extractIsNull)
	return r
}

// Register adds or replaces the extractor for the given tag.
func (r *Registry) Register(tag string, fn ExtractFunc) {
	r.fns[tag] = fn
}

// Get returns the extractor registered for tag, if any.
func (r *Registry) Get(tag string) (ExtractFunc, bool) {
	fn, ok := r.fns[tag]
	return fn, ok
}

// clone returns a shallow copy, used so a Parser's snapshot of a Registry
// is unaffected by later Register calls on the original.
func (r *Registry) clone() *Registry {
	c := NewRegistry()
	for k, v := range r.fns {
		c.fns[k] = v
	}
	return c
}

func extractString(raw any, rowNum, colInd int) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func extractNumber(raw any, rowNum, colInd int) (any, error) {
	if raw == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		var f float64
		if _, err := fmt.Sscanf(rv.String(), "%g", &f); err != nil {
			return nil, fmt.Errorf("rsparser: row %d col %d: not a number: %q", rowNum, colInd, rv.String())
		}
		return f, nil
	}
	if bs, ok := raw.([]byte); ok {
		var f float64
		if _, err := fmt.Sscanf(string(bs), "%g", &f); err != nil {
			return nil, fmt.Errorf("rsparser: row %d col %d: not a number: %q", rowNum, colInd, string(bs))
		}
		return f, nil
	}
	return nil, fmt.Errorf("rsparser: row %d col %d: unsupported numeric raw type %T", rowNum, colInd, raw)
}

func extractBoolean(raw any, rowNum, colInd int) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "0" && s != "false", nil
	case []byte:
		s := strings.ToLower(strings.TrimSpace(string(v)))
		return s != "" && s != "0" && s != "false", nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0, nil
	}
	return true, nil
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func extractDatetime(raw any, rowNum, colInd int) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case string:
		return parseDatetimeString(v, rowNum, colInd)
	case []byte:
		return parseDatetimeString(string(v), rowNum, colInd)
	default:
		return nil, fmt.Errorf("rsparser: row %d col %d: unsupported datetime raw type %T", rowNum, colInd, raw)
	}
}

func parseDatetimeString(s string, rowNum, colInd int) (any, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return nil, fmt.Errorf("rsparser: row %d col %d: unparseable datetime %q", rowNum, colInd, s)
}

// extractIsNull never fails; it reports whether raw is nil. Unlike the
// other extractors it is not meant to produce a property value — handlers
// use it purely as an object-indicator / anchor-indicator test.
func extractIsNull(raw any, rowNum, colInd int) (any, error) {
	return raw == nil, nil
}
