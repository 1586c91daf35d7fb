package rsparser

import "strings"

// label is the parsed form of one markup column string:
//
//	label := [ prefix "$" ] name [ ":" ]
//
// prefix is an opaque string identifying the nesting level (longer =
// deeper; empty = top level). name is a property name, or — within a
// polymorphic tier — a subtype/target-record-type name, or empty for a
// scalar array/map element value column. A trailing ":" marks a fetched
// reference.
type label struct {
	raw     string
	prefix  string
	name    string
	fetched bool
}

// parseLabel lexes one markup column string. It never fails: malformed
// shapes (e.g. an empty name where one is required) surface later as
// MarkupErrors once the compiler knows what was expected at that column.
func parseLabel(raw string) label {
	s := raw
	fetched := false
	if strings.HasSuffix(s, ":") {
		fetched = true
		s = s[:len(s)-1]
	}
	prefix := ""
	name := s
	if idx := strings.IndexByte(s, '$'); idx >= 0 {
		prefix = s[:idx]
		name = s[idx+1:]
	}
	return label{raw: raw, prefix: prefix, name: name, fetched: fetched}
}
