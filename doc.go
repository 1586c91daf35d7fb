// Package rsparser compiles a columns markup plus a record-types schema into
// a fixed array of per-column handlers, then walks a relational result set
// through those handlers to build a forest of hierarchical records — nested
// objects, ordered collections, string-keyed maps, and deduplicated
// reference records — out of a flat, ordered row stream.
package rsparser
