package rsparser

import (
	"errors"
	"reflect"
	"testing"
)

func mustInit(t *testing.T, p *Parser, markup []string, topType string, schema SchemaView) {
	t.Helper()
	if err := p.Init(markup, topType, schema); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
}

func mustFeed(t *testing.T, p *Parser, row []any) {
	t.Helper()
	if err := p.FeedRow(row); err != nil {
		t.Fatalf("FeedRow(%v) failed: %v", row, err)
	}
}

// S1 — simple scalars.
func TestParser_SimpleScalars(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false)).
		with(scalarProp("lastName", TString, true))
	schema := newTestSchema(person)

	p := New()
	mustInit(t, p, []string{"id", "firstName", "lastName"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "A", "B"})
	mustFeed(t, p, []any{2.0, "C", nil})
	if err := p.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	want := []Record{
		{"id": 1.0, "firstName": "A", "lastName": "B"},
		{"id": 2.0, "firstName": "C"},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

// S2 — nested object, including the null-address case.
func TestParser_NestedObject(t *testing.T) {
	address := newTestRecordType("Address").
		with(scalarProp("street", TString, true)).
		with(scalarProp("city", TString, true)).
		with(scalarProp("state", TString, true)).
		with(scalarProp("zip", TString, true))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false)).
		with(scalarProp("lastName", TString, false)).
		with(objProp("address", address))
	schema := newTestSchema(address, person)

	p := New()
	mustInit(t, p, []string{"id", "firstName", "lastName", "address", "a$street", "a$city", "a$state", "a$zip"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "A", "B", 1.0, "St", "NY", "NY", "10001"})
	mustFeed(t, p, []any{2.0, "C", "D", nil, nil, nil, nil, nil})

	want := []Record{
		{"id": 1.0, "firstName": "A", "lastName": "B", "address": Record{"street": "St", "city": "NY", "state": "NY", "zip": "10001"}},
		{"id": 2.0, "firstName": "C", "lastName": "D"},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

// S3 — scalar array.
func TestParser_ScalarArray(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false)).
		with(scalarProp("lastName", TString, false)).
		with(arrayScalarProp("scores", TNumber))
	schema := newTestSchema(person)

	p := New()
	mustInit(t, p, []string{"id", "firstName", "lastName", "scores", "a$"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "A", "B", 1.0, 9.5})
	mustFeed(t, p, []any{1.0, "A", "B", 1.0, 8.0})
	mustFeed(t, p, []any{2.0, "C", "D", nil, nil})

	want := []Record{
		{"id": 1.0, "firstName": "A", "lastName": "B", "scores": []any{9.5, 8.0}},
		{"id": 2.0, "firstName": "C", "lastName": "D"},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

// S4 — nested object array along one axis.
func TestParser_ObjectArray(t *testing.T) {
	address := newTestRecordType("Address").withID(idProp("id", TNumber)).
		with(scalarProp("street", TString, false)).
		with(scalarProp("city", TString, false))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false)).
		with(arrayObjProp("addresses", address))
	schema := newTestSchema(address, person)

	p := New()
	mustInit(t, p, []string{"id", "firstName", "addresses", "a$street", "a$city"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "A", 10.0, "St1", "NY"})
	mustFeed(t, p, []any{1.0, "A", 11.0, "St2", "LA"})
	mustFeed(t, p, []any{2.0, "B", nil, nil, nil})

	want := []Record{
		{"id": 1.0, "firstName": "A", "addresses": []any{
			Record{"id": 10.0, "street": "St1", "city": "NY"},
			Record{"id": 11.0, "street": "St2", "city": "LA"},
		}},
		{"id": 2.0, "firstName": "B"},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

// S5 — polymorphic scalar object: single branch populated, then both
// branches populated in one row (DataError).
func TestParser_PolymorphicObject(t *testing.T) {
	cc := newTestRecordType("CreditCard").
		with(scalarProp("last4Digits", TString, false)).
		with(scalarProp("expDate", TString, false))
	ach := newTestRecordType("ACHTransfer").
		with(scalarProp("accountType", TString, false)).
		with(scalarProp("last4Digits", TString, false))
	subtypes := map[string]RecordTypeDesc{"CREDIT_CARD": cc, "ACH_TRANSFER": ach}
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false)).
		with(scalarProp("lastName", TString, false)).
		with(polyObjProp("paymentInfo", "type", subtypes))
	schema := newTestSchema(cc, ach, person)

	markup := []string{
		"id", "firstName", "lastName", "paymentInfo",
		"a$CREDIT_CARD", "aa$last4Digits", "aa$expDate",
		"a$ACH_TRANSFER", "ab$accountType", "ab$last4Digits",
	}

	t.Run("credit card branch", func(t *testing.T) {
		p := New()
		mustInit(t, p, markup, "Person", schema)
		mustFeed(t, p, []any{1.0, "A", "B", 1.0, "CREDIT_CARD", "1234", "2099-12", nil, nil, nil})
		want := []Record{
			{"id": 1.0, "firstName": "A", "lastName": "B", "paymentInfo": Record{
				"type": "CREDIT_CARD", "last4Digits": "1234", "expDate": "2099-12",
			}},
		}
		if !reflect.DeepEqual(p.Records(), want) {
			t.Fatalf("got %#v, want %#v", p.Records(), want)
		}
	})

	t.Run("both branches populated is a DataError", func(t *testing.T) {
		p := New()
		mustInit(t, p, markup, "Person", schema)
		err := p.FeedRow([]any{1.0, "A", "B", 1.0, "CREDIT_CARD", "1234", "2099-12", "ACH_TRANSFER", "checking", "5678"})
		var derr *DataError
		if !errors.As(err, &derr) {
			t.Fatalf("got %v (%T), want *DataError", err, err)
		}
	})
}

// S6 — fetched reference with deduplication.
func TestParser_FetchedReferenceDeduplication(t *testing.T) {
	location := newTestRecordType("Location").withID(idProp("id", TNumber)).
		with(scalarProp("name", TString, false))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(refProp("locationRef", "Location", false))
	schema := newTestSchema(location, person)

	// The trigger column itself ("locationRef:") carries the target's id raw
	// value; the id property is auto-assigned onto the referred record by
	// beginReferredRecord, so it must not also appear as a nested column.
	markup := []string{"id", "locationRef:", "a$name"}
	p := New()
	mustInit(t, p, markup, "Person", schema)

	mustFeed(t, p, []any{1.0, 25.0, "HQ"})
	mustFeed(t, p, []any{2.0, 25.0, "HQ"})
	if err := p.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if len(p.ReferredRecords()) != 1 {
		t.Fatalf("got %d referred records, want 1", len(p.ReferredRecords()))
	}
	rec, ok := p.ReferredRecords()["Location#25"]
	if !ok {
		t.Fatalf("expected referred record keyed \"Location#25\"")
	}
	if rec["name"] != "HQ" {
		t.Fatalf("got name %v, want HQ", rec["name"])
	}
	for _, r := range p.Records() {
		if r["locationRef"] != "Location#25" {
			t.Fatalf("got locationRef %v, want Location#25", r["locationRef"])
		}
	}
}

// S6, extended — a fetched reference whose referred type has its own
// nested multi-row array. A second top-level record resighting the same,
// already-materialized referent across multiple contiguous rows must not
// disturb the referent's previously-built array.
func TestParser_FetchedReferenceWithNestedArrayResighting(t *testing.T) {
	room := newTestRecordType("Room").withID(idProp("id", TNumber)).
		with(scalarProp("label", TString, false))
	location := newTestRecordType("Location").withID(idProp("id", TNumber)).
		with(scalarProp("name", TString, false)).
		with(arrayObjProp("rooms", room))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(refProp("locationRef", "Location", false))
	schema := newTestSchema(room, location, person)

	markup := []string{"id", "locationRef:", "a$name", "a$rooms", "aa$label"}
	p := New()
	mustInit(t, p, markup, "Person", schema)

	mustFeed(t, p, []any{1.0, 25.0, "HQ", 100.0, "Room A"})
	mustFeed(t, p, []any{1.0, 25.0, "HQ", 101.0, "Room B"})
	// Person 2 resights the now-closed Location#25 across two contiguous
	// rows of its own (id unchanged between them) — the exact shape that
	// let the top anchor's same-value jump bypass the fetched-ref handler
	// and let the rooms anchor re-fire fresh, stomping the referent's
	// already-materialized rooms array.
	mustFeed(t, p, []any{2.0, 25.0, "HQ", 100.0, "Room A"})
	mustFeed(t, p, []any{2.0, 25.0, "HQ", 101.0, "Room B"})
	if err := p.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec, ok := p.ReferredRecords()["Location#25"]
	if !ok {
		t.Fatalf("expected referred record keyed \"Location#25\"")
	}
	wantRooms := []any{
		Record{"id": 100.0, "label": "Room A"},
		Record{"id": 101.0, "label": "Room B"},
	}
	if !reflect.DeepEqual(rec["rooms"], wantRooms) {
		t.Fatalf("got rooms %#v, want %#v", rec["rooms"], wantRooms)
	}
}

func TestParser_UnfetchedSingleRef(t *testing.T) {
	location := newTestRecordType("Location").withID(idProp("id", TNumber))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(refProp("locationRef", "Location", true))
	schema := newTestSchema(location, person)

	p := New()
	mustInit(t, p, []string{"id", "locationRef"}, "Person", schema)
	mustFeed(t, p, []any{1.0, 25.0})
	mustFeed(t, p, []any{2.0, nil})

	want := []Record{
		{"id": 1.0, "locationRef": "Location#25"},
		{"id": 2.0},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
	if len(p.ReferredRecords()) != 0 {
		t.Fatalf("unfetched references must not populate ReferredRecords, got %d", len(p.ReferredRecords()))
	}
}

func TestParser_MapOfObjectLiteralKey(t *testing.T) {
	note := newTestRecordType("Note").
		with(scalarProp("text", TString, false))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(mapObjProp("notes", note, TString))
	schema := newTestSchema(note, person)

	p := New()
	mustInit(t, p, []string{"id", "notes", "notes$text"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "work", "busy"})
	mustFeed(t, p, []any{1.0, "home", "quiet"})
	mustFeed(t, p, []any{2.0, nil, nil})

	want := []Record{
		{"id": 1.0, "notes": map[string]any{
			"work": Record{"text": "busy"},
			"home": Record{"text": "quiet"},
		}},
		{"id": 2.0},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

func TestParser_MapOfObjectKeyFromProp(t *testing.T) {
	note := newTestRecordType("Note").
		with(scalarProp("kind", TString, false)).
		with(scalarProp("text", TString, false))
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(mapObjPropFromProp("notes", note, "kind"))
	schema := newTestSchema(note, person)

	p := New()
	mustInit(t, p, []string{"id", "notes", "notes$kind", "notes$text"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "n1", "work", "busy"})
	mustFeed(t, p, []any{1.0, "n2", "home", "quiet"})
	// The second entry's key derives from its own "kind" property, so it is
	// only assigned into the map when a later row supersedes it or the walk
	// ends; with no further row, Finalize flushes it.
	if err := p.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	want := []Record{
		{"id": 1.0, "notes": map[string]any{
			"work": Record{"kind": "work", "text": "busy"},
			"home": Record{"kind": "home", "text": "quiet"},
		}},
	}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

func TestParser_MapScalarNullValueNotStored(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(mapScalarProp("ratings", TNumber, TString))
	schema := newTestSchema(person)

	p := New()
	mustInit(t, p, []string{"id", "ratings", "ratings$"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "service", nil})
	mustFeed(t, p, []any{1.0, "food", 4.5})

	rec := p.Records()[0]
	m, ok := rec["ratings"].(map[string]any)
	if !ok {
		t.Fatalf("expected ratings to be a map, got %T", rec["ratings"])
	}
	if _, exists := m["service"]; exists {
		t.Fatalf("null map value must not be stored, found key %q", "service")
	}
	if m["food"] != 4.5 {
		t.Fatalf("got %v, want 4.5", m["food"])
	}
}

func TestParser_AnchorMustChangeEachRow(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false))
	schema := newTestSchema(person)

	p := New()
	mustInit(t, p, []string{"id", "firstName"}, "Person", schema)
	mustFeed(t, p, []any{1.0, "A"})
	err := p.FeedRow([]any{1.0, "A"})
	if err == nil {
		t.Fatalf("expected DataError: at least one anchor must change in each row")
	}
}

func TestParser_RowShapeMismatch(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber))
	schema := newTestSchema(person)
	p := New()
	mustInit(t, p, []string{"id"}, "Person", schema)
	err := p.FeedRow([]any{1.0, "extra"})
	if !isRowShapeMismatch(err) {
		t.Fatalf("got %v, want ErrRowShapeMismatch", err)
	}
}

func isRowShapeMismatch(err error) bool {
	de, ok := err.(*DataError)
	return ok && de.Unwrap() == ErrRowShapeMismatch
}

func TestParser_FeedRowMapUsesMarkupLabelsAsKeys(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber)).
		with(scalarProp("firstName", TString, false))
	schema := newTestSchema(person)
	p := New()
	mustInit(t, p, []string{"id", "firstName"}, "Person", schema)
	if err := p.FeedRowMap(map[string]any{"id": 1.0, "firstName": "A"}); err != nil {
		t.Fatalf("FeedRowMap: %v", err)
	}
	want := []Record{{"id": 1.0, "firstName": "A"}}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

func TestParser_ResetDiscardsAccumulatedState(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber))
	schema := newTestSchema(person)
	p := New()
	mustInit(t, p, []string{"id"}, "Person", schema)
	mustFeed(t, p, []any{1.0})
	if len(p.Records()) != 1 {
		t.Fatalf("expected 1 record before reset")
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(p.Records()) != 0 {
		t.Fatalf("expected 0 records after reset, got %d", len(p.Records()))
	}
	mustFeed(t, p, []any{2.0})
	want := []Record{{"id": 2.0}}
	if !reflect.DeepEqual(p.Records(), want) {
		t.Fatalf("got %#v, want %#v", p.Records(), want)
	}
}

func TestParser_InitTwiceIsUsageError(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber))
	schema := newTestSchema(person)
	p := New()
	mustInit(t, p, []string{"id"}, "Person", schema)
	err := p.Init([]string{"id"}, "Person", schema)
	if err == nil {
		t.Fatalf("expected UsageError on second Init")
	}
}

func TestParser_FeedRowBeforeInitIsUsageError(t *testing.T) {
	p := New()
	err := p.FeedRow([]any{1.0})
	if err == nil {
		t.Fatalf("expected UsageError before Init")
	}
}

func TestParser_MaxRowsPerFeed(t *testing.T) {
	person := newTestRecordType("Person").withID(idProp("id", TNumber))
	schema := newTestSchema(person)
	p := New(Config{MaxRowsPerFeed: 1})
	mustInit(t, p, []string{"id"}, "Person", schema)
	mustFeed(t, p, []any{1.0})
	err := p.FeedRow([]any{2.0})
	if err == nil {
		t.Fatalf("expected UsageError once MaxRowsPerFeed is exceeded")
	}
}
