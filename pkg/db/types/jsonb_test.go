package dbtypes

import (
	"encoding/json"
	"testing"
)

func TestJSONBScanAndValue(t *testing.T) {
	var doc JSONB
	if err := doc.Scan([]byte(`{"event":"PAYMENT_CONFIRMED"}`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	val, err := doc.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if s, ok := val.(string); !ok || s != `{"event":"PAYMENT_CONFIRMED"}` {
		t.Fatalf("unexpected value %#v", val)
	}

	if err := doc.Scan(`{"a":1}`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if string(doc) != `{"a":1}` {
		t.Fatalf("unexpected document %s", doc)
	}

	if err := doc.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestJSONBRejectsInvalidDocument(t *testing.T) {
	if _, err := JSONB(`{broken`).Value(); err == nil {
		t.Fatal("expected invalid json to be rejected")
	}
	val, err := JSONB(nil).Value()
	if err != nil || val != nil {
		t.Fatalf("expected nil value for empty document, got %v %v", val, err)
	}
}

func TestJSONBMarshalEmbedsDocument(t *testing.T) {
	out, err := json.Marshal(map[string]any{"payload": JSONB(`{"copies":2}`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"payload":{"copies":2}}` {
		t.Fatalf("unexpected json %s", out)
	}
}
