package ingest

import (
	"encoding/json"
	"testing"
)

func decodeDoc(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return doc
}

func TestContentHash_KeyOrderAndWhitespaceIrrelevant(t *testing.T) {
	a := decodeDoc(t, `{"ocid":"ocds-1","tender":{"title":"Grounds maintenance","value":{"amount":100000,"currency":"GBP"}}}`)
	b := decodeDoc(t, `{
		"tender": {
			"value":  {"currency": "GBP", "amount": 100000},
			"title":  "Grounds maintenance"
		},
		"ocid": "ocds-1"
	}`)

	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("reordered/reformatted documents should hash identically:\n%s\n%s", ContentHash(a), ContentHash(b))
	}
}

func TestContentHash_NumberFormsAgreeAfterDecode(t *testing.T) {
	a := decodeDoc(t, `{"amount":100000}`)
	b := decodeDoc(t, `{"amount":1e5}`)
	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("1e5 and 100000 should canonicalise identically")
	}
}

func TestContentHash_ContentChangesHash(t *testing.T) {
	a := decodeDoc(t, `{"ocid":"ocds-1","tender":{"value":{"amount":100000}}}`)
	b := decodeDoc(t, `{"ocid":"ocds-1","tender":{"value":{"amount":150000}}}`)
	if ContentHash(a) == ContentHash(b) {
		t.Fatalf("different amounts must not collide")
	}
}

func TestContentHash_ArrayOrderSignificant(t *testing.T) {
	a := decodeDoc(t, `{"tag":["tender","award"]}`)
	b := decodeDoc(t, `{"tag":["award","tender"]}`)
	if ContentHash(a) == ContentHash(b) {
		t.Fatalf("array order is semantic and must affect the hash")
	}
}

func TestContentHash_NestedAndScalarTypes(t *testing.T) {
	doc := decodeDoc(t, `{"a":null,"b":true,"c":false,"d":"x","e":[1,{"f":2.5}],"g":{}}`)
	h1 := ContentHash(doc)
	h2 := ContentHash(decodeDoc(t, `{"g":{},"e":[1,{"f":2.5}],"d":"x","c":false,"b":true,"a":null}`))
	if h1 != h2 {
		t.Fatalf("nested document canonicalisation unstable")
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha256, got %q", h1)
	}
}
