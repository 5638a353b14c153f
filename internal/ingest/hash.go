// Package ingest – canonical content hashing.
//
// Upstream feeds re-serialise the same document with different key
// order and whitespace between pulls. The content hash therefore runs
// over a canonical serialisation: objects with recursively sorted keys
// and no insignificant whitespace, so semantically identical documents
// hash identically regardless of formatting noise.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContentHash returns the hex-encoded SHA-256 of the canonical
// serialisation of doc.
func ContentHash(doc map[string]interface{}) string {
	var b strings.Builder
	writeCanonical(&b, doc)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical emits a deterministic JSON-shaped serialisation of v.
// Numbers are rendered via encoding/json so 100000 and 1e5 agree after
// a decode round-trip, which is where all pipeline inputs come from.
func writeCanonical(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case string:
		writeJSONString(b, t)
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case float64:
		enc, _ := json.Marshal(t)
		b.Write(enc)
	default:
		// Ints and other scalar types that survived a decoder.
		enc, err := json.Marshal(t)
		if err != nil {
			b.WriteString(fmt.Sprintf("%v", t))
			return
		}
		b.Write(enc)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}
