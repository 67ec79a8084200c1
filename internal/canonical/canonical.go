// Package canonical produces deterministic serializations of JSON-like value
// trees and derives content-addressed identities from them. Two records with
// identical content always canonicalize to byte-identical output, regardless
// of map insertion order or the host representation of numbers and strings.
package canonical

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// IdentityField is the record field that carries the content hash. It is
// excluded from identity computation by default.
const IdentityField = "asset_id"

// IdentityPrefix is prepended to the hex digest of every computed identity.
const IdentityPrefix = "sha256:"

// Canonicalize serializes a value tree (nil, bool, number, string, list,
// map) into a stable string form. Map keys are sorted lexicographically at
// every level; list order is preserved. Non-finite numbers serialize as the
// null literal.
func Canonicalize(v any) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

// ComputeIdentity removes the excluded fields from the record, canonicalizes
// the remainder, and returns "sha256:" plus the hex digest. When no exclude
// list is given, IdentityField is excluded.
func ComputeIdentity(record map[string]any, exclude ...string) string {
	if len(exclude) == 0 {
		exclude = []string{IdentityField}
	}
	trimmed := make(map[string]any, len(record))
	for k, v := range record {
		skip := false
		for _, ex := range exclude {
			if k == ex {
				skip = true
				break
			}
		}
		if !skip {
			trimmed[k] = v
		}
	}
	sum := sha256.Sum256([]byte(Canonicalize(trimmed)))
	return IdentityPrefix + fmt.Sprintf("%x", sum)
}

// VerifyIdentity recomputes the record's identity and compares it against the
// stored IdentityField value. Records without a stored identity never verify.
func VerifyIdentity(record map[string]any) bool {
	stored, ok := record[IdentityField].(string)
	if !ok || stored == "" {
		return false
	}
	return ComputeIdentity(record) == stored
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeString(b, val)
	case float64:
		writeFloat(b, val)
	case float32:
		writeFloat(b, float64(val))
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			writeFloat(b, f)
		} else {
			b.WriteString("null")
		}
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		writeMap(b, val)
	default:
		// Unknown kinds round-trip through encoding/json so struct values
		// canonicalize identically to their decoded map form.
		data, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			b.WriteString("null")
			return
		}
		writeValue(b, decoded)
	}
}

func writeMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, k)
		b.WriteByte(':')
		writeValue(b, m[k])
	}
	b.WriteByte('}')
}

// writeFloat renders integral values without a fractional part so 3 and 3.0
// hash identically. NaN and infinities have no JSON form and become null.
func writeFloat(b *strings.Builder, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.WriteString("null")
		return
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
