// Package canon provides canonical JSON encoding and the lexical-concatenation
// hashing scheme shared by the ledger, executor and round coordinator.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Marshal encodes v as JSON with recursively sorted object keys. Array order
// is preserved. This is the canonical form used for block and transaction
// hashing so that any two correct nodes serialize identical data identically.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(sortValue(generic))
}

func sortValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = sortValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = sortValue(e)
		}
		return out
	default:
		return vv
	}
}

// SHA256Hex returns the lowercase 64-char hex SHA-256 digest of data, with no
// "0x" prefix — the hash/signature convention fixed by the wire format.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFields computes SHA256 over the lexical concatenation of fields, using
// the literal string "null" for any field that is nil. This is the hashing
// scheme transactions and blocks use: no separators, no length prefixes, the
// exact byte sequence of each field (or "null") one after another.
func HashFields(fields ...*string) string {
	h := sha256.New()
	for _, f := range fields {
		if f == nil {
			h.Write([]byte("null"))
			continue
		}
		h.Write([]byte(*f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
