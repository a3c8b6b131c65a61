package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// CanonicalizeJSON returns a canonical form for a JSON document: object
// keys sorted, no insignificant whitespace, numeric tokens preserved as
// written. Chain hashes are computed over this form so that semantically
// identical bodies always hash identically.
func CanonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := canonicalizeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalizeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, _ := json.Marshal(t)
		buf.Write(b)
	case json.Number:
		buf.WriteString(t.String())
	case []interface{}:
		buf.WriteString("[")
		for i, vv := range t {
			if i > 0 {
				buf.WriteString(",")
			}
			if err := canonicalizeValue(buf, vv); err != nil {
				return err
			}
		}
		buf.WriteString("]")
	case map[string]interface{}:
		buf.WriteString("{")
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(",")
			}
			ks, _ := json.Marshal(k)
			buf.Write(ks)
			buf.WriteString(":")
			if err := canonicalizeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteString("}")
	default:
		return errors.New("unsupported json type")
	}
	return nil
}

// EntryHash computes sha256(prevHash || canonical(body)) as lowercase hex.
func EntryHash(prevHash string, bodyCanonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(bodyCanonical)
	return hex.EncodeToString(h.Sum(nil))
}
