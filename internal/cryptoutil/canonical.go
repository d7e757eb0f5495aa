// Package cryptoutil provides canonical serialization, hashing, and
// signing primitives shared by the audit trail and certificate generator.
//
// Grounded on other_examples/71ee2000_FairForge-vaultaire (SHA-256 over
// JSON-marshaled proofs, hex-encoded) and
// other_examples/ed35965a_Mike-Gemutly-ArmorClaw (PreviousHash/EntryHash
// hash-chain fields). The teacher has no cryptographic primitives of its
// own; this package is new but follows the pack's convention of hashing a
// canonical JSON encoding rather than a language-specific struct dump.
package cryptoutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize produces a deterministic JSON encoding of v: object keys are
// sorted recursively, there is no insignificant whitespace, and numbers
// retain encoding/json's default (shortest, no trailing zeros, no
// exponents for integral values) formatting. Two calls with
// semantically-equal input always produce byte-identical output, which is
// the property the audit hash chain and certificate hashing depend on.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("cryptoutil: unmarshal for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
