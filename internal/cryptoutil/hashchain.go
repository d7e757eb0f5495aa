package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// LinkHash computes the hash of a chain entry given the previous entry's
// hash and the canonical bytes of the current entry's payload. This is the
// link function the audit trail uses to chain entries: each entry's hash
// covers both its own content and everything before it, so altering any
// entry invalidates every hash computed after it.
//
// Grounded on other_examples/ed35965a_Mike-Gemutly-ArmorClaw's
// ComplianceEntry{PreviousHash,EntryHash} construction via crypto/sha256.
func LinkHash(previousHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex-encoded SHA-256 digest of b, used where there is no
// preceding link: the audit trail's genesis seed and the workflow request hash.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
