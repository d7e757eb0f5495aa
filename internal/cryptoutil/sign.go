package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSigningKey creates a new ed25519 keypair for certificate signing.
// Stdlib ed25519 is used rather than a third-party signing library: the
// teacher carries golang.org/x/crypto only as an indirect dependency of
// its HTTP/db stack, never for signing, and no example repo in the pack
// uses an alternative asymmetric-signature library — see DESIGN.md.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign signs payload with priv and returns the hex-encoded signature.
func Sign(priv ed25519.PrivateKey, payload []byte) string {
	sig := ed25519.Sign(priv, payload)
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature against payload and pub.
func Verify(pub ed25519.PublicKey, payload []byte, hexSig string) (bool, error) {
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return false, fmt.Errorf("cryptoutil: decode signature: %w", err)
	}
	return ed25519.Verify(pub, payload, sig), nil
}
