package pubkey

import (
	"crypto/rand"
	"encoding/hex"
)

// newNonce returns a fresh 128-bit nonce as 32 lowercase hex characters.
// Nonces authenticate a single verification and are wiped on use, so
// they are stored as-is.
func newNonce() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
