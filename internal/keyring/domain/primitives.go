package domain

import "encoding/hex"

// KeyHash is the first 8 bytes of SHA-256 over a passphrase. It uniquely
// identifies a key across nodes without revealing the passphrase itself,
// and is what the wire format's legacy payload carries to name the key a
// ciphertext was sealed under.
type KeyHash [8]byte

// String renders the hash as hex, used in logs and metadata diffing.
func (h KeyHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero value (never a valid key hash).
func (h KeyHash) IsZero() bool { return h == KeyHash{} }

// Salt is the 32-byte random value mixed into PBKDF2 for the legacy codec
// path. One salt is generated per KeyAndCache at creation time; it is not
// re-randomized per encryption the way the IV is.
type Salt [32]byte

// IV is the 12-byte nonce for the legacy codec's AES-GCM seal, freshly
// generated on every encrypt call.
type IV [12]byte
