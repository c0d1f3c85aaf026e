// Package codec implements the version-prefixed bearer string wire format:
// a modern opaque-id encoding and a legacy AES-GCM encoding, per §4.1/§6 of
// the token service design.
package codec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
)

// Version identifies which payload shape follows the 4-byte version word.
type Version uint32

const (
	// VersionModern encodes a bare length-prefixed token id, used once
	// every node in the cluster is known to be >= 7.1.0.
	VersionModern Version = 2
	// VersionLegacy encodes salt||key_hash||iv||AES-GCM(token id), used for
	// bearers minted before the cluster-wide upgrade.
	VersionLegacy Version = 1
)

// errShortPayload etc. are internal decode failures. None of these ever
// reach a caller: Decode maps every one of them to ("", false) per the
// spec's failure policy — another authenticator may own the bearer.
var (
	errShortPayload = errors.New("codec: payload too short")
	errUnknownKey   = errors.New("codec: unknown key hash")
	errUnknownVer   = errors.New("codec: unknown version")
	errAuthFailed   = errors.New("codec: authentication failed")
)

// Codec encodes UserToken ids to bearer strings and decodes them back.
// ring is read fresh on every call via the supplied func so a rotation
// mid-flight is picked up without the Codec holding a stale snapshot.
type Codec struct {
	ring       func() *keyringDomain.KeyRing
	executor   *DerivationExecutor
}

// NewCodec builds a Codec against a live ring accessor and the shared
// derivation executor.
func NewCodec(ring func() *keyringDomain.KeyRing, executor *DerivationExecutor) *Codec {
	return &Codec{ring: ring, executor: executor}
}

// EncodeModern produces the version-2 opaque bearer string: base64 of
// version(4) || length-prefixed tokenID.
func EncodeModern(tokenID string) string {
	payload := encodeLengthPrefixed(tokenID)
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(VersionModern))
	copy(buf[4:], payload)
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodeLegacy produces the version-1 bearer string: base64 of
// version(4) || salt(32) || key_hash(8) || iv(12) || AES-GCM(tokenID).
// Associated data for the GCM tag is version(4) || salt(32), matching
// the spec exactly.
func (c *Codec) EncodeLegacy(ctx context.Context, tokenID string) (string, error) {
	ring := c.ring()
	active := ring.Active()

	salt := active.Salt()
	passphrase, err := active.Passphrase()
	if err != nil {
		return "", err
	}

	key, err := c.deriveCached(ctx, active, salt, passphrase)
	if err != nil {
		return "", err
	}

	var iv keyringDomain.IV
	if _, err := rand.Read(iv[:]); err != nil {
		return "", fmt.Errorf("codec: generating iv: %w", err)
	}

	aad := associatedData(VersionLegacy, salt)
	ciphertext, err := sealAESGCM(key, iv, encodeLengthPrefixed(tokenID), aad)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, 4+32+8+12+len(ciphertext))
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], uint32(VersionLegacy))
	buf = append(buf, verBuf[:]...)
	buf = append(buf, salt[:]...)
	hash := active.KeyHash()
	buf = append(buf, hash[:]...)
	buf = append(buf, iv[:]...)
	buf = append(buf, ciphertext...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode reads the version word and dispatches to the modern or legacy
// path. Per the spec's failure policy, any decoding error yields ("",
// false) rather than an error — callers must treat that as "no token",
// never as a hard failure, since another authenticator may own the
// bearer string.
func (c *Codec) Decode(ctx context.Context, bearer string) (tokenID string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(bearer)
	if err != nil || len(raw) < 4 {
		return "", false
	}

	version := Version(binary.BigEndian.Uint32(raw[:4]))
	switch version {
	case VersionModern:
		id, err := decodeLengthPrefixed(raw[4:])
		if err != nil {
			return "", false
		}
		return id, true
	case VersionLegacy:
		id, err := c.decodeLegacy(ctx, raw)
		if err != nil {
			return "", false
		}
		return id, true
	default:
		return "", false
	}
}

func (c *Codec) decodeLegacy(ctx context.Context, raw []byte) (string, error) {
	if len(raw) < 4+32+8+12 {
		return "", errShortPayload
	}

	var salt keyringDomain.Salt
	copy(salt[:], raw[4:36])
	var hash keyringDomain.KeyHash
	copy(hash[:], raw[36:44])
	var iv keyringDomain.IV
	copy(iv[:], raw[44:56])
	ciphertext := raw[56:]

	entry, found := c.ring().Get(hash)
	if !found {
		return "", errUnknownKey
	}

	passphrase, err := entry.Passphrase()
	if err != nil {
		return "", err
	}

	key, err := c.deriveCached(ctx, entry, salt, passphrase)
	if err != nil {
		return "", err
	}

	aad := associatedData(VersionLegacy, salt)
	plaintext, err := openAESGCM(key, iv, ciphertext, aad)
	if err != nil {
		return "", errAuthFailed
	}

	return decodeLengthPrefixed(plaintext)
}

// deriveCached checks the KeyAndCache's bounded cache before paying for a
// PBKDF2 derivation on the dedicated executor.
func (c *Codec) deriveCached(
	ctx context.Context,
	entry *keyringDomain.KeyAndCache,
	salt keyringDomain.Salt,
	passphrase []byte,
) ([]byte, error) {
	if key, hit := entry.CachedKey(salt); hit {
		return key, nil
	}
	key, err := c.executor.Derive(ctx, passphrase, salt)
	if err != nil {
		return nil, err
	}
	entry.StoreDerivedKey(salt, key)
	return key, nil
}

func associatedData(version Version, salt keyringDomain.Salt) []byte {
	aad := make([]byte, 0, 4+32)
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], uint32(version))
	aad = append(aad, verBuf[:]...)
	aad = append(aad, salt[:]...)
	return aad
}

func encodeLengthPrefixed(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

func decodeLengthPrefixed(b []byte) (string, error) {
	if len(b) < 4 {
		return "", errShortPayload
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return "", errShortPayload
	}
	return string(b[4 : 4+n]), nil
}

func sealAESGCM(key []byte, iv keyringDomain.IV, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv[:], plaintext, aad), nil
}

func openAESGCM(key []byte, iv keyringDomain.IV, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv[:], ciphertext, aad)
}
