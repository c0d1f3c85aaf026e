package domain

import (
	"crypto/sha256"
	"sync"
)

// KeyAndTimestamp is the wire/metadata shape of one key entry: a secret
// passphrase and the monotonically increasing timestamp that orders it
// against its siblings in a KeyRing.
type KeyAndTimestamp struct {
	Passphrase []byte
	Timestamp  int64
}

// DerivedKeyCache is a bounded, TTL-on-access cache from Salt to a derived
// AES key, scoped to one KeyAndCache. Implemented in
// internal/keyring/service since no library in the retrieved examples
// offers an LRU+TTL cache — see DESIGN.md for the stdlib justification.
type DerivedKeyCache interface {
	Get(salt Salt) ([]byte, bool)
	Put(salt Salt, key []byte)
	Close()
}

// KeyAndCache owns one passphrase-derived key family: the passphrase
// itself, the timestamp that orders it in the ring, its salt, its
// KeyHash, and a cache of salt-scoped derived keys (legacy tokens minted
// under different salts can still validate against the same passphrase).
//
// KeyAndCache is a closeable resource: Close zeroes the passphrase and
// drains the derived-key cache. Concurrent readers never block each other;
// only Close and StoreDerivedKey take the write path.
type KeyAndCache struct {
	mu         sync.RWMutex
	keyAndTime KeyAndTimestamp
	salt       Salt
	keyHash    KeyHash
	cache      DerivedKeyCache
	closed     bool
}

// NewKeyAndCache computes the KeyHash from passphrase and wraps it with
// salt and cache into an owned KeyAndCache. salt is generated once, at
// creation, by the caller (key manager), not derived from the passphrase.
func NewKeyAndCache(kt KeyAndTimestamp, salt Salt, cache DerivedKeyCache) *KeyAndCache {
	return &KeyAndCache{
		keyAndTime: kt,
		salt:       salt,
		keyHash:    computeKeyHash(kt.Passphrase),
		cache:      cache,
	}
}

// computeKeyHash returns the first 8 bytes of SHA-256(passphrase).
func computeKeyHash(passphrase []byte) KeyHash {
	sum := sha256.Sum256(passphrase)
	var h KeyHash
	copy(h[:], sum[:8])
	return h
}

// Timestamp returns the entry's ordering timestamp.
func (k *KeyAndCache) Timestamp() int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keyAndTime.Timestamp
}

// KeyHash returns the entry's key hash.
func (k *KeyAndCache) KeyHash() KeyHash { return k.keyHash }

// Salt returns the entry's salt.
func (k *KeyAndCache) Salt() Salt { return k.salt }

// Passphrase returns the entry's raw passphrase bytes. Callers must not
// retain or mutate the returned slice past the KeyAndCache's lifetime.
func (k *KeyAndCache) Passphrase() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, ErrKeyClosed
	}
	return k.keyAndTime.Passphrase, nil
}

// CachedKey returns a previously derived key for salt, if present and
// unexpired.
func (k *KeyAndCache) CachedKey(salt Salt) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, false
	}
	return k.cache.Get(salt)
}

// StoreDerivedKey records a freshly computed derived key for salt.
func (k *KeyAndCache) StoreDerivedKey(salt Salt, key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.cache.Put(salt, key)
}

// Close zeroes the passphrase and releases the derived-key cache. Close is
// idempotent.
func (k *KeyAndCache) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	Zero(k.keyAndTime.Passphrase)
	k.cache.Close()
	k.closed = true
}
