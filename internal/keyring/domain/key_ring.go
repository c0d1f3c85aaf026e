package domain

// KeyRing is an immutable snapshot: every known key, and which one is
// active. It is replaced atomically by the key manager; readers hold a
// reference and see either the whole old ring or the whole new one, never
// a partially updated map — modeled on crypto/domain's KekChain/
// MasterKeyChain immutable-snapshot pattern, generalized from a sync.Map
// of mutable entries to a plain map built once and never mutated after
// construction, since KeyRing replacement is whole-object, not per-entry.
type KeyRing struct {
	entries    map[KeyHash]*KeyAndCache
	activeHash KeyHash
}

// NewKeyRing builds a ring from entries, keyed by their own KeyHash, with
// activeHash marked current. Returns ErrActiveKeyMissing if activeHash
// does not name one of entries — the invariant "the active key hash is
// always present in the ring" is enforced at construction, not checked
// later by callers.
func NewKeyRing(entries []*KeyAndCache, activeHash KeyHash) (*KeyRing, error) {
	m := make(map[KeyHash]*KeyAndCache, len(entries))
	for _, e := range entries {
		m[e.KeyHash()] = e
	}
	if _, ok := m[activeHash]; !ok {
		return nil, ErrActiveKeyMissing
	}
	return &KeyRing{entries: m, activeHash: activeHash}, nil
}

// Active returns the currently active KeyAndCache.
func (r *KeyRing) Active() *KeyAndCache { return r.entries[r.activeHash] }

// ActiveHash returns the active entry's KeyHash.
func (r *KeyRing) ActiveHash() KeyHash { return r.activeHash }

// Get looks up an entry by KeyHash, used by the legacy codec path to find
// the key a bearer string's salt/key_hash pair names.
func (r *KeyRing) Get(hash KeyHash) (*KeyAndCache, bool) {
	e, ok := r.entries[hash]
	return e, ok
}

// Newest returns the entry with the largest Timestamp, used by
// generateSpareKey and rotateToSpareKey to decide whether a spare already
// exists.
func (r *KeyRing) Newest() *KeyAndCache {
	var newest *KeyAndCache
	for _, e := range r.entries {
		if newest == nil || e.Timestamp() > newest.Timestamp() {
			newest = e
		}
	}
	return newest
}

// All returns every entry in the ring, in no particular order.
func (r *KeyRing) All() []*KeyAndCache {
	out := make([]*KeyAndCache, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Len reports the number of entries in the ring.
func (r *KeyRing) Len() int { return len(r.entries) }

// Close releases every entry's passphrase. Called when a ring is fully
// superseded and no longer reachable by any reader, never while a newer
// ring might still share entries with it (refreshMetaData preserves
// entries that survive across a rebuild specifically to avoid this).
func (r *KeyRing) Close() {
	for _, e := range r.entries {
		e.Close()
	}
}
