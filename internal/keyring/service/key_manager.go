package service

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
	"github.com/allisson/bearertoken/internal/metadata"
)

// KeyManager exposes the four mutually exclusive key-rotation operations,
// plus the leader-driven rotation sequence that submits two acknowledged
// metadata updates. Grounded on crypto/usecase/kek_usecase.go's
// Create/Rotate/Unwrap shape, generalized from a KEK-per-database-row model
// to an in-memory KeyRing rebuilt from cluster metadata.
type KeyManager struct {
	mu        sync.Mutex // serializes generateSpareKey/rotateToSpareKey/pruneKeys/refreshMetaData
	ring      atomic.Pointer[keyringDomain.KeyRing]
	counter   atomic.Int64 // createdTimeStamps: monotonically increasing across the ring's lifetime
	channel   metadata.Channel
}

// NewKeyManager constructs a manager with an initial ephemeral ring of one
// key, matching the spec's "created at startup with one ephemeral key."
func NewKeyManager(channel metadata.Channel) (*KeyManager, error) {
	m := &KeyManager{channel: channel}

	kt := keyringDomain.KeyAndTimestamp{Passphrase: randomPassphrase(), Timestamp: m.counter.Add(1)}
	salt, err := randomSalt()
	if err != nil {
		return nil, err
	}
	entry := keyringDomain.NewKeyAndCache(kt, salt, NewDerivedKeyCache())
	ring, err := keyringDomain.NewKeyRing([]*keyringDomain.KeyAndCache{entry}, entry.KeyHash())
	if err != nil {
		return nil, err
	}
	m.ring.Store(ring)

	channel.Subscribe(func(meta metadata.KeyMetadata) {
		// Submit (called from RotateKeysOnMaster/SeedMetadata) always
		// releases m.mu before invoking the channel, so the callback
		// never runs with the lock already held — taking it here is safe
		// and keeps refreshMetaData mutually exclusive with
		// generateSpareKey/rotateToSpareKey/pruneKeys, per the mutual
		// exclusion the key manager's lock exists to enforce.
		_ = m.RefreshMetaData(meta)
	})

	return m, nil
}

// Ring returns the currently active KeyRing snapshot. Readers never lock;
// this is an atomic load of the whole-object pointer the key manager swaps
// on rotation.
func (m *KeyManager) Ring() *keyringDomain.KeyRing {
	return m.ring.Load()
}

// GenerateSpareKey implements generateSpareKey(): if the newest entry is
// already active, mints a fresh KeyAndCache and returns metadata describing
// the ring plus the new spare. Retries internally on KeyHash collision.
func (m *KeyManager) GenerateSpareKey(ctx context.Context) (metadata.KeyMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.ring.Load()
	if ring.Newest().KeyHash() != ring.ActiveHash() {
		return m.toMetadata(ring), nil
	}

	timestamp := m.counter.Add(1)
	for attempt := 0; attempt < 8; attempt++ {
		kt := keyringDomain.KeyAndTimestamp{Passphrase: randomPassphrase(), Timestamp: timestamp}
		candidate := keyringDomain.NewKeyAndCache(kt, mustSalt(), NewDerivedKeyCache())
		if _, collides := ring.Get(candidate.KeyHash()); collides {
			candidate.Close()
			continue
		}
		entries := append(ring.All(), candidate)
		meta := entriesToMetadata(entries, ring.ActiveHash())
		// The ring itself is only ever mutated by refreshMetaDataLocked,
		// via the metadata round trip through the cluster channel — this
		// candidate's passphrase has already been copied out into meta, so
		// it has no further use and must be closed to zero it.
		candidate.Close()
		return meta, nil
	}
	return metadata.KeyMetadata{}, keyringDomain.ErrHashCollision
}

// RotateToSpareKey implements rotateToSpareKey(): promotes the newest entry
// to active, or fails with ErrSpareKeyRequired if the newest is already
// active.
func (m *KeyManager) RotateToSpareKey(_ context.Context) (metadata.KeyMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.ring.Load()
	newest := ring.Newest()
	if newest.KeyHash() == ring.ActiveHash() {
		return metadata.KeyMetadata{}, keyringDomain.ErrSpareKeyRequired
	}
	return entriesToMetadata(ring.All(), newest.KeyHash()), nil
}

// PruneKeys implements pruneKeys(n): keeps the n entries with the largest
// timestamps, but never drops the currently-active entry even if it would
// otherwise fall outside the top n.
func (m *KeyManager) PruneKeys(_ context.Context, n int) (metadata.KeyMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.ring.Load()
	entries := ring.All()
	sortByTimestampDesc(entries)

	kept := make([]*keyringDomain.KeyAndCache, 0, n+1)
	activeKept := false
	for i, e := range entries {
		if i < n {
			kept = append(kept, e)
			if e.KeyHash() == ring.ActiveHash() {
				activeKept = true
			}
			continue
		}
		if e.KeyHash() == ring.ActiveHash() {
			kept = append(kept, e)
			activeKept = true
		}
	}
	if !activeKept {
		// Unreachable: the active entry is always in `entries`, so the loop
		// above always appends it once encountered.
		kept = append(kept, ring.Active())
	}

	return entriesToMetadata(kept, ring.ActiveHash()), nil
}

// RefreshMetaData implements refreshMetaData(metadata): rebuilds the ring
// from a list of {passphrase, timestamp}, reusing any existing KeyAndCache
// whose KeyHash already appears in the current ring so its derived-key
// cache survives the rebuild, and advances the timestamp counter to the
// max observed. Fails with ErrActiveKeyMissing if the named active hash
// isn't among the rebuilt entries.
func (m *KeyManager) RefreshMetaData(meta metadata.KeyMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshMetaDataLocked(meta)
}

func (m *KeyManager) refreshMetaDataLocked(meta metadata.KeyMetadata) error {
	current := m.ring.Load()

	existingByHash := make(map[keyringDomain.KeyHash]*keyringDomain.KeyAndCache)
	if current != nil {
		for _, e := range current.All() {
			existingByHash[e.KeyHash()] = e
		}
	}

	entries := make([]*keyringDomain.KeyAndCache, 0, len(meta.Keys))
	seen := make(map[keyringDomain.KeyHash]bool)
	var maxTS int64
	for _, k := range meta.Keys {
		kt := keyringDomain.KeyAndTimestamp{Passphrase: k.Passphrase, Timestamp: k.Timestamp}
		hash := keyringDomain.NewKeyAndCache(kt, keyringDomain.Salt{}, noopCache{}).KeyHash()
		if existing, ok := existingByHash[hash]; ok {
			entries = append(entries, existing)
		} else {
			entries = append(entries, keyringDomain.NewKeyAndCache(kt, mustSalt(), NewDerivedKeyCache()))
		}
		seen[hash] = true
		if k.Timestamp > maxTS {
			maxTS = k.Timestamp
		}
	}

	newRing, err := keyringDomain.NewKeyRing(entries, meta.ActiveKeyHash)
	if err != nil {
		return err
	}

	// Close only entries that did not survive into the new ring — surviving
	// entries keep their derived-key cache alive across the rebuild.
	if current != nil {
		for hash, e := range existingByHash {
			if !seen[hash] {
				e.Close()
			}
		}
	}

	m.ring.Store(newRing)
	for {
		old := m.counter.Load()
		if maxTS <= old || m.counter.CompareAndSwap(old, maxTS) {
			break
		}
	}
	return nil
}

// RotateKeysOnMaster implements rotateKeysOnMaster: a node that is the
// elected leader submits generateSpareKey's metadata, then on
// acknowledgment submits rotateToSpareKey's metadata. isLeader is injected
// by the caller (the cluster-membership component named in metadata's
// Subscribe wiring), not decided here.
func (m *KeyManager) RotateKeysOnMaster(ctx context.Context, isLeader bool) error {
	if !isLeader {
		return nil
	}

	spareMeta, err := m.GenerateSpareKey(ctx)
	if err != nil {
		return err
	}
	if err := m.channel.Submit(ctx, spareMeta, metadata.PriorityUrgent); err != nil {
		return err
	}

	rotateMeta, err := m.RotateToSpareKey(ctx)
	if err != nil {
		return err
	}
	return m.channel.Submit(ctx, rotateMeta, metadata.PriorityUrgent)
}

// SeedMetadata submits the current ring's metadata to the cluster
// coordination channel, for bootstrapping a node that has no metadata to
// subscribe onto yet (e.g. the first node in a new cluster).
func (m *KeyManager) SeedMetadata(ctx context.Context) (metadata.KeyMetadata, error) {
	m.mu.Lock()
	meta := m.toMetadata(m.ring.Load())
	m.mu.Unlock()

	if err := m.channel.Submit(ctx, meta, metadata.PriorityUrgent); err != nil {
		return metadata.KeyMetadata{}, err
	}
	return meta, nil
}

func (m *KeyManager) toMetadata(ring *keyringDomain.KeyRing) metadata.KeyMetadata {
	return entriesToMetadata(ring.All(), ring.ActiveHash())
}

func entriesToMetadata(entries []*keyringDomain.KeyAndCache, active keyringDomain.KeyHash) metadata.KeyMetadata {
	keys := make([]metadata.KeyEntry, 0, len(entries))
	for _, e := range entries {
		pass, err := e.Passphrase()
		if err != nil {
			continue
		}
		keys = append(keys, metadata.KeyEntry{Passphrase: pass, Timestamp: e.Timestamp()})
	}
	return metadata.KeyMetadata{Keys: keys, ActiveKeyHash: active}
}

func sortByTimestampDesc(entries []*keyringDomain.KeyAndCache) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Timestamp() > entries[j-1].Timestamp(); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func randomPassphrase() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

func randomSalt() (keyringDomain.Salt, error) {
	var s keyringDomain.Salt
	if _, err := rand.Read(s[:]); err != nil {
		return s, err
	}
	return s, nil
}

func mustSalt() keyringDomain.Salt {
	s, err := randomSalt()
	if err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return s
}

// noopCache is used only to compute a KeyHash without allocating a real
// bounded cache, when refreshMetaData needs to test a candidate hash for
// membership in existingByHash before deciding whether to reuse an entry.
type noopCache struct{}

func (noopCache) Get(keyringDomain.Salt) ([]byte, bool) { return nil, false }
func (noopCache) Put(keyringDomain.Salt, []byte)        {}
func (noopCache) Close()                                {}
