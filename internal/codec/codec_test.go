package codec

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
	keyringService "github.com/allisson/bearertoken/internal/keyring/service"
	"github.com/allisson/bearertoken/internal/metadata"
)

func newTestRing(t *testing.T) (*keyringDomain.KeyRing, *keyringDomain.KeyAndCache) {
	t.Helper()
	entry := keyringDomain.NewKeyAndCache(
		keyringDomain.KeyAndTimestamp{Passphrase: []byte("0123456789abcdef0123456789abcdef"), Timestamp: 1},
		keyringDomain.Salt{1, 2, 3},
		newNoopCache(),
	)
	ring, err := keyringDomain.NewKeyRing([]*keyringDomain.KeyAndCache{entry}, entry.KeyHash())
	require.NoError(t, err)
	return ring, entry
}

type noopCache struct{}

func newNoopCache() keyringDomain.DerivedKeyCache { return noopCache{} }
func (noopCache) Get(keyringDomain.Salt) ([]byte, bool) { return nil, false }
func (noopCache) Put(keyringDomain.Salt, []byte)        {}
func (noopCache) Close()                                {}

// Property 1: codec round-trip — for any UserToken id and any accepted
// version, decode(encode(token)) yields the same id.
func TestEncodeDecode_ModernRoundTrip(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer := EncodeModern("token-id-123")
	id, ok := c.Decode(context.Background(), bearer)
	require.True(t, ok)
	assert.Equal(t, "token-id-123", id)
}

func TestEncodeDecode_LegacyRoundTrip(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer, err := c.EncodeLegacy(context.Background(), "token-id-456")
	require.NoError(t, err)

	id, ok := c.Decode(context.Background(), bearer)
	require.True(t, ok)
	assert.Equal(t, "token-id-456", id)
}

// Property 2: opacity — the encoded bearer does not contain the token id
// as plaintext under the legacy format, and the ciphertext differs across
// IVs (AES-GCM seal is never deterministic across calls).
func TestEncodeLegacy_OpacityAndIVUniqueness(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	tokenID := "super-secret-token-id"
	bearerA, err := c.EncodeLegacy(context.Background(), tokenID)
	require.NoError(t, err)
	bearerB, err := c.EncodeLegacy(context.Background(), tokenID)
	require.NoError(t, err)

	rawA, err := base64.StdEncoding.DecodeString(bearerA)
	require.NoError(t, err)
	assert.NotContains(t, string(rawA), tokenID, "legacy bearer must not carry the token id as plaintext")

	assert.NotEqual(t, bearerA, bearerB, "two legacy encodings of the same id must differ (fresh IV each call)")
}

func TestDecode_UnknownVersionFails(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	raw := []byte{0, 0, 0, 99, 1, 2, 3}
	bearer := base64.StdEncoding.EncodeToString(raw)

	_, ok := c.Decode(context.Background(), bearer)
	assert.False(t, ok)
}

func TestDecode_GarbageInputFails(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	_, ok := c.Decode(context.Background(), "not-valid-base64-!!!")
	assert.False(t, ok)
}

func TestDecode_UnknownKeyHashFails(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer, err := c.EncodeLegacy(context.Background(), "some-id")
	require.NoError(t, err)

	// Swap to a ring with a different key so the key hash in the encoded
	// bearer no longer resolves — another authenticator may own this bearer.
	other := keyringDomain.NewKeyAndCache(
		keyringDomain.KeyAndTimestamp{Passphrase: []byte("different-passphrase-entirely!!"), Timestamp: 2},
		keyringDomain.Salt{9, 9, 9},
		newNoopCache(),
	)
	otherRing, err := keyringDomain.NewKeyRing([]*keyringDomain.KeyAndCache{other}, other.KeyHash())
	require.NoError(t, err)
	c2 := NewCodec(func() *keyringDomain.KeyRing { return otherRing }, c.executor)

	_, ok := c2.Decode(context.Background(), bearer)
	assert.False(t, ok)
}

func TestDecode_TamperedCiphertextFailsAuth(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer, err := c.EncodeLegacy(context.Background(), "some-id")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(bearer)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip the last ciphertext byte
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, ok := c.Decode(context.Background(), tampered)
	assert.False(t, ok)
}

func TestEncodeModern_EmptyIDRoundTrips(t *testing.T) {
	ring, _ := newTestRing(t)
	c := NewCodec(func() *keyringDomain.KeyRing { return ring }, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer := EncodeModern("")
	id, ok := c.Decode(context.Background(), bearer)
	require.True(t, ok)
	assert.Equal(t, "", id)
}

// S8: a legacy bearer minted before the cluster-wide upgrade to the
// modern opaque encoding must keep decoding across a key rotation until
// the old key is pruned, at which point decode must fail. Grounded on a
// real keyring.service.KeyManager rather than a hand-built ring, since the
// rotation sequencing (generate spare, promote, prune) is the manager's
// own responsibility.
func TestCodec_KeyRotation_LegacyBearerSurvivesUntilPruned(t *testing.T) {
	ch := metadata.NewInMemoryChannel()
	km, err := keyringService.NewKeyManager(ch)
	require.NoError(t, err)

	c := NewCodec(km.Ring, NewDerivationExecutor(1000, 10))
	defer c.executor.Close()

	bearer, err := c.EncodeLegacy(context.Background(), "legacy-token-id")
	require.NoError(t, err)

	id, ok := c.Decode(context.Background(), bearer)
	require.True(t, ok)
	assert.Equal(t, "legacy-token-id", id)

	require.NoError(t, km.RotateKeysOnMaster(context.Background(), true))

	id, ok = c.Decode(context.Background(), bearer)
	require.True(t, ok, "a bearer minted under the old key must still decode until pruned")
	assert.Equal(t, "legacy-token-id", id)

	pruned, err := km.PruneKeys(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, km.RefreshMetaData(pruned))

	_, ok = c.Decode(context.Background(), bearer)
	assert.False(t, ok, "decode must fail once the key the bearer names has been pruned")
}
