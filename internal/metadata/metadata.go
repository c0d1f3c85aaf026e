// Package metadata models the cluster-state replicated-metadata channel
// the token service's key manager rotates keys through. The real
// coordination service is explicitly an out-of-scope external collaborator
// per the token-service design; this package defines the interface boundary
// and an in-memory implementation so the key manager has something concrete
// to drive and this repository's tests have something concrete to exercise.
package metadata

import (
	"context"
	"sync"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
)

// KeyEntry is the wire shape of one key inside the metadata slot:
// {passphrase, timestamp}.
type KeyEntry struct {
	Passphrase []byte
	Timestamp  int64
}

// KeyMetadata is the custom cluster-metadata type the key manager installs
// and replaces on rotation: the full key list plus which one is active.
type KeyMetadata struct {
	Keys          []KeyEntry
	ActiveKeyHash keyringDomain.KeyHash
}

// Priority names the urgency of a metadata submission. Key rotation always
// submits at PriorityUrgent per the spec.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityUrgent
)

// Channel is the replicated-metadata facility with acknowledged updates.
// Submit blocks until the update is acknowledged by the coordination
// service (or ctx is done) and reports only whether that succeeded; it
// does not return the metadata that is now live.
type Channel interface {
	// Get returns the currently installed metadata, or ok=false if the slot
	// has never been installed.
	Get(ctx context.Context) (KeyMetadata, bool, error)

	// Submit installs newMeta as the live metadata and returns once
	// acknowledged. priority only affects scheduling under the real
	// coordination service; the in-memory implementation ignores it.
	Submit(ctx context.Context, newMeta KeyMetadata, priority Priority) error

	// Subscribe registers fn to be invoked every time the live metadata
	// changes (including changes submitted by this process). The in-memory
	// implementation invokes fn synchronously on the goroutine that called
	// Submit, before Submit returns. The key manager's refreshMetaData rebuild is wired
	// here, not called inline from Submit, so every node — including the
	// one that originated the rotation — rebuilds its KeyRing off the same
	// observed-update path.
	Subscribe(fn func(KeyMetadata))
}

// inMemoryChannel is a single-process stand-in for the cluster coordination
// service: a mutex-guarded slot plus a list of subscribers invoked
// synchronously on Submit. It has no ack-timeout behavior to model because
// there is no second node to lag behind.
type inMemoryChannel struct {
	mu          sync.Mutex
	meta        KeyMetadata
	installed   bool
	subscribers []func(KeyMetadata)
}

// NewInMemoryChannel returns a Channel usable in-process and in tests, with
// no slot installed yet.
func NewInMemoryChannel() Channel {
	return &inMemoryChannel{}
}

func (c *inMemoryChannel) Get(_ context.Context) (KeyMetadata, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta, c.installed, nil
}

func (c *inMemoryChannel) Submit(_ context.Context, newMeta KeyMetadata, _ Priority) error {
	c.mu.Lock()
	c.meta = newMeta
	c.installed = true
	subs := append([]func(KeyMetadata){}, c.subscribers...)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(newMeta)
	}
	return nil
}

func (c *inMemoryChannel) Subscribe(fn func(KeyMetadata)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}
