package service

import (
	"container/list"
	"sync"
	"time"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
)

// derivedKeyCacheEntry is one salt->key mapping tracked by the LRU list.
type derivedKeyCacheEntry struct {
	salt       keyringDomain.Salt
	key        []byte
	expiresAt  time.Time
}

// boundedTTLCache is a capacity-bounded, TTL-on-access cache from
// Salt to a derived key. No LRU/TTL cache library turned up anywhere in
// the retrieved example pack (go.mod/go.sum search across all five repos
// and other_examples/ found no hashicorp/golang-lru, patrickmn/go-cache,
// jellydator/ttlcache, or similar) — this is implemented on container/list
// + sync.Mutex per the required stdlib-only justification in DESIGN.md.
//
// "TTL-on-access" means Get both checks and renews expiry: a salt that
// keeps getting used stays cached; one that goes cold for the TTL window
// is evicted on its next lookup or at capacity pressure, whichever first.
type boundedTTLCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // front = most recently used
	index    map[keyringDomain.Salt]*list.Element
	now      func() time.Time
}

// newBoundedTTLCache builds a cache with the given capacity and TTL. now
// defaults to time.Now; tests may override it.
func newBoundedTTLCache(capacity int, ttl time.Duration, now func() time.Time) *boundedTTLCache {
	if now == nil {
		now = time.Now
	}
	return &boundedTTLCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		index:    make(map[keyringDomain.Salt]*list.Element),
		now:      now,
	}
}

// Get returns the cached key for salt if present and unexpired, renewing
// its TTL and promoting it to most-recently-used.
func (c *boundedTTLCache) Get(salt keyringDomain.Salt) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[salt]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*derivedKeyCacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	entry.expiresAt = c.now().Add(c.ttl)
	c.ll.MoveToFront(el)
	return entry.key, true
}

// Put inserts or refreshes the cached key for salt, evicting the least
// recently used entry if the cache is at capacity.
func (c *boundedTTLCache) Put(salt keyringDomain.Salt, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[salt]; ok {
		entry := el.Value.(*derivedKeyCacheEntry)
		keyringDomain.Zero(entry.key)
		entry.key = key
		entry.expiresAt = c.now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	for c.ll.Len() >= c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}

	entry := &derivedKeyCacheEntry{salt: salt, key: key, expiresAt: c.now().Add(c.ttl)}
	el := c.ll.PushFront(entry)
	c.index[salt] = el
}

// Close zeroes every cached key and drops all entries.
func (c *boundedTTLCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keyringDomain.Zero(el.Value.(*derivedKeyCacheEntry).key)
	}
	c.ll.Init()
	c.index = make(map[keyringDomain.Salt]*list.Element)
}

// removeElement drops el from both the list and the index, zeroing its key.
func (c *boundedTTLCache) removeElement(el *list.Element) {
	entry := el.Value.(*derivedKeyCacheEntry)
	keyringDomain.Zero(entry.key)
	c.ll.Remove(el)
	delete(c.index, entry.salt)
}

// DerivedKeyCacheCapacity and DerivedKeyCacheTTL are the spec's fixed
// bounds for every KeyAndCache's derived-key cache.
const (
	DerivedKeyCacheCapacity = 500
	DerivedKeyCacheTTL      = 60 * time.Minute
)

// NewDerivedKeyCache builds the production bounded TTL cache used by every
// KeyAndCache created through the key manager.
func NewDerivedKeyCache() keyringDomain.DerivedKeyCache {
	return newBoundedTTLCache(DerivedKeyCacheCapacity, DerivedKeyCacheTTL, nil)
}
