package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront-bridge/internal/model"
)

const (
	DefaultCartHashKey  = "wc_cart_hash"
	DefaultFragmentName = "wc_fragments"
	CreatedKey          = "wc_cart_created"

	// DefaultMaxAge matches the store's cart cookie lifetime.
	DefaultMaxAge = 24 * time.Hour
)

// Snapshot is a cached fragment payload.
type Snapshot struct {
	Fragments model.FragmentMap
	CartHash  string
	Created   time.Time
}

// FragmentCache reads and writes the fragment payload in a Store under the
// store-specific key names.
type FragmentCache struct {
	store        Store
	cartHashKey  string
	fragmentName string
	maxAge       time.Duration
	now          func() time.Time
}

// CacheOption configures a FragmentCache.
type CacheOption func(*FragmentCache)

// WithKeys overrides the cart hash and fragment key names. Empty values keep
// the defaults.
func WithKeys(cartHashKey, fragmentName string) CacheOption {
	return func(c *FragmentCache) {
		if cartHashKey != "" {
			c.cartHashKey = cartHashKey
		}
		if fragmentName != "" {
			c.fragmentName = fragmentName
		}
	}
}

// WithMaxAge sets how long a cached cart stays valid.
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *FragmentCache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *FragmentCache) { c.now = now }
}

// NewFragmentCache creates a cache over store.
func NewFragmentCache(store Store, opts ...CacheOption) *FragmentCache {
	c := &FragmentCache{
		store:        store,
		cartHashKey:  DefaultCartHashKey,
		fragmentName: DefaultFragmentName,
		maxAge:       DefaultMaxAge,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save stores the fragments and cart hash. The creation time is written only
// the first time a cart hash is seen, and dropped with an empty cart.
func (c *FragmentCache) Save(fragments model.FragmentMap, cartHash string) error {
	data, err := json.Marshal(fragments)
	if err != nil {
		return fmt.Errorf("encoding fragments: %w", err)
	}
	c.store.Set(c.fragmentName, string(data))

	if cartHash == "" {
		c.store.Delete(c.cartHashKey)
		c.store.Delete(CreatedKey)
		return nil
	}
	c.store.Set(c.cartHashKey, cartHash)
	if _, ok := c.store.Get(CreatedKey); !ok {
		c.store.Set(CreatedKey, strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	return nil
}

// Load returns the cached payload. ok is false when nothing usable is cached:
// no fragments, an undecodable entry, or a cart older than the max age.
func (c *FragmentCache) Load() (snap Snapshot, ok bool) {
	raw, found := c.store.Get(c.fragmentName)
	if !found || raw == "" {
		return Snapshot{}, false
	}
	if err := json.Unmarshal([]byte(raw), &snap.Fragments); err != nil || len(snap.Fragments) == 0 {
		return Snapshot{}, false
	}
	snap.CartHash, _ = c.store.Get(c.cartHashKey)

	if ms, found := c.store.Get(CreatedKey); found {
		n, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return Snapshot{}, false
		}
		snap.Created = time.UnixMilli(n)
		if c.now().Sub(snap.Created) > c.maxAge {
			c.Clear()
			return Snapshot{}, false
		}
	}
	return snap, true
}

// CartHash returns the cached cart hash, or "".
func (c *FragmentCache) CartHash() string {
	h, _ := c.store.Get(c.cartHashKey)
	return h
}

// Clear removes the payload, hash and creation time.
func (c *FragmentCache) Clear() {
	c.store.Delete(c.fragmentName)
	c.store.Delete(c.cartHashKey)
	c.store.Delete(CreatedKey)
}
