// package cache memoizes ObservedHostState per host with a TTL, an LRU
// eviction bound, and at-most-one in-flight fetch per host. It generalizes
// the mutex-guarded copy-in/copy-out mailbox this system's state package
// uses for transient secrets to a keyed, expiring, size-bounded store.
package cache // import "github.com/securesshmanager/ssm/internal/cache"

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/securesshmanager/ssm/internal/model"
)

// DefaultTTL is how long a fetched ObservedHostState is considered fresh
// absent a per-call override.
const DefaultTTL = 5 * time.Minute

// FetchFunc performs the actual (uncached) state fetch for a host.
type FetchFunc func(ctx context.Context, hostID int) (model.ObservedHostState, error)

type entry struct {
	state     model.ObservedHostState
	expiresAt time.Time
}

// Cache is a process-wide, concurrency-safe memoization layer over a
// FetchFunc, keyed by host ID.
type Cache struct {
	mu    sync.Mutex
	store *lru.Cache[int, entry]
	sf    singleflight.Group
	ttl   time.Duration
	fetch FetchFunc
}

// New builds a Cache bounded to capacity entries (default TTL applied when
// ttl <= 0), backed by fetch for misses.
func New(capacity int, ttl time.Duration, fetch FetchFunc) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store, err := lru.New[int, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru store: %w", err)
	}
	return &Cache{store: store, ttl: ttl, fetch: fetch}, nil
}

// Get returns fresh state for hostID, triggering a fetch on a miss or
// expiry. Concurrent callers for the same host share one in-flight fetch.
// An optional ttlOverride replaces the cache's default TTL for the entry
// this call produces.
func (c *Cache) Get(ctx context.Context, hostID int, ttlOverride ...time.Duration) (model.ObservedHostState, error) {
	c.mu.Lock()
	e, ok := c.store.Get(hostID)
	c.mu.Unlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.state, nil
	}

	ttl := c.ttl
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		ttl = ttlOverride[0]
	}

	key := fmt.Sprintf("%d", hostID)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		state, err := c.fetch(ctx, hostID)
		if err != nil {
			return model.ObservedHostState{}, err
		}
		c.mu.Lock()
		c.store.Add(hostID, entry{state: state, expiresAt: time.Now().Add(ttl)})
		c.mu.Unlock()
		return state, nil
	})
	if err != nil {
		return model.ObservedHostState{}, err
	}
	return v.(model.ObservedHostState), nil
}

// Invalidate evicts hostID's cached state, forcing the next Get to fetch.
// Callers invoke this after a successful apply, a host configuration
// change, a repository mutation touching the host's authorizations or
// keys, or on explicit administrative request.
func (c *Cache) Invalidate(hostID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Remove(hostID)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// Len reports how many host entries are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}
