package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	defaultCartCacheTTL      = 30 * time.Minute
	defaultCartCacheCapacity = 10000
)

// CartCache is the process-local cart mirror. Entries expire after the TTL and the least
// recently written entry is evicted once capacity is reached.
type CartCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	clock    func() time.Time
	order    *list.List
	entries  map[string]*list.Element
}

type cartCacheEntry struct {
	cart     domain.Cart
	storedAt time.Time
}

var _ repositories.CartCache = (*CartCache)(nil)

// CartCacheOption customises the cache.
type CartCacheOption func(*CartCache)

// WithCartCacheClock injects the clock used for expiry.
func WithCartCacheClock(clock func() time.Time) CartCacheOption {
	return func(c *CartCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCartCache constructs a cache. Non-positive ttl or capacity fall back to defaults.
func NewCartCache(ttl time.Duration, capacity int, opts ...CartCacheOption) *CartCache {
	if ttl <= 0 {
		ttl = defaultCartCacheTTL
	}
	if capacity <= 0 {
		capacity = defaultCartCacheCapacity
	}
	cache := &CartCache{
		ttl:      ttl,
		capacity: capacity,
		clock:    time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

func (c *CartCache) Get(_ context.Context, cartID string) (domain.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[cartID]
	if !ok {
		return domain.Cart{}, false
	}
	entry := elem.Value.(*cartCacheEntry)
	if c.clock().Sub(entry.storedAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.entries, cartID)
		return domain.Cart{}, false
	}
	return entry.cart.Clone(), true
}

func (c *CartCache) Put(_ context.Context, cart domain.Cart) {
	if cart.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if elem, ok := c.entries[cart.ID]; ok {
		entry := elem.Value.(*cartCacheEntry)
		entry.cart = cart.Clone()
		entry.storedAt = now
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cartCacheEntry).cart.ID)
	}
	c.entries[cart.ID] = c.order.PushFront(&cartCacheEntry{cart: cart.Clone(), storedAt: now})
}

// Len reports the number of cached carts, including expired entries not yet evicted.
func (c *CartCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
