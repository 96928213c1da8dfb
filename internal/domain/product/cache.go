package product

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is used when NewCache is given a non-positive TTL.
const DefaultCacheTTL = 30 * time.Second

// loadTimeout bounds a shared catalog load, which outlives the request that
// started it.
const loadTimeout = 5 * time.Second

// Lister is the read side of the catalog used by Cache.
type Lister interface {
	List(ctx context.Context) ([]Product, error)
}

// Cache keeps the storefront catalog in memory for a TTL. Admin mutations
// call Invalidate. When the store cannot be read and nothing is cached, the
// fallback catalog is served instead.
type Cache struct {
	src      Lister
	ttl      time.Duration
	fallback []Product
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	items    []Product
	loadedAt time.Time
	// gen is bumped by Invalidate. A load stores its result only if gen is
	// unchanged since it started.
	gen uint64
}

// NewCache creates a Cache over src.
func NewCache(src Lister, ttl time.Duration, fallback []Product) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		src:      src,
		ttl:      ttl,
		fallback: fallback,
		now:      time.Now,
	}
}

// Active returns the purchasable products. degraded is true when the result
// comes from a stale entry or the fallback catalog because the store failed.
func (c *Cache) Active(ctx context.Context) (items []Product, degraded bool) {
	if items, ok := c.fresh(); ok {
		return items, false
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// Keyed by generation so callers arriving after Invalidate never join a
	// load that started before it.
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		all, err := c.src.List(loadCtx)
		if err != nil {
			return nil, err
		}
		active := make([]Product, 0, len(all))
		for _, p := range all {
			if p.Purchasable() {
				active = append(active, p)
			}
		}
		c.mu.Lock()
		if c.gen == gen {
			c.items = active
			c.loadedAt = c.now()
		}
		c.mu.Unlock()
		return active, nil
	})
	if err == nil {
		return slices.Clone(v.([]Product)), false
	}

	zctx.From(ctx).Warn("Catalog unavailable, serving fallback", zap.Error(err))
	c.mu.RLock()
	stale := c.items
	c.mu.RUnlock()
	if stale != nil {
		return slices.Clone(stale), true
	}
	return slices.Clone(c.fallback), true
}

// Invalidate drops the cached catalog so the next read hits the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.items = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) fresh() ([]Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.items == nil || c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return slices.Clone(c.items), true
}
