// Package catalog caches vending device product lists so repeated barcode
// lookups do not hit the vendor API for every scan.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/m3rciful/nalunchbot/core/logger"
	"github.com/m3rciful/nalunchbot/core/metrics"
	"github.com/m3rciful/nalunchbot/nalunch"
)

// DefaultTTL bounds how long a fetched product list stays valid.
const DefaultTTL = time.Hour

// FetchFunc loads the product list of a device from the vendor.
type FetchFunc func(ctx context.Context, deviceID string) ([]nalunch.Product, error)

// Cache is a TTL cache of per-device product maps. A single mutex serializes
// the whole check-then-refresh sequence: with a handful of chat users the
// lost concurrency is irrelevant and it guarantees one refresh per expiry.
type Cache struct {
	mu    sync.Mutex
	store *gocache.Cache
	fetch FetchFunc
}

// New builds a cache over the given fetch function. ttl <= 0 selects DefaultTTL.
func New(ttl time.Duration, fetch FetchFunc) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store: gocache.New(ttl, 2*ttl),
		fetch: fetch,
	}
}

// Products returns the product map of a device, refreshing the entry when it
// is missing or expired. A refresh fully replaces the previous entry; callers
// never observe a partially populated map.
func (c *Cache) Products(ctx context.Context, deviceID string) (map[string]nalunch.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.store.Get(deviceID); ok {
		metrics.CatalogLookup("hit")
		logger.Debug(ctx, "catalog", "catalog.lookup",
			slog.String("cache", "hit"),
			slog.String("device_id", deviceID),
		)
		return v.(map[string]nalunch.Product), nil
	}

	metrics.CatalogLookup("miss")
	start := time.Now()
	products, err := c.fetch(ctx, deviceID)
	if err != nil {
		logger.Error(ctx, "catalog", "catalog.refresh",
			slog.String("device_id", deviceID),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	byID := make(map[string]nalunch.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	c.store.SetDefault(deviceID, byID)
	metrics.CatalogLookup("refresh")

	logger.Info(ctx, "catalog", "catalog.refresh",
		slog.String("cache", "refresh"),
		slog.String("device_id", deviceID),
		slog.Int("items", len(byID)),
		slog.Duration("duration", logger.Took(start)),
	)
	return byID, nil
}
