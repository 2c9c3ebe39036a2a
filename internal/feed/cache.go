package feed

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/cache"
	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

// DefaultCacheTTL bounds how stale a served page can be
const DefaultCacheTTL = 300 * time.Second

// JSONStore is the key-value capability the feed cache needs
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cache stores rendered pages keyed by tier and cursor. It is never
// invalidated on writes; entries simply expire.
type Cache struct {
	store  JSONStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a page cache with the given TTL
func NewCache(store JSONStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl, logger: logging.WithComponent("feed-cache")}
}

// CacheKey returns feed:{pro|free}:{cursor|first}
func CacheKey(subscribed bool, cursor int64) string {
	tier := "free"
	if subscribed {
		tier = "pro"
	}
	c := "first"
	if cursor > 0 {
		c = strconv.FormatInt(cursor, 10)
	}
	return "feed:" + tier + ":" + c
}

// Get returns the cached page for key. Any read or decode failure is a miss.
func (c *Cache) Get(ctx context.Context, key string) (*Page, bool) {
	var page Page
	err := c.store.GetJSON(ctx, key, &page)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Feed cache read failed", zap.String("key", key), zap.Error(err))
		}
		telemetry.RecordCacheLookup(ctx, false)
		return nil, false
	}
	telemetry.RecordCacheLookup(ctx, true)
	return &page, true
}

// Set stores page under key. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, page *Page) {
	if err := c.store.SetJSON(ctx, key, page, c.ttl); err != nil {
		c.logger.Warn("Feed cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// ParseCursor converts a client supplied cursor to a post id. Anything that is
// not a positive integer means "start from the first page".
func ParseCursor(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
