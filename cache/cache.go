package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/nanzhong/marketdata/degrade"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
)

const (
	StockTTL = 5 * time.Minute
	RateTTL  = 5 * time.Minute
	FundTTL  = time.Hour
)

// TTL returns how long a response for dataType stays fresh.
func TTL(dataType market.DataType) time.Duration {
	switch dataType {
	case market.MutualFund:
		return FundTTL
	case market.ExchangeRate:
		return RateTTL
	default:
		return StockTTL
	}
}

// Key derives the cache key for a request. Symbol order and duplicates do not
// change the key.
func Key(dataType market.DataType, symbols []string) string {
	seen := make(map[string]struct{}, len(symbols))
	var unique []string
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}
	sort.Strings(unique)

	if len(unique) == 1 {
		return string(dataType) + ":" + unique[0]
	}
	return string(dataType) + ":multi:" + strings.Join(unique, ",")
}

// Entry is a cached response map.
type Entry struct {
	Data     map[string]market.Item `json:"data"`
	CachedAt time.Time              `json:"cachedAt"`
}

// Store is a key/value backend with per-key expiry. Get returns nil, nil on a
// miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// Cache fronts a Store and never reports its failures. A nil store makes every
// lookup a miss.
type Cache struct {
	store Store
	log   *logger.Entry
	now   func() time.Time
}

func New(store Store, log *logger.Log) *Cache {
	return &Cache{
		store: store,
		log:   log.WithComponent("cache"),
		now:   time.Now,
	}
}

// Get returns the entry under key, or nil on a miss or store failure.
func (c *Cache) Get(ctx context.Context, key string) *Entry {
	if c == nil || c.store == nil {
		return nil
	}
	return degrade.Value(c.log.WithFields(logger.Fields{"key": key}), "cache get", func() (*Entry, error) {
		return c.store.Get(ctx, key)
	})
}

// Set stores data under key. Failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, data map[string]market.Item, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}
	entry := &Entry{Data: data, CachedAt: c.now().UTC()}
	degrade.Do(c.log.WithFields(logger.Fields{"key": key}), "cache set", func() error {
		return c.store.Set(ctx, key, entry, ttl)
	})
}
