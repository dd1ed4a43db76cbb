package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		dataType market.DataType
		symbols  []string
		want     string
	}{
		{"single", market.USStock, []string{"AAPL"}, "us-stock:AAPL"},
		{"single pair", market.ExchangeRate, []string{"USD-JPY"}, "exchange-rate:USD-JPY"},
		{"multi sorted", market.ExchangeRate, []string{"USD-JPY", "EUR-JPY"}, "exchange-rate:multi:EUR-JPY,USD-JPY"},
		{"duplicates collapse", market.JPStock, []string{"7203", "7203"}, "jp-stock:7203"},
		{"multi dedupe", market.USStock, []string{"MSFT", "AAPL", "MSFT"}, "us-stock:multi:AAPL,MSFT"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, Key(test.dataType, test.symbols))
		})
	}

	assert.Equal(t,
		Key(market.USStock, []string{"AAPL", "MSFT", "GOOG"}),
		Key(market.USStock, []string{"GOOG", "AAPL", "MSFT"}),
	)
}

func TestTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TTL(market.USStock))
	assert.Equal(t, 5*time.Minute, TTL(market.JPStock))
	assert.Equal(t, 5*time.Minute, TTL(market.ExchangeRate))
	assert.Equal(t, time.Hour, TTL(market.MutualFund))
}

func sampleData() map[string]market.Item {
	return map[string]market.Item{
		"AAPL": {Ticker: "AAPL", Price: 180.95, Source: market.SourceLive, LastUpdated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	store, err := NewRedisStore(ctx, client)
	require.NoError(t, err)

	entry, err := store.Get(ctx, "us-stock:AAPL")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Set(ctx, "us-stock:AAPL", &Entry{Data: sampleData(), CachedAt: time.Now().UTC()}, time.Minute))

	entry, err = store.Get(ctx, "us-stock:AAPL")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 180.95, entry.Data["AAPL"].Price)
	assert.Equal(t, market.SourceLive, entry.Data["AAPL"].Source)

	mr.FastForward(2 * time.Minute)
	entry, err = store.Get(ctx, "us-stock:AAPL")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	store, err := NewRedisStore(ctx, client)
	require.NoError(t, err)
	require.NoError(t, mr.Set(keyPrefix+"us-stock:AAPL", "{not json"))

	_, err = store.Get(ctx, "us-stock:AAPL")
	assert.Error(t, err)

	c := New(store, logger.Discard())
	assert.Nil(t, c.Get(ctx, "us-stock:AAPL"))
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), redis.NewClient(&redis.Options{Addr: addr}))
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", &Entry{Data: sampleData()}, time.Minute))

	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)

	entry.Data["MSFT"] = market.Item{Ticker: "MSFT"}
	again, _ := store.Get(ctx, "k")
	assert.Len(t, again.Data, 1)

	now = now.Add(time.Minute)
	entry, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (*Entry, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestCacheDegrades(t *testing.T) {
	c := New(failingStore{}, logger.Discard())
	ctx := context.Background()

	assert.Nil(t, c.Get(ctx, "us-stock:AAPL"))
	assert.NotPanics(t, func() { c.Set(ctx, "us-stock:AAPL", sampleData(), time.Minute) })
}

func TestCacheNilStore(t *testing.T) {
	c := New(nil, logger.Discard())
	assert.Nil(t, c.Get(context.Background(), "k"))
	c.Set(context.Background(), "k", sampleData(), time.Minute)

	var nilCache *Cache
	assert.Nil(t, nilCache.Get(context.Background(), "k"))
}

func TestCacheRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(), logger.Discard())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	ctx := context.Background()

	c.Set(ctx, "us-stock:AAPL", sampleData(), time.Minute)
	entry := c.Get(ctx, "us-stock:AAPL")
	require.NotNil(t, entry)
	assert.Equal(t, fixed, entry.CachedAt)
	assert.Equal(t, "AAPL", entry.Data["AAPL"].Ticker)
}
