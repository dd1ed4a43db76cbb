package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallerKey(t *testing.T) {
	assert.Equal(t, "session:abc", Caller{IP: "1.2.3.4", SessionID: "abc"}.Key())
	assert.Equal(t, "ip:1.2.3.4", Caller{IP: "1.2.3.4"}.Key())
	assert.Equal(t, "ip:unknown", Caller{}.Key())
}

func TestMemoryCounter(t *testing.T) {
	c := NewMemoryCounter(Limits{Daily: 2, Monthly: 3})
	now := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	caller := Caller{IP: "1.2.3.4"}

	d, err := c.CheckAndUpdate(ctx, caller)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Count{Count: 1, Limit: 2}, d.Usage.Daily)

	d, _ = c.CheckAndUpdate(ctx, caller)
	assert.True(t, d.Allowed)

	d, _ = c.CheckAndUpdate(ctx, caller)
	assert.False(t, d.Allowed, "daily limit exceeded")
	assert.Equal(t, int64(3), d.Usage.Daily.Count)

	other, _ := c.CheckAndUpdate(ctx, Caller{IP: "5.6.7.8"})
	assert.True(t, other.Allowed, "callers are counted separately")

	now = now.Add(24 * time.Hour)
	d, _ = c.CheckAndUpdate(ctx, caller)
	assert.True(t, d.Allowed, "new day and new month")
	assert.Equal(t, int64(1), d.Usage.Daily.Count)
	assert.Equal(t, int64(1), d.Usage.Monthly.Count)
}

func TestMemoryCounterMonthlyLimit(t *testing.T) {
	c := NewMemoryCounter(Limits{Daily: 10, Monthly: 2})
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := c.CheckAndUpdate(ctx, Caller{SessionID: "s"})
		assert.True(t, d.Allowed)
		now = now.Add(24 * time.Hour)
	}
	d, _ := c.CheckAndUpdate(ctx, Caller{SessionID: "s"})
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Usage.Monthly.Count)
}

func TestMemoryCounterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryCounter(Limits{Daily: 1, Monthly: 1}).CheckAndUpdate(ctx, Caller{})
	assert.Error(t, err)
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCounter(client, Limits{Daily: 1, Monthly: 5})
	c.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	ctx := context.Background()

	d, err := c.CheckAndUpdate(ctx, Caller{SessionID: "abc"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Usage{Daily: Count{1, 1}, Monthly: Count{1, 5}}, d.Usage)

	d, err = c.CheckAndUpdate(ctx, Caller{SessionID: "abc"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	val, err := mr.Get("usage:daily:2024-02-03:session:abc")
	require.NoError(t, err)
	assert.Equal(t, "2", val)
	assert.Equal(t, dailyExpiry, mr.TTL("usage:daily:2024-02-03:session:abc"))
	assert.True(t, mr.Exists("usage:monthly:2024-02:session:abc"))
}

func TestRedisCounterUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	c := NewRedisCounter(redis.NewClient(&redis.Options{Addr: addr}), Limits{Daily: 1, Monthly: 1})
	_, err = c.CheckAndUpdate(context.Background(), Caller{})
	assert.Error(t, err)
}
