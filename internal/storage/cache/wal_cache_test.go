package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"go.uber.org/zap"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func TestCache_PutGet(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	c, err := Open(zap.NewNop(), t.TempDir(), 30*time.Minute, WithClock(clk.Now))
	require.NoError(t, err)
	defer c.Close()

	records := []domain.CoinMarketRecord{
		domain.NewCoinMarketRecord("BTC", "USD", decimal.RequireFromString("1000.5"), 1.2, -3.4, "pow"),
	}
	require.NoError(t, c.Put("listings", records))

	var got []domain.CoinMarketRecord
	hit, err := c.Get("listings", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].Symbol)
	assert.True(t, got[0].MarketCap.Equal(decimal.RequireFromString("1000.5")))
	_, tagged := got[0].Tags["pow"]
	assert.True(t, tagged)

	t.Run("expires after ttl", func(t *testing.T) {
		clk.now = clk.now.Add(31 * time.Minute)
		hit, err := c.Get("listings", &got)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("missing key", func(t *testing.T) {
		var v string
		hit, err := c.Get("nope", &v)
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	clk := &clock{now: time.Unix(1700000000, 0)}

	c, err := Open(zap.NewNop(), dir, time.Hour, WithClock(clk.Now))
	require.NoError(t, err)
	require.NoError(t, c.Put("markets", []string{"BTCUSD"}))
	require.NoError(t, c.Put("markets", []string{"BTCUSD", "ETHUSD"}))
	require.NoError(t, c.Close())

	reopened, err := Open(zap.NewNop(), dir, time.Hour, WithClock(clk.Now))
	require.NoError(t, err)
	defer reopened.Close()

	var markets []string
	hit, err := reopened.Get("markets", &markets)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, markets)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	c, err := Open(zap.NewNop(), t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer c.Close()

	loads := 0
	load := func(ctx context.Context) (int, error) {
		loads++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := Fetch(ctx, c, "answer", load)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, loads)

	t.Run("load error is not cached", func(t *testing.T) {
		_, err := Fetch(ctx, c, "broken", func(ctx context.Context) (int, error) {
			return 0, errors.New("rate limited")
		})
		assert.Error(t, err)

		var v int
		hit, err := c.Get("broken", &v)
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestNilCache(t *testing.T) {
	var c *Cache

	loads := 0
	for i := 0; i < 2; i++ {
		v, err := Fetch(context.Background(), c, "k", func(ctx context.Context) (string, error) {
			loads++
			return "v", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, 2, loads)
	assert.NoError(t, c.Put("k", 1))
	assert.NoError(t, c.Close())
}

func TestDisabledCache(t *testing.T) {
	c, err := Open(zap.NewNop(), t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("k", 1))
	var v int
	hit, err := c.Get("k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}
