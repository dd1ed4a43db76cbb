package source

import (
	"context"
	"errors"
	"testing"

	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(p market.Provider, env market.Environment) *Fetcher {
	return New(p, env, NewLimiter(1000, 10), logger.Discard())
}

func TestStocks(t *testing.T) {
	provider := &market.FakeProvider{
		BaseItem: market.Item{Price: 123.45, Currency: "USD", IsStock: true},
		Responses: map[market.DataType]map[string]*market.Raw{
			market.USStock: {
				"BAD":  {Err: "Symbol not found"},
				"NONE": nil,
			},
		},
	}
	f := newFetcher(provider, market.Live)

	batch, err := f.Stocks(context.Background(), market.USStock, []string{"AAPL", "BAD", "NONE"}, false)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	item, ok := batch["AAPL"].Item()
	require.True(t, ok)
	assert.Equal(t, "AAPL", item.Ticker)
	assert.Equal(t, market.SourceLive, item.Source)
	assert.False(t, item.LastUpdated.IsZero())

	assert.Equal(t, "Symbol not found", batch["BAD"].Err().Error())
	assert.Equal(t, "No data returned", batch["NONE"].Err().Error())

	calls := provider.Calls()
	require.Len(t, calls, 1, "one batch call per data type")
	assert.Equal(t, []string{"AAPL", "BAD", "NONE"}, calls[0].Symbols)
}

func TestEmptyResultFailsEverySymbol(t *testing.T) {
	f := newFetcher(&market.FakeProvider{Omit: true}, market.Live)

	batch, err := f.Funds(context.Background(), []string{"0131103C", "2931113C"}, false)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, r := range batch {
		_, ok := r.Item()
		assert.False(t, ok)
		assert.Equal(t, "No data returned", r.Err().Error())
	}
}

func TestProviderErrorIsTotal(t *testing.T) {
	upstream := errors.New("connection reset")
	f := newFetcher(&market.FakeProvider{Errors: map[market.DataType]error{market.JPStock: upstream}}, market.Live)

	_, err := f.Stocks(context.Background(), market.JPStock, []string{"7203"}, false)
	assert.ErrorIs(t, err, upstream)
}

func TestRateDefaultIsDegraded(t *testing.T) {
	provider := &market.FakeProvider{
		Responses: map[market.DataType]map[string]*market.Raw{
			market.ExchangeRate: {"USD-JPY": {Item: market.Item{Rate: 149.5, IsDefault: true}}},
		},
	}
	f := newFetcher(provider, market.Live)

	batch, err := f.Rate(context.Background(), "usd", "jpy", false)
	require.NoError(t, err)

	r := batch["USD-JPY"]
	_, live := r.Item()
	assert.False(t, live)

	item, ok := r.Provisional()
	require.True(t, ok)
	assert.Equal(t, 149.5, item.Rate)
	assert.True(t, item.IsStale)
	assert.True(t, item.IsDefault)
	assert.Equal(t, "Failed to fetch real exchange rate. Using default value.", item.Error)
	assert.Equal(t, "Failed to fetch real exchange rate. Using default value.", r.Err().Error())
}

func TestRatesInvalidPair(t *testing.T) {
	provider := &market.FakeProvider{BaseItem: market.Item{Rate: 1.1}}
	f := newFetcher(provider, market.Live)

	batch, err := f.Rates(context.Background(), []string{"EUR-USD", "INVALID"}, false)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	item, ok := batch["EUR-USD"].Item()
	require.True(t, ok)
	assert.Equal(t, 1.1, item.Rate)

	bad, ok := batch["INVALID"].Provisional()
	require.True(t, ok)
	assert.Equal(t, "Invalid currency pair format: INVALID", bad.Error)

	require.Len(t, provider.Calls(), 1)
	assert.Equal(t, []string{"EUR-USD"}, provider.Calls()[0].Symbols)
}

func TestRatesUpstreamErrorKeepsInvalidPairs(t *testing.T) {
	upstream := errors.New("API Error")
	f := newFetcher(&market.FakeProvider{Errors: map[market.DataType]error{market.ExchangeRate: upstream}}, market.Live)

	batch, err := f.Rates(context.Background(), []string{"USD-JPY", "INVALID"}, false)
	assert.ErrorIs(t, err, upstream)
	require.Len(t, batch, 1)

	bad, ok := batch["INVALID"].Provisional()
	require.True(t, ok)
	assert.Equal(t, "Invalid currency pair format: INVALID", bad.Error)
}

func TestRatesOnlyInvalidSkipsUpstream(t *testing.T) {
	provider := &market.FakeProvider{}
	f := newFetcher(provider, market.Live)

	batch, err := f.Rates(context.Background(), []string{"USDJPY"}, false)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Empty(t, provider.Calls())
}

func TestRatesEmpty(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		_, err := newFetcher(&market.FakeProvider{}, market.Live).Rates(context.Background(), nil, false)
		assert.ErrorIs(t, err, ErrPairsRequired)
		assert.EqualError(t, err, "Currency pairs array is required")
	})

	t.Run("test", func(t *testing.T) {
		provider := &market.FakeProvider{}
		batch, err := newFetcher(provider, market.Test).Rates(context.Background(), []string{}, false)
		require.NoError(t, err)
		require.Len(t, batch, 4)
		for _, pair := range []string{"USD-JPY", "EUR-JPY", "GBP-JPY", "USD-EUR"} {
			item, ok := batch[pair].Item()
			require.True(t, ok, pair)
			assert.Equal(t, market.SourceTest, item.Source)
		}
		assert.Empty(t, provider.Calls(), "test environment never calls upstream")
	})
}

func TestTestEnvironment(t *testing.T) {
	provider := &market.FakeProvider{}
	f := newFetcher(provider, market.Test)

	batch, err := f.Fetch(context.Background(), market.USStock, []string{"AAPL"}, true)
	require.NoError(t, err)
	item, ok := batch["AAPL"].Item()
	require.True(t, ok)
	assert.Equal(t, 180.95, item.Price)
	assert.Equal(t, market.SourceTest, item.Source)
	assert.Empty(t, provider.Calls())
}

func TestLimiterRespectsContext(t *testing.T) {
	f := New(&market.FakeProvider{}, market.Live, NewLimiter(0.001, 1), logger.Discard())
	ctx := context.Background()

	_, err := f.Stocks(ctx, market.USStock, []string{"AAPL"}, false)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Stocks(cancelled, market.USStock, []string{"AAPL"}, false)
	assert.Error(t, err)
}

func TestFetchUnsupported(t *testing.T) {
	_, err := newFetcher(&market.FakeProvider{}, market.Live).Fetch(context.Background(), market.DataType("crypto"), []string{"BTC"}, false)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, SplitList(" AAPL, ,MSFT,AAPL,"))
	assert.Empty(t, SplitList(" , "))
	assert.Equal(t, []string{"AAPL", "0131103C"}, SplitList("aapl,AAPL,0131103c"))
	assert.Equal(t, []string{"MSFT", "7203"}, CleanList([]string{" msft", "7203", "MSFT"}))
}

func TestParsePairs(t *testing.T) {
	assert.Equal(t, []string{"USD-JPY", "EUR-JPY"}, ParsePairs("usd-jpy, EUR-JPY"))
	assert.Equal(t, []string{"USD-JPY"}, ParsePairs([]string{"USD-JPY", " usd-jpy "}))
	assert.Empty(t, ParsePairs(""))
	assert.Empty(t, ParsePairs([]string(nil)))
}
