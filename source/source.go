// Package source wraps the upstream provider with one fetcher per data type.
// Every fetcher makes a single batch call and normalises the per-symbol
// answers into market.Result values before anything else looks at them.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"golang.org/x/time/rate"
)

const (
	noDataReason      = "No data returned"
	defaultRateReason = "Failed to fetch real exchange rate. Using default value."
)

// ErrPairsRequired is returned by Rates in the live environment when no
// pairs were requested.
var ErrPairsRequired = errors.New("Currency pairs array is required")

type Fetcher struct {
	provider market.Provider
	env      market.Environment
	limiter  *rate.Limiter
	log      *logger.Entry
}

// New builds a Fetcher. A nil limiter disables upstream throttling.
func New(provider market.Provider, env market.Environment, limiter *rate.Limiter, log *logger.Log) *Fetcher {
	return &Fetcher{
		provider: provider,
		env:      env,
		limiter:  limiter,
		log:      log.WithComponent("source"),
	}
}

// NewLimiter allows rps upstream batch calls per second with the given burst.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (f *Fetcher) Env() market.Environment { return f.env }

// Fetch dispatches to the fetcher for dataType. For exchange rates keys are
// BASE-TARGET pairs.
func (f *Fetcher) Fetch(ctx context.Context, dataType market.DataType, keys []string, refresh bool) (market.Batch, error) {
	switch dataType {
	case market.USStock, market.JPStock:
		return f.Stocks(ctx, dataType, keys, refresh)
	case market.MutualFund:
		return f.Funds(ctx, keys, refresh)
	case market.ExchangeRate:
		return f.Rates(ctx, keys, refresh)
	}
	return nil, fmt.Errorf("unsupported data type: %s", dataType)
}

// Stocks fetches US or Japanese equities.
func (f *Fetcher) Stocks(ctx context.Context, dataType market.DataType, symbols []string, refresh bool) (market.Batch, error) {
	return f.batch(ctx, dataType, symbols, refresh)
}

func (f *Fetcher) Funds(ctx context.Context, codes []string, refresh bool) (market.Batch, error) {
	return f.batch(ctx, market.MutualFund, codes, refresh)
}

// Rate fetches a single currency pair.
func (f *Fetcher) Rate(ctx context.Context, base, target string, refresh bool) (market.Batch, error) {
	return f.Rates(ctx, []string{market.Pair(strings.ToUpper(strings.TrimSpace(base)), strings.ToUpper(strings.TrimSpace(target)))}, refresh)
}

// Rates fetches several currency pairs. Malformed pairs come back as degraded
// results carrying an inline error so their siblings are unaffected.
func (f *Fetcher) Rates(ctx context.Context, pairs []string, refresh bool) (market.Batch, error) {
	if len(pairs) == 0 {
		if f.env != market.Test {
			return nil, ErrPairsRequired
		}
		pairs = market.DefaultPairs
	}

	out := make(market.Batch, len(pairs))
	var valid []string
	for _, p := range pairs {
		if _, _, ok := market.SplitPair(p); !ok {
			reason := "Invalid currency pair format: " + p
			out[p] = market.Degraded(market.Item{
				Pair:        p,
				Source:      market.SourceDefault,
				IsDefault:   true,
				Error:       reason,
				LastUpdated: time.Now().UTC(),
			}, reason)
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return out, nil
	}

	// Malformed pairs keep their inline error even when the upstream call fails.
	batch, err := f.batch(ctx, market.ExchangeRate, valid, refresh)
	if err != nil {
		return out, err
	}
	for k, v := range batch {
		out[k] = v
	}
	return out, nil
}

func (f *Fetcher) batch(ctx context.Context, dataType market.DataType, keys []string, refresh bool) (market.Batch, error) {
	if f.env == market.Test {
		out := make(market.Batch, len(keys))
		for _, k := range keys {
			out[k] = market.Ok(market.TestItem(dataType, k))
		}
		return out, nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for upstream limiter: %w", err)
		}
	}

	start := time.Now()
	raw, err := f.provider.Fetch(ctx, dataType, keys, refresh)
	logger.LogDuration(f.log, "upstream fetch", start, logger.Fields{
		"data_type": string(dataType),
		"symbols":   len(keys),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", dataType, err)
	}
	return normalize(dataType, keys, raw), nil
}

// normalize maps the provider's answer onto exactly one Result per key.
func normalize(dataType market.DataType, keys []string, raw map[string]*market.Raw) market.Batch {
	out := make(market.Batch, len(keys))
	for _, k := range keys {
		r := raw[k]
		switch {
		case r == nil:
			out[k] = market.Failed(noDataReason)
		case r.Err != "":
			out[k] = market.Failed(r.Err)
		case dataType == market.ExchangeRate && r.IsDefault:
			item := r.Item
			item.Pair = k
			item.Source = market.SourceDefault
			item.IsStale = true
			item.Error = defaultRateReason
			out[k] = market.Degraded(item, defaultRateReason)
		default:
			item := r.Item
			if dataType == market.ExchangeRate {
				item.Pair = k
			} else {
				item.Ticker = k
			}
			item.Source = market.SourceLive
			if item.LastUpdated.IsZero() {
				item.LastUpdated = time.Now().UTC()
			}
			out[k] = market.Ok(item)
		}
	}
	return out
}
