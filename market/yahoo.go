package market

import (
	"context"
	"strings"
	"time"

	"github.com/piquette/finance-go"
	"github.com/piquette/finance-go/forex"
	"github.com/piquette/finance-go/mutualfund"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

const jpSuffix = ".T"

// YahooProvider serves every data type from Yahoo Finance via
// piquette/finance-go. Japanese equities are looked up with the Tokyo suffix
// and FX pairs as "USDJPY=X" forex symbols.
type YahooProvider struct {
	// DefaultRates are returned, flagged IsDefault, for pairs Yahoo has no
	// quote for.
	DefaultRates map[string]float64
}

func NewYahooProvider(defaultRates map[string]float64) *YahooProvider {
	return &YahooProvider{DefaultRates: defaultRates}
}

func (y *YahooProvider) Fetch(ctx context.Context, dataType DataType, symbols []string, refresh bool) (map[string]*Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch dataType {
	case USStock:
		return y.quotes(symbols, func(s string) string { return s }, USStock)
	case JPStock:
		return y.quotes(symbols, func(s string) string { return s + jpSuffix }, JPStock)
	case MutualFund:
		return y.funds(symbols)
	case ExchangeRate:
		return y.rates(symbols)
	}
	return nil, &FetchError{Reason: "unsupported data type: " + string(dataType)}
}

func (y *YahooProvider) quotes(symbols []string, toYahoo func(string) string, dataType DataType) (map[string]*Raw, error) {
	lookup := make(map[string]string, len(symbols))
	var yahooSymbols []string
	for _, s := range symbols {
		ys := toYahoo(s)
		lookup[strings.ToUpper(ys)] = s
		yahooSymbols = append(yahooSymbols, ys)
	}

	out := make(map[string]*Raw, len(symbols))
	iter := quote.List(yahooSymbols)
	for iter.Next() {
		q := iter.Quote()
		symbol, ok := lookup[strings.ToUpper(q.Symbol)]
		if !ok {
			continue
		}
		out[symbol] = quoteToRaw(symbol, q, dataType)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (y *YahooProvider) funds(symbols []string) (map[string]*Raw, error) {
	lookup := make(map[string]string, len(symbols))
	for _, s := range symbols {
		lookup[strings.ToUpper(s)] = s
	}

	out := make(map[string]*Raw, len(symbols))
	iter := mutualfund.List(symbols)
	for iter.Next() {
		f := iter.MutualFund()
		symbol, ok := lookup[strings.ToUpper(f.Symbol)]
		if !ok {
			continue
		}
		out[symbol] = quoteToRaw(symbol, &f.Quote, MutualFund)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (y *YahooProvider) rates(pairs []string) (map[string]*Raw, error) {
	lookup := make(map[string]string, len(pairs))
	var yahooSymbols []string
	for _, p := range pairs {
		base, target, ok := SplitPair(p)
		if !ok {
			continue
		}
		ys := base + target + "=X"
		lookup[strings.ToUpper(ys)] = p
		yahooSymbols = append(yahooSymbols, ys)
	}

	out := make(map[string]*Raw, len(pairs))
	iter := forex.List(yahooSymbols)
	for iter.Next() {
		fp := iter.ForexPair()
		pair, ok := lookup[strings.ToUpper(fp.Symbol)]
		if !ok {
			continue
		}
		out[pair] = rateToRaw(pair, &fp.Quote)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	for _, p := range pairs {
		if _, ok := out[p]; ok {
			continue
		}
		if rate, ok := y.DefaultRates[p]; ok {
			base, target, _ := SplitPair(p)
			out[p] = &Raw{Item: Item{
				Pair:        p,
				Base:        base,
				Target:      target,
				Rate:        rate,
				Source:      SourceLive,
				IsDefault:   true,
				LastUpdated: time.Now().UTC(),
			}}
		}
	}
	return out, nil
}

func quoteToRaw(symbol string, q *finance.Quote, dataType DataType) *Raw {
	if q.RegularMarketPrice <= 0 {
		return &Raw{Err: "No price returned for " + symbol}
	}

	name := q.ShortName
	if name == "" {
		name = symbol
	}
	item := Item{
		Ticker:        symbol,
		Name:          name,
		Price:         round(q.RegularMarketPrice, 2),
		Change:        round(q.RegularMarketChange, 2),
		ChangePercent: round(q.RegularMarketChangePercent, 2),
		Currency:      strings.ToUpper(q.CurrencyID),
		IsStock:       dataType != MutualFund,
		IsMutualFund:  dataType == MutualFund,
		Source:        SourceLive,
		LastUpdated:   marketTime(q.RegularMarketTime),
	}
	if dataType == MutualFund {
		item.PriceLabel = "基準価額"
	}
	return &Raw{Item: item}
}

func rateToRaw(pair string, q *finance.Quote) *Raw {
	if q.RegularMarketPrice <= 0 {
		return &Raw{Err: "No rate returned for " + pair}
	}
	base, target, _ := SplitPair(pair)
	return &Raw{Item: Item{
		Pair:          pair,
		Base:          base,
		Target:        target,
		Rate:          round(q.RegularMarketPrice, 4),
		Change:        round(q.RegularMarketChange, 4),
		ChangePercent: round(q.RegularMarketChangePercent, 2),
		Source:        SourceLive,
		LastUpdated:   marketTime(q.RegularMarketTime),
	}}
}

func marketTime(unix int) time.Time {
	if unix <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(unix), 0).UTC()
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
