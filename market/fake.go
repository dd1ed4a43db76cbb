package market

import (
	"context"
	"sync"
)

// FakeProvider is a programmable Provider. Symbols without a configured
// response get BaseItem relabelled with the symbol, unless Omit is set.
type FakeProvider struct {
	BaseItem  Item
	Responses map[DataType]map[string]*Raw
	Errors    map[DataType]error
	Omit      bool

	mu    sync.Mutex
	calls []FakeCall
}

type FakeCall struct {
	DataType DataType
	Symbols  []string
	Refresh  bool
}

func (f *FakeProvider) Fetch(ctx context.Context, dataType DataType, symbols []string, refresh bool) (map[string]*Raw, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{DataType: dataType, Symbols: append([]string(nil), symbols...), Refresh: refresh})
	f.mu.Unlock()

	if err := f.Errors[dataType]; err != nil {
		return nil, err
	}

	out := make(map[string]*Raw, len(symbols))
	for _, s := range symbols {
		if raw, ok := f.Responses[dataType][s]; ok {
			out[s] = raw
			continue
		}
		if f.Omit {
			continue
		}
		item := f.BaseItem
		if dataType == ExchangeRate {
			item.Pair = s
		} else {
			item.Ticker = s
		}
		if item.Source == "" {
			item.Source = SourceLive
		}
		out[s] = &Raw{Item: item}
	}
	return out, nil
}

// Calls returns the recorded Fetch invocations.
func (f *FakeProvider) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}
