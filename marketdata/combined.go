package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/nanzhong/marketdata/cache"
	"github.com/nanzhong/marketdata/market"
	"github.com/nanzhong/marketdata/source"
	"github.com/nanzhong/marketdata/usage"
)

type StockLists struct {
	US []string `json:"us"`
	JP []string `json:"jp"`
}

// CombinedRequest names up to four collections fetched in one call.
type CombinedRequest struct {
	Stocks      StockLists `json:"stocks"`
	Rates       []string   `json:"rates"`
	MutualFunds []string   `json:"mutualFunds"`
	Refresh     bool       `json:"refresh"`
}

type CombinedResponse struct {
	Stocks        map[string]market.Item `json:"stocks"`
	Rates         map[string]market.Item `json:"rates"`
	MutualFunds   map[string]market.Item `json:"mutualFunds"`
	Warnings      []string               `json:"-"`
	Usage         *usage.Usage           `json:"-"`
	BudgetWarning string                 `json:"-"`
	RateLimited   bool                   `json:"-"`
}

type section struct {
	name string
	req  request
}

type sectionResult struct {
	resp *Response
	err  error
}

// Combined runs the single-type pipeline for each populated collection in
// parallel. Quota is charged once for the whole call.
func (s *Service) Combined(ctx context.Context, creq CombinedRequest, caller usage.Caller) (*CombinedResponse, error) {
	sections, err := s.sections(creq)
	if err != nil {
		return nil, err
	}

	out := &CombinedResponse{
		Stocks:      map[string]market.Item{},
		Rates:       map[string]market.Item{},
		MutualFunds: map[string]market.Item{},
	}
	if len(sections) == 0 {
		return out, nil
	}

	if err := s.checkBudget(ctx, creq.Refresh); err != nil {
		return nil, err
	}
	decision := s.checkUsage(ctx, caller)

	results := make([]sectionResult, len(sections))
	var wg sync.WaitGroup
	for i, sec := range sections {
		wg.Add(1)
		go func(i int, sec section) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("%s section panicked: %v", sec.name, r)
				}
			}()
			results[i].resp, results[i].err = s.run(ctx, sec.req, decision)
		}(i, sec)
	}
	wg.Wait()

	for i, sec := range sections {
		res := results[i]
		if res.err != nil {
			return nil, res.err
		}

		target := out.Stocks
		switch sec.req.dataType {
		case market.ExchangeRate:
			target = out.Rates
		case market.MutualFund:
			target = out.MutualFunds
		}
		for k, v := range res.resp.Data {
			target[k] = v
		}
		out.Warnings = append(out.Warnings, res.resp.Warnings...)
		out.RateLimited = out.RateLimited || res.resp.RateLimited
		if out.Usage == nil {
			out.Usage = res.resp.Usage
		}
	}
	out.BudgetWarning = s.budget.WarningMessage(ctx)
	return out, nil
}

func (s *Service) sections(creq CombinedRequest) ([]section, error) {
	rates := source.ParsePairs(creq.Rates)
	if len(rates) == 0 && s.env == market.Test {
		rates = market.DefaultPairs
	}

	lists := []struct {
		name     string
		dataType market.DataType
		keys     []string
	}{
		{"stocks.us", market.USStock, source.CleanList(creq.Stocks.US)},
		{"stocks.jp", market.JPStock, source.CleanList(creq.Stocks.JP)},
		{"rates", market.ExchangeRate, rates},
		{"mutualFunds", market.MutualFund, source.CleanList(creq.MutualFunds)},
	}

	var (
		out  []section
		errs []string
	)
	for _, l := range lists {
		if len(l.keys) == 0 {
			continue
		}
		if len(l.keys) > MaxSymbols {
			errs = append(errs, fmt.Sprintf("Too many symbols in %s. Maximum %d symbols allowed", l.name, MaxSymbols))
			continue
		}
		out = append(out, section{
			name: l.name,
			req: request{
				dataType: l.dataType,
				keys:     l.keys,
				cacheKey: cache.Key(l.dataType, l.keys),
				refresh:  creq.Refresh,
			},
		})
	}
	if len(errs) > 0 {
		return nil, invalidParams(errs)
	}
	return out, nil
}
