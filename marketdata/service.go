package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/nanzhong/marketdata/budget"
	"github.com/nanzhong/marketdata/cache"
	"github.com/nanzhong/marketdata/degrade"
	"github.com/nanzhong/marketdata/fallback"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"github.com/nanzhong/marketdata/source"
	"github.com/nanzhong/marketdata/usage"
)

// Response sources.
const (
	SourceAPI                 = "API"
	SourceCache               = "CACHE"
	SourceCacheRateLimited    = "CACHE (Rate Limited)"
	SourceFallbackRateLimited = "FALLBACK (Rate Limited)"
)

// Fetcher is the upstream side of the pipeline. A returned error means the
// whole batch failed.
type Fetcher interface {
	Fetch(ctx context.Context, dataType market.DataType, keys []string, refresh bool) (market.Batch, error)
}

// Metrics receives pipeline observations.
type Metrics interface {
	ObserveResponse(dataType market.DataType, source string)
	ObserveItem(dataType market.DataType, source market.Source)
	ObserveCache(dataType market.DataType, hit bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveResponse(market.DataType, string) {}
func (nopMetrics) ObserveItem(market.DataType, market.Source) {}
func (nopMetrics) ObserveCache(market.DataType, bool) {}

type Options struct {
	Env      market.Environment
	Fetcher  Fetcher
	Cache    *cache.Cache
	Fallback fallback.Store
	Usage    usage.Checker
	Budget   budget.Checker
	Metrics  Metrics
	Log      *logger.Log
}

// Service answers market data requests. It never fails a valid request
// because of the upstream provider or its storage; those problems degrade
// into fallback or default values.
type Service struct {
	env      market.Environment
	fetcher  Fetcher
	cache    *cache.Cache
	fallback fallback.Store
	usage    usage.Checker
	budget   budget.Checker
	metrics  Metrics
	log      *logger.Entry
}

func NewService(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	s := &Service{
		env:      opts.Env,
		fetcher:  opts.Fetcher,
		cache:    opts.Cache,
		fallback: opts.Fallback,
		usage:    opts.Usage,
		budget:   opts.Budget,
		metrics:  opts.Metrics,
		log:      opts.Log.WithComponent("marketdata"),
	}
	if s.env == "" {
		s.env = market.Live
	}
	if s.budget == nil {
		s.budget = budget.Static{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Response is the outcome of one pipeline run. Data holds exactly one item
// per requested key.
type Response struct {
	Data          map[string]market.Item
	Source        string
	Warnings      []string
	Usage         *usage.Usage
	BudgetWarning string
	RateLimited   bool
	LastUpdated   time.Time
}

type request struct {
	dataType   market.DataType
	keys       []string
	cacheKey   string
	refresh    bool
	singlePair bool
}

// Get runs the single-type pipeline for p.
func (s *Service) Get(ctx context.Context, p Params) (*Response, error) {
	if v := Validate(p); !v.IsValid {
		return nil, invalidParams(v.Errors)
	}

	req, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := s.checkBudget(ctx, req.refresh); err != nil {
		return nil, err
	}

	decision := s.checkUsage(ctx, p.Caller)
	resp, err := s.run(ctx, req, decision)
	if err != nil {
		return nil, err
	}
	resp.BudgetWarning = s.budget.WarningMessage(ctx)
	return resp, nil
}

func (s *Service) resolve(p Params) (request, error) {
	dataType, _ := market.ParseDataType(p.Type)
	req := request{dataType: dataType, refresh: p.Refresh}

	switch {
	case dataType != market.ExchangeRate:
		req.keys = source.SplitList(*p.Symbols)
	case p.Symbols != nil:
		req.keys = source.ParsePairs(*p.Symbols)
		if len(req.keys) == 0 {
			if s.env != market.Test {
				return request{}, invalidParams([]string{source.ErrPairsRequired.Error()})
			}
			req.keys = market.DefaultPairs
		}
	default:
		req.keys = []string{market.Pair(strings.ToUpper(strings.TrimSpace(p.Base)), strings.ToUpper(strings.TrimSpace(p.Target)))}
		req.singlePair = true
	}

	req.cacheKey = cache.Key(req.dataType, req.keys)
	return req, nil
}

func (s *Service) checkBudget(ctx context.Context, refresh bool) error {
	if !refresh || !s.budget.IsCritical(ctx) {
		return nil
	}
	return budgetBlocked(s.budget.WarningMessage(ctx))
}

// checkUsage treats a failing usage service as a denial so no fresh spend
// happens while it is down.
func (s *Service) checkUsage(ctx context.Context, caller usage.Caller) usage.Decision {
	if s.usage == nil {
		return usage.Decision{Allowed: true}
	}
	decision, err := s.usage.CheckAndUpdate(ctx, caller)
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"caller": caller.Key()}).Warn("usage check failed, denying live fetch")
		return usage.Decision{Allowed: false}
	}
	return decision
}

func (s *Service) run(ctx context.Context, req request, decision usage.Decision) (*Response, error) {
	if !decision.Allowed {
		return s.serveRateLimited(ctx, req, decision.Usage)
	}
	u := decision.Usage

	if !req.refresh {
		entry := s.cache.Get(ctx, req.cacheKey)
		s.metrics.ObserveCache(req.dataType, entry != nil)
		if entry != nil {
			return s.respond(req, entry.Data, SourceCache, &u, false), nil
		}
	}

	var totalErr error
	batch, err := s.fetcher.Fetch(ctx, req.dataType, req.keys, req.refresh)
	if errors.Is(err, source.ErrPairsRequired) {
		return nil, invalidParams([]string{err.Error()})
	}
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			"data_type": string(req.dataType),
			"symbols":   len(req.keys),
		}).Warn("upstream fetch failed, using fallbacks")
		totalErr = err
	}

	data, live := s.reconcile(ctx, req, batch, totalErr)

	// Single pairs are cached even when only a default could be produced.
	if len(live) > 0 || req.singlePair {
		s.cache.Set(ctx, req.cacheKey, data, cache.TTL(req.dataType))
	}
	if len(live) > 0 && s.fallback != nil {
		degrade.Do(s.log, "save fallback data", func() error {
			return s.fallback.SaveFallbackData(ctx, req.dataType, live)
		})
	}

	return s.respond(req, data, SourceAPI, &u, false), nil
}

// reconcile produces one item per key, sending every key without a live
// result through the fallback chain.
func (s *Service) reconcile(ctx context.Context, req request, batch market.Batch, totalErr error) (data, live map[string]market.Item) {
	data = make(map[string]market.Item, len(req.keys))
	live = make(map[string]market.Item)

	for _, key := range req.keys {
		r, ok := batch[key]
		if !ok {
			reason := "No data returned"
			if totalErr != nil {
				reason = totalErr.Error()
			}
			r = market.Failed(reason)
		}

		if item, ok := r.Item(); ok {
			data[key] = item
			live[key] = item
			continue
		}
		data[key] = s.resolveFallback(ctx, req.dataType, key, r)
	}
	return data, live
}

func (s *Service) serveRateLimited(ctx context.Context, req request, u usage.Usage) (*Response, error) {
	if entry := s.cache.Get(ctx, req.cacheKey); entry != nil {
		return s.respond(req, entry.Data, SourceCacheRateLimited, &u, true), nil
	}

	var stored map[string]market.Item
	if s.fallback != nil {
		stored = degrade.Value(s.log, "get fallback data", func() (map[string]market.Item, error) {
			return s.fallback.GetFallbackData(ctx, req.dataType, req.keys)
		})
	}
	if len(stored) == 0 {
		return nil, rateLimited(u)
	}

	data := make(map[string]market.Item, len(req.keys))
	for _, key := range req.keys {
		item, ok := stored[key]
		if !ok {
			data[key] = market.Dummy(req.dataType, key)
			continue
		}
		data[key] = asFallback(req.dataType, key, item)
	}
	return s.respond(req, data, SourceFallbackRateLimited, &u, true), nil
}

func (s *Service) respond(req request, data map[string]market.Item, src string, u *usage.Usage, rateLimited bool) *Response {
	resp := &Response{
		Data:        data,
		Source:      src,
		Warnings:    warnings(data),
		Usage:       u,
		RateLimited: rateLimited,
	}
	for _, item := range data {
		if item.LastUpdated.After(resp.LastUpdated) {
			resp.LastUpdated = item.LastUpdated
		}
		s.metrics.ObserveItem(req.dataType, item.Source)
	}
	s.metrics.ObserveResponse(req.dataType, src)

	s.log.WithFields(logger.Fields{
		"data_type": string(req.dataType),
		"symbols":   len(req.keys),
		"source":    src,
		"warnings":  len(resp.Warnings),
	}).Debug("market data served")
	return resp
}

// warnings lists the caveats for each item, ordered by key.
func warnings(data map[string]market.Item) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		item := data[k]
		if item.IsDefault {
			out = append(out, k+": Using default/fallback value")
		}
		if item.IsStale {
			out = append(out, k+": Data may be stale")
		}
		if item.Error != "" {
			out = append(out, k+": "+item.Error)
		}
	}
	return out
}
