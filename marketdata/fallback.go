package marketdata

import (
	"context"

	"github.com/nanzhong/marketdata/degrade"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
)

// resolveFallback is the chain every failed key goes through, whatever its
// data type: record the failure, then the last known-good value, then the
// provisional value the provider gave, then a dummy.
func (s *Service) resolveFallback(ctx context.Context, dataType market.DataType, key string, r market.Result) market.Item {
	reason := "No data returned"
	if err := r.Err(); err != nil {
		reason = err.Reason
	}
	log := s.log.WithFields(logger.Fields{
		"symbol":    key,
		"data_type": string(dataType),
		"reason":    reason,
	})

	if s.fallback != nil {
		degrade.Do(log, "record failed fetch", func() error {
			return s.fallback.RecordFailedFetch(ctx, key, dataType, reason)
		})

		stored := degrade.Value(log, "get fallback for symbol", func() (*market.Item, error) {
			return s.fallback.GetFallbackForSymbol(ctx, key, dataType)
		})
		if stored != nil {
			log.Info("serving fallback data")
			return asFallback(dataType, key, *stored)
		}
	}

	if item, ok := r.Provisional(); ok {
		return item
	}

	log.Info("serving default value")
	return market.Dummy(dataType, key)
}

func asFallback(dataType market.DataType, key string, item market.Item) market.Item {
	if dataType == market.ExchangeRate {
		item.Pair = key
	} else {
		item.Ticker = key
	}
	item.Source = market.SourceFallback
	item.IsStale = true
	item.IsDefault = false
	item.Error = ""
	return item
}
