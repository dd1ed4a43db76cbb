package fallback

import (
	"context"
	"time"

	"github.com/nanzhong/marketdata/market"
)

// Record is the last failure seen for a symbol. Each failure overwrites the
// previous record; nothing here expires them.
type Record struct {
	Symbol     string          `json:"symbol"`
	DataType   market.DataType `json:"dataType"`
	LastError  string          `json:"lastError"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Store keeps per-symbol failure records and the last known-good value for
// each symbol. Lookups return nil, nil when nothing is stored.
type Store interface {
	RecordFailedFetch(ctx context.Context, symbol string, dataType market.DataType, reason string) error
	GetFallbackForSymbol(ctx context.Context, symbol string, dataType market.DataType) (*market.Item, error)
	GetFallbackData(ctx context.Context, dataType market.DataType, symbols []string) (map[string]market.Item, error)
	SaveFallbackData(ctx context.Context, dataType market.DataType, items map[string]market.Item) error
	FailedSymbols(ctx context.Context, day time.Time, dataType market.DataType) ([]Record, error)
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
