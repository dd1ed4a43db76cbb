package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DataType selects the symbol shape and the fetcher that serves a request.
type DataType string

const (
	USStock      DataType = "us-stock"
	JPStock      DataType = "jp-stock"
	MutualFund   DataType = "mutual-fund"
	ExchangeRate DataType = "exchange-rate"
)

// DataTypes lists every supported data type.
var DataTypes = []DataType{USStock, JPStock, MutualFund, ExchangeRate}

// ParseDataType accepts both the wire value ("us-stock") and the constant
// style name ("US_STOCK").
func ParseDataType(s string) (DataType, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
	for _, t := range DataTypes {
		if string(t) == norm {
			return t, true
		}
	}
	return "", false
}

// Environment decides whether fetchers talk to the upstream provider or serve
// canned test data. It is chosen once at startup.
type Environment string

const (
	Live Environment = "live"
	Test Environment = "test"
)

func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test", "testing", "mock":
		return Test
	default:
		return Live
	}
}

// Source labels where an item's value came from.
type Source string

const (
	SourceLive     Source = "Live"
	SourceFallback Source = "Fallback Data"
	SourceDefault  Source = "Default Fallback"
	SourceTest     Source = "Test Data"
)

// Item is a single price or rate keyed by ticker or BASE-TARGET pair.
type Item struct {
	Ticker        string    `json:"ticker,omitempty"`
	Pair          string    `json:"pair,omitempty"`
	Base          string    `json:"base,omitempty"`
	Target        string    `json:"target,omitempty"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price,omitempty"`
	Rate          float64   `json:"rate,omitempty"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Currency      string    `json:"currency,omitempty"`
	IsStock       bool      `json:"isStock,omitempty"`
	IsMutualFund  bool      `json:"isMutualFund,omitempty"`
	PriceLabel    string    `json:"priceLabel,omitempty"`
	Source        Source    `json:"source"`
	IsDefault     bool      `json:"isDefault,omitempty"`
	IsStale       bool      `json:"isStale,omitempty"`
	Error         string    `json:"error,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Raw is what the upstream provider hands back for one symbol. Any of the
// optional flags may be set; fetchers normalise it into a Result.
type Raw struct {
	Item

	// Err is a per-symbol failure reported by the provider.
	Err string
}

// Provider is the upstream batch market-data source. A returned error means the
// whole batch failed; symbols missing from the map simply had no data.
type Provider interface {
	Fetch(ctx context.Context, dataType DataType, symbols []string, refresh bool) (map[string]*Raw, error)
}

// Pair formats a currency pair key.
func Pair(base, target string) string {
	return fmt.Sprintf("%s-%s", base, target)
}

// SplitPair parses a BASE-TARGET pair.
func SplitPair(pair string) (base, target string, ok bool) {
	parts := strings.Split(strings.TrimSpace(pair), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), true
}
