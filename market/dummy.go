package market

import "time"

type stockFixture struct {
	price, change, changePercent float64
	name                         string
}

var testUSStocks = map[string]stockFixture{
	"AAPL": {180.95, 2.3, 1.2, "Apple Inc."},
	"MSFT": {345.22, 1.5, 0.4, "Microsoft Corporation"},
}

var dummyJPStocks = map[string]stockFixture{
	"7203": {2500, 50, 2.0, "トヨタ自動車"},
	"9984": {7650, 120, 1.6, "ソフトバンクグループ"},
}

var knownRates = map[string]float64{
	"USD-JPY": 149.82,
	"EUR-JPY": 160.2,
	"GBP-JPY": 187.5,
	"USD-EUR": 0.93,
}

// DefaultPairs is substituted for an empty pair list in the test environment.
var DefaultPairs = []string{"USD-JPY", "EUR-JPY", "GBP-JPY", "USD-EUR"}

// Dummy synthesises the deterministic last-resort value for key. For exchange
// rates key is a BASE-TARGET pair.
func Dummy(dataType DataType, key string) Item {
	item := fixture(dataType, key, false)
	item.Source = SourceDefault
	item.IsDefault = true
	return item
}

// TestItem returns the canned value served in the test environment.
func TestItem(dataType DataType, key string) Item {
	item := fixture(dataType, key, true)
	item.Source = SourceTest
	return item
}

func fixture(dataType DataType, key string, test bool) Item {
	now := time.Now().UTC()
	switch dataType {
	case USStock:
		item := Item{
			Ticker:        key,
			Name:          key,
			Price:         100,
			Change:        2.3,
			ChangePercent: 1.2,
			Currency:      "USD",
			IsStock:       true,
			LastUpdated:   now,
		}
		if f, ok := testUSStocks[key]; ok && test {
			item.Price, item.Change, item.ChangePercent, item.Name = f.price, f.change, f.changePercent, f.name
		}
		return item
	case JPStock:
		item := Item{
			Ticker:        key,
			Name:          "日本株 " + key,
			Price:         2000,
			Change:        50,
			ChangePercent: 2.0,
			Currency:      "JPY",
			IsStock:       true,
			LastUpdated:   now,
		}
		if f, ok := dummyJPStocks[key]; ok {
			item.Price, item.Change, item.ChangePercent, item.Name = f.price, f.change, f.changePercent, f.name
		}
		return item
	case MutualFund:
		return Item{
			Ticker:        key,
			Name:          "投資信託 " + key,
			Price:         12345,
			Change:        25,
			ChangePercent: 0.2,
			Currency:      "JPY",
			IsMutualFund:  true,
			PriceLabel:    "基準価額",
			LastUpdated:   now,
		}
	default:
		base, target, _ := SplitPair(key)
		rate, ok := knownRates[key]
		if !ok {
			rate = 1.0
		}
		return Item{
			Pair:          key,
			Base:          base,
			Target:        target,
			Rate:          rate,
			Change:        0.32,
			ChangePercent: 0.21,
			LastUpdated:   now,
		}
	}
}
