package marketdata

import (
	"fmt"
	"strings"

	"github.com/nanzhong/marketdata/market"
	"github.com/nanzhong/marketdata/usage"
)

// MaxSymbols bounds the symbol list of a single request.
const MaxSymbols = 100

// Params describes a single-type request. Symbols is nil when the parameter
// was not sent at all, which is reported differently from an empty value.
type Params struct {
	Type    string
	Symbols *string
	Base    string
	Target  string
	Refresh bool
	Caller  usage.Caller
}

type Validation struct {
	IsValid bool
	Errors  []string
}

// Validate checks every rule and reports all violations together.
func Validate(p Params) Validation {
	var errs []string

	dataType, known := market.ParseDataType(p.Type)
	switch {
	case strings.TrimSpace(p.Type) == "":
		errs = append(errs, "Missing required parameter: type")
	case !known:
		errs = append(errs, fmt.Sprintf("Invalid type: %s", p.Type))
	}

	if known {
		if dataType == market.ExchangeRate {
			switch {
			case p.Symbols != nil:
				if countSymbols(*p.Symbols) > MaxSymbols {
					errs = append(errs, fmt.Sprintf("Too many symbols. Maximum %d symbols allowed", MaxSymbols))
				}
			default:
				if strings.TrimSpace(p.Base) == "" {
					errs = append(errs, "Missing required parameter for exchange rate: base")
				}
				if strings.TrimSpace(p.Target) == "" {
					errs = append(errs, "Missing required parameter for exchange rate: target")
				}
			}
		} else {
			switch {
			case p.Symbols == nil:
				errs = append(errs, "Missing required parameter: symbols")
			case countSymbols(*p.Symbols) == 0:
				errs = append(errs, "symbols parameter cannot be empty")
			case countSymbols(*p.Symbols) > MaxSymbols:
				errs = append(errs, fmt.Sprintf("Too many symbols. Maximum %d symbols allowed", MaxSymbols))
			}
		}
	}

	return Validation{IsValid: len(errs) == 0, Errors: errs}
}

func countSymbols(s string) int {
	n := 0
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}
