package opportunity

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoSellPrice marks an evaluation that cannot divide by the sell-side
// price. The pair is skipped for the cycle.
var ErrNoSellPrice = errors.New("opportunity: sell-side price missing or zero")

var hundred = decimal.NewFromInt(100)

// PairKey identifies one monitored (currency, payment-method) unit.
type PairKey struct {
	Fiat   string
	Method string
}

func (k PairKey) String() string {
	return k.Fiat + "/" + k.Method
}

// Spread computes the percentage gap between the buy-side advert price (what
// the operator receives selling) and the sell-side advert price (what the
// operator pays buying). Positive means profitable before fees.
func Spread(buy, sell decimal.Decimal) (decimal.Decimal, error) {
	if !sell.IsPositive() {
		return decimal.Decimal{}, ErrNoSellPrice
	}
	return buy.Div(sell).Sub(decimal.NewFromInt(1)).Mul(hundred), nil
}

// ThresholdChain resolves a pair's profit threshold with first-match-wins
// precedence: exact pair, currency, method, global default.
type ThresholdChain struct {
	Pair    map[PairKey]decimal.Decimal
	Fiat    map[string]decimal.Decimal
	Method  map[string]decimal.Decimal
	Default decimal.Decimal
}

// Resolve returns the profit threshold for a pair.
func (c ThresholdChain) Resolve(key PairKey) decimal.Decimal {
	if v, ok := c.Pair[key]; ok {
		return v
	}
	if v, ok := c.Fiat[key.Fiat]; ok {
		return v
	}
	if v, ok := c.Method[key.Method]; ok {
		return v
	}
	return c.Default
}
