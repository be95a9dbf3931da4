package opportunity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSpread(t *testing.T) {
	spread, err := Spread(decimal.RequireFromString("100.50"), decimal.RequireFromString("100.00"))
	if err != nil {
		t.Fatalf("Spread failed: %v", err)
	}
	if !spread.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("spread = %s, want 0.5", spread)
	}

	spread, err = Spread(decimal.RequireFromString("99"), decimal.RequireFromString("100"))
	if err != nil {
		t.Fatalf("Spread failed: %v", err)
	}
	if !spread.Equal(decimal.RequireFromString("-1")) {
		t.Fatalf("spread = %s, want -1", spread)
	}
}

func TestSpreadZeroSellPrice(t *testing.T) {
	if _, err := Spread(decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, ErrNoSellPrice) {
		t.Fatalf("expected ErrNoSellPrice, got %v", err)
	}
}

func TestThresholdChainPrecedence(t *testing.T) {
	chain := ThresholdChain{
		Pair:    map[PairKey]decimal.Decimal{{Fiat: "EGP", Method: "InstaPay"}: decimal.RequireFromString("0.8")},
		Fiat:    map[string]decimal.Decimal{"EGP": decimal.RequireFromString("0.6")},
		Method:  map[string]decimal.Decimal{"SkrillMoneybookers": decimal.RequireFromString("0.5")},
		Default: decimal.RequireFromString("0.4"),
	}

	cases := []struct {
		key  PairKey
		want string
	}{
		{PairKey{Fiat: "EGP", Method: "InstaPay"}, "0.8"},
		{PairKey{Fiat: "EGP", Method: "Vodafonecash"}, "0.6"},
		{PairKey{Fiat: "GBP", Method: "SkrillMoneybookers"}, "0.5"},
		{PairKey{Fiat: "GBP", Method: "Wise"}, "0.4"},
	}
	for _, tc := range cases {
		if got := chain.Resolve(tc.key); !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Resolve(%s) = %s, want %s", tc.key, got, tc.want)
		}
	}
}
