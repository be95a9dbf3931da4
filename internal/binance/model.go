package binance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes the two halves of the listing book.
type Side string

const (
	// SideBuy lists advertisers willing to buy the asset from the operator.
	SideBuy Side = "BUY"
	// SideSell lists advertisers willing to sell the asset to the operator.
	SideSell Side = "SELL"
)

// Advertisement is one upstream listing. Constructed fresh per fetch and
// discarded after a single evaluation cycle.
type Advertisement struct {
	Side       Side
	Fiat       string
	Method     string
	Price      decimal.Decimal
	MinLimit   decimal.Decimal
	MaxLimit   decimal.Decimal
	Advertiser string
}

// PageStatus classifies the outcome of a single page fetch.
type PageStatus int

const (
	// PageOK means the page was retrieved and decoded.
	PageOK PageStatus = iota
	// PageThrottled means upstream signalled too many requests.
	PageThrottled
	// PageFailed covers network and decode failures.
	PageFailed
)

// PageResult carries a fetch outcome without using errors for control flow.
type PageResult struct {
	Status     PageStatus
	Ads        []Advertisement
	RetryAfter time.Duration
	Err        error
}
