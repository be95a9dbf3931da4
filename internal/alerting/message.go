package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/opportunity"
)

// Message carries one rendered-ready notification. BuySidePrice is the price
// the operator would receive selling (the BUY-side advert); SellSidePrice is
// the price the operator would pay buying (the SELL-side advert).
type Message struct {
	Pair          opportunity.PairKey
	Type          opportunity.MessageType
	MethodDisplay string
	BuySidePrice  decimal.Decimal
	SellSidePrice decimal.Decimal
	SpreadPct     decimal.Decimal
}

var currencyFlags = map[string]string{
	"EGP": "🇪🇬",
	"GBP": "🇬🇧",
	"EUR": "🇪🇺",
	"USD": "🇺🇸",
}

var messageHeaders = map[opportunity.MessageType]string{
	opportunity.MessageStart:  "🚨 Alert",
	opportunity.MessageUpdate: "🔁 Update",
	opportunity.MessageEnd:    "✅ Ended",
}

// Render produces the HTML notification body for a message.
func Render(msg Message) string {
	header, ok := messageHeaders[msg.Type]
	if !ok {
		header = "ℹ️ Notice"
	}

	flag := currencyFlags[msg.Pair.Fiat]
	if flag != "" {
		flag = " " + flag
	}

	method := msg.MethodDisplay
	if method == "" {
		method = msg.Pair.Method
	}

	absDiff := msg.BuySidePrice.Sub(msg.SellSidePrice).Abs()
	sign := ""
	if msg.SpreadPct.IsPositive() {
		sign = "+"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s (%s)\n\n", header, flag, msg.Pair.Fiat, method)
	fmt.Fprintf(&b, "🔴 Sell: <code>%s %s</code>\n", msg.BuySidePrice.StringFixed(4), msg.Pair.Fiat)
	fmt.Fprintf(&b, "🟢 Buy: <code>%s %s</code>\n\n", msg.SellSidePrice.StringFixed(4), msg.Pair.Fiat)
	fmt.Fprintf(&b, "💰 Spread: %s%s%%  (<code>%s %s</code>)\n", sign, msg.SpreadPct.StringFixed(2), absDiff.StringFixed(4), msg.Pair.Fiat)
	return b.String()
}
