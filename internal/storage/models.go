package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one persisted evaluation of a monitored pair. Rows are an
// audit trail; the in-memory pair state is never rebuilt from them.
type Observation struct {
	ID           int64
	ObservedAt   time.Time
	Fiat         string
	Method       string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	SpreadPct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Active       bool
	Status       string
	Error        *string
	CreatedAt    time.Time
}

// AlertEmission records one successfully dispatched notification.
type AlertEmission struct {
	ID          int64
	ObservedAt  time.Time
	Fiat        string
	Method      string
	MessageType string
	SpreadPct   decimal.Decimal
	BuyPrice    decimal.Decimal
	SellPrice   decimal.Decimal
	Signature   string
	CreatedAt   time.Time
}
