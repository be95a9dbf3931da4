package opportunity

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MessageType labels the notification emitted for a state change.
type MessageType string

const (
	MessageStart  MessageType = "start"
	MessageUpdate MessageType = "update"
	MessageEnd    MessageType = "end"
)

// Observation is one cycle's evaluated result for a pair.
type Observation struct {
	Spread    decimal.Decimal
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Threshold decimal.Decimal
}

// Decision says whether this observation warrants a dispatch.
type Decision struct {
	Send bool
	Type MessageType
}

// Settings govern significance and deduplication.
type Settings struct {
	// AnyChange switches the update rule to "any value moved beyond the
	// tolerance" instead of the delta thresholds below.
	AnyChange bool
	// MinSpreadDelta is the spread movement, in percentage points, that
	// makes an update significant.
	MinSpreadDelta decimal.Decimal
	// MinPriceChangePct is the relative buy/sell price movement that makes
	// an update significant.
	MinPriceChangePct decimal.Decimal
	// Tolerance bins the quantized dedup signature and bounds "no change"
	// in any-change mode.
	Tolerance decimal.Decimal
	// ResendTTL suppresses a fresh start while the previous dispatch for the
	// pair is younger than this. Zero disables the cooldown.
	ResendTTL time.Duration
}

// PairState is the mutable per-pair record. lastSent* fields only move when a
// dispatch actually succeeded.
type PairState struct {
	Active      bool
	ActiveSince time.Time

	LastSpread    decimal.Decimal
	LastBuyPrice  decimal.Decimal
	LastSellPrice decimal.Decimal

	LastSentSpread    decimal.Decimal
	LastSentBuyPrice  decimal.Decimal
	LastSentSellPrice decimal.Decimal
	LastSentAt        time.Time
	LastMessageType   MessageType
	LastSentSignature string

	haveSent bool
}

// Tracker owns all per-pair state. Records are created lazily and live for
// the process lifetime.
type Tracker struct {
	settings Settings

	mu    sync.Mutex // guards slot creation only
	slots map[PairKey]*pairSlot

	now func() time.Time
}

type pairSlot struct {
	mu    sync.Mutex
	state PairState
}

// NewTracker builds an empty tracker.
func NewTracker(settings Settings) *Tracker {
	return &Tracker{
		settings: settings,
		slots:    make(map[PairKey]*pairSlot),
		now:      time.Now,
	}
}

// Pair returns the handle for a key, creating its state lazily.
func (t *Tracker) Pair(key PairKey) *Pair {
	t.mu.Lock()
	slot, ok := t.slots[key]
	if !ok {
		slot = &pairSlot{}
		t.slots[key] = slot
	}
	t.mu.Unlock()
	return &Pair{key: key, slot: slot, tracker: t}
}

// Pair is a handle over one pair's state. Lock must be held for the whole
// evaluate+decide+dispatch sequence so overlapping cycles never interleave.
type Pair struct {
	key     PairKey
	slot    *pairSlot
	tracker *Tracker
}

// Key returns the pair's identity.
func (p *Pair) Key() PairKey { return p.key }

// Lock takes the per-pair mutex.
func (p *Pair) Lock() { p.slot.mu.Lock() }

// Unlock releases the per-pair mutex.
func (p *Pair) Unlock() { p.slot.mu.Unlock() }

// Snapshot copies the current state. Caller must hold the pair lock.
func (p *Pair) Snapshot() PairState { return p.slot.state }

// Observe records one evaluated cycle, moves the activation state, and
// decides whether a notification must be dispatched. The sent snapshot is
// untouched; call MarkSent only after a successful dispatch. Caller must
// hold the pair lock.
func (p *Pair) Observe(obs Observation) Decision {
	state := &p.slot.state
	settings := p.tracker.settings
	now := p.tracker.now()

	wasActive := state.Active
	isActive := obs.Spread.GreaterThanOrEqual(obs.Threshold)

	state.LastSpread = obs.Spread
	state.LastBuyPrice = obs.BuyPrice
	state.LastSellPrice = obs.SellPrice
	state.Active = isActive
	switch {
	case isActive && !wasActive:
		state.ActiveSince = now
	case !isActive:
		state.ActiveSince = time.Time{}
	}

	// Sub-tolerance oscillation must never read as change.
	if state.haveSent && Signature(obs, settings.Tolerance) == state.LastSentSignature {
		return Decision{}
	}

	switch {
	case isActive && !wasActive:
		if settings.ResendTTL > 0 && !state.LastSentAt.IsZero() && now.Sub(state.LastSentAt) < settings.ResendTTL {
			return Decision{}
		}
		return Decision{Send: true, Type: MessageStart}
	case isActive && wasActive:
		if p.significant(obs) {
			return Decision{Send: true, Type: MessageUpdate}
		}
	case !isActive && wasActive:
		if p.significant(obs) {
			return Decision{Send: true, Type: MessageEnd}
		}
	}
	return Decision{}
}

// MarkSent records a successful dispatch. Caller must hold the pair lock.
func (p *Pair) MarkSent(obs Observation, msg MessageType) {
	state := &p.slot.state
	state.LastSentSpread = obs.Spread
	state.LastSentBuyPrice = obs.BuyPrice
	state.LastSentSellPrice = obs.SellPrice
	state.LastSentAt = p.tracker.now()
	state.LastMessageType = msg
	state.LastSentSignature = Signature(obs, p.tracker.settings.Tolerance)
	state.haveSent = true
}

// significant compares an observation against the last *sent* snapshot.
func (p *Pair) significant(obs Observation) bool {
	state := &p.slot.state
	settings := p.tracker.settings

	if !state.haveSent {
		return true
	}

	if settings.AnyChange {
		return exceeds(obs.Spread.Sub(state.LastSentSpread), settings.Tolerance) ||
			exceeds(obs.BuyPrice.Sub(state.LastSentBuyPrice), settings.Tolerance) ||
			exceeds(obs.SellPrice.Sub(state.LastSentSellPrice), settings.Tolerance)
	}

	if obs.Spread.Sub(state.LastSentSpread).Abs().GreaterThanOrEqual(settings.MinSpreadDelta) {
		return true
	}
	if relativeChangePct(state.LastSentBuyPrice, obs.BuyPrice).GreaterThanOrEqual(settings.MinPriceChangePct) {
		return true
	}
	if relativeChangePct(state.LastSentSellPrice, obs.SellPrice).GreaterThanOrEqual(settings.MinPriceChangePct) {
		return true
	}
	return false
}

func exceeds(delta, tolerance decimal.Decimal) bool {
	return delta.Abs().GreaterThan(tolerance)
}

func relativeChangePct(old, new decimal.Decimal) decimal.Decimal {
	diff := new.Sub(old).Abs()
	if old.IsZero() {
		return diff.Mul(hundred)
	}
	return diff.Div(old.Abs()).Mul(hundred)
}

// Signature quantizes an observation into tolerance-sized bins so values
// closer than the tolerance collapse onto one dedup key.
func Signature(obs Observation, tolerance decimal.Decimal) string {
	var b strings.Builder
	b.WriteString(quantize(obs.Spread, tolerance))
	b.WriteByte('|')
	b.WriteString(quantize(obs.BuyPrice, tolerance))
	b.WriteByte('|')
	b.WriteString(quantize(obs.SellPrice, tolerance))
	return b.String()
}

func quantize(v, tolerance decimal.Decimal) string {
	if !tolerance.IsPositive() {
		return v.String()
	}
	return v.Div(tolerance).Floor().String()
}
