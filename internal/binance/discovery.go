package binance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Built-in display-name fallbacks for identifiers that predate discovery.
var friendlyNames = map[string]string{
	"SkrillMoneybookers": "Skrill",
	"Skrill":             "Skrill",
	"InstaPay":           "InstaPay",
	"Vodafonecash":       "Vodafonecash",
}

// DiscoverMethods samples a few pages on both sides of a fiat's listing and
// collects the payment-method identifiers seen in adv.tradeMethods, keyed to
// their display names. pause spaces out the sample fetches.
func (c *Client) DiscoverMethods(ctx context.Context, fiat string, samplePages int, pause time.Duration) (map[string]string, error) {
	if samplePages <= 0 {
		samplePages = 2
	}

	found := make(map[string]string)
	for _, side := range []Side{SideBuy, SideSell} {
		for page := 1; page <= samplePages; page++ {
			entries, res := c.searchEntries(ctx, fiat, "", side, page, c.opts.Rows)
			if res.Status != PageOK {
				if res.Err != nil {
					return found, fmt.Errorf("discover %s %s page %d: %w", fiat, side, page, res.Err)
				}
				break
			}
			if len(entries) == 0 {
				break
			}
			for _, entry := range entries {
				for _, tm := range entry.Adv.TradeMethods {
					identifier := tm.Identifier
					if identifier == "" {
						identifier = tm.PayType
					}
					if identifier == "" {
						identifier = tm.TradeMethodName
					}
					if identifier == "" {
						continue
					}
					name := tm.TradeMethodName
					if name == "" {
						name = identifier
					}
					found[identifier] = name
				}
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return found, ctx.Err()
				case <-time.After(pause):
				}
			}
		}
	}
	return found, nil
}

// AliasTable resolves configured payment-method names to the canonical
// identifiers the upstream filter understands. All scanning and state-machine
// code only ever sees canonical identifiers.
type AliasTable struct {
	methods map[string]map[string]string // fiat -> identifier -> display name
}

// NewAliasTable builds an empty alias table.
func NewAliasTable() *AliasTable {
	return &AliasTable{methods: make(map[string]map[string]string)}
}

// Add registers a discovered identifier and its display name for a fiat.
func (t *AliasTable) Add(fiat, identifier, name string) {
	if identifier == "" {
		return
	}
	byID := t.methods[fiat]
	if byID == nil {
		byID = make(map[string]string)
		t.methods[fiat] = byID
	}
	if name == "" {
		name = identifier
	}
	byID[identifier] = name
}

// Canonical maps a raw method string to its canonical identifier. Matching
// order: exact identifier, case-insensitive identifier, case-insensitive
// display name, display-name substring. When the table holds nothing for the
// fiat, the raw string passes through unchanged.
func (t *AliasTable) Canonical(fiat, raw string) (string, bool) {
	byID := t.methods[fiat]
	if len(byID) == 0 {
		return raw, true
	}

	if _, ok := byID[raw]; ok {
		return raw, true
	}

	lower := strings.ToLower(raw)
	for identifier, name := range byID {
		if strings.ToLower(identifier) == lower || strings.ToLower(name) == lower {
			return identifier, true
		}
	}
	for identifier, name := range byID {
		if strings.Contains(strings.ToLower(name), lower) {
			return identifier, true
		}
	}
	return "", false
}

// DisplayName returns a human-readable name for a canonical identifier.
func (t *AliasTable) DisplayName(fiat, identifier string) string {
	if byID := t.methods[fiat]; byID != nil {
		if name, ok := byID[identifier]; ok {
			return name
		}
	}
	if name, ok := friendlyNames[identifier]; ok {
		return name
	}
	return identifier
}
