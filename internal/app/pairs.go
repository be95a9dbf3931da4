package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/config"
	"p2p-spread-alerts/internal/opportunity"
	"p2p-spread-alerts/internal/service"
)

// BuildMonitoredPairs resolves the configured pair declarations into the
// final monitored set: payment methods are canonicalised against the alias
// table, per-pair overrides are applied over the defaults, and duplicates
// collapse onto their first declaration.
func (a *App) BuildMonitoredPairs(ctx context.Context, client *binance.Client) ([]service.MonitoredPair, error) {
	cfg := a.Config.Pairs
	aliases, err := a.loadAliases(ctx, client)
	if err != nil {
		return nil, err
	}

	chain := a.thresholdChain()

	pairs := make([]service.MonitoredPair, 0, len(cfg.Monitored))
	for _, pc := range cfg.Monitored {
		fiat := strings.ToUpper(strings.TrimSpace(pc.Fiat))
		canonical, ok := aliases.Canonical(fiat, strings.TrimSpace(pc.Method))
		if !ok {
			return nil, fmt.Errorf("unknown payment method %q for %s", pc.Method, fiat)
		}

		key := opportunity.PairKey{Fiat: fiat, Method: canonical}

		minLimit := cfg.DefaultMinLimit
		if pc.MinLimit > 0 {
			minLimit = pc.MinLimit
		}

		threshold := chain.Resolve(key)
		if pc.ProfitThreshold > 0 {
			threshold = decimal.NewFromFloat(pc.ProfitThreshold)
		}

		pairs = append(pairs, service.MonitoredPair{
			Key:             key,
			DisplayMethod:   aliases.DisplayName(fiat, canonical),
			MinLimit:        decimal.NewFromFloat(minLimit),
			MaxLimit:        decimal.NewFromFloat(pc.MaxLimit),
			ProfitThreshold: threshold,
			MinAds:          pc.MinAds,
		})
	}

	pairs = lo.UniqBy(pairs, func(p service.MonitoredPair) opportunity.PairKey {
		return p.Key
	})

	a.Logger.Info().Int("pairs", len(pairs)).Msg("monitored pair set resolved")
	return pairs, nil
}

// loadAliases optionally samples the live listing to learn the identifiers
// the upstream filter accepts. With discovery off the table stays empty and
// configured method strings pass through verbatim.
func (a *App) loadAliases(ctx context.Context, client *binance.Client) (*binance.AliasTable, error) {
	table := binance.NewAliasTable()
	if !a.Config.Pairs.Discover {
		return table, nil
	}

	fiats := lo.Uniq(lo.Map(a.Config.Pairs.Monitored, func(pc config.PairConfig, _ int) string {
		return strings.ToUpper(strings.TrimSpace(pc.Fiat))
	}))

	for _, fiat := range fiats {
		found, err := client.DiscoverMethods(ctx, fiat, a.Config.Pairs.DiscoverPages, a.Config.Scanner.PagePause)
		if err != nil {
			return nil, fmt.Errorf("discover payment methods for %s: %w", fiat, err)
		}
		for identifier, name := range found {
			table.Add(fiat, identifier, name)
		}
		a.Logger.Info().Str("fiat", fiat).Int("methods", len(found)).Msg("payment methods discovered")
	}
	return table, nil
}

func (a *App) thresholdChain() opportunity.ThresholdChain {
	cfg := a.Config.Pairs
	chain := opportunity.ThresholdChain{
		Fiat:    make(map[string]decimal.Decimal, len(cfg.FiatThresholds)),
		Method:  make(map[string]decimal.Decimal, len(cfg.MethodThresholds)),
		Default: decimal.NewFromFloat(cfg.DefaultProfitThreshold),
	}
	for fiat, v := range cfg.FiatThresholds {
		chain.Fiat[strings.ToUpper(fiat)] = decimal.NewFromFloat(v)
	}
	for method, v := range cfg.MethodThresholds {
		chain.Method[method] = decimal.NewFromFloat(v)
	}
	return chain
}

// Pairs prints the resolved monitored set, including discovery results when
// enabled, without starting the service.
func (a *App) Pairs(ctx context.Context) error {
	pairs, err := a.BuildMonitoredPairs(ctx, a.newClient())
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fiat\tMethod\tDisplay\tMinLimit\tMaxLimit\tThreshold%\tMinAds")
	for _, p := range pairs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			p.Key.Fiat,
			p.Key.Method,
			p.DisplayMethod,
			p.MinLimit.StringFixed(0),
			p.MaxLimit.StringFixed(0),
			p.ProfitThreshold.StringFixed(2),
			p.MinAds,
		)
	}
	return writer.Flush()
}
