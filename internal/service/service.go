package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"p2p-spread-alerts/internal/alerting"
	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/opportunity"
	"p2p-spread-alerts/internal/scanner"
	"p2p-spread-alerts/internal/storage"
)

// MonitoredPair is one fully resolved unit of monitoring. Method is always a
// canonical upstream identifier by the time it gets here.
type MonitoredPair struct {
	Key             opportunity.PairKey
	DisplayMethod   string
	MinLimit        decimal.Decimal
	MaxLimit        decimal.Decimal
	ProfitThreshold decimal.Decimal
	MinAds          int
}

// Options tune the orchestration loop.
type Options struct {
	RefreshInterval time.Duration
	Workers         int
	Stagger         time.Duration
	FastProbe       bool
}

// SideScanner is the slice of the scanner the orchestrator needs.
type SideScanner interface {
	FindBothSides(ctx context.Context, buy, sell scanner.Query) (scanner.SidePair, error)
	ProbeTop(ctx context.Context, q scanner.Query) (*binance.Advertisement, error)
}

// Service drives the scan-evaluate-notify cycle over the monitored set.
type Service struct {
	pairs        []MonitoredPair
	scanner      SideScanner
	tracker      *opportunity.Tracker
	notifier     alerting.Notifier
	observations storage.ObservationStore
	alerts       storage.AlertStore
	opts         Options
	logger       zerolog.Logger

	now func() time.Time
}

// New constructs the orchestrator. notifier, observations and alerts may each
// be nil; missing collaborators degrade to logging.
func New(pairs []MonitoredPair, sc SideScanner, tracker *opportunity.Tracker, notifier alerting.Notifier, observations storage.ObservationStore, alerts storage.AlertStore, opts Options, logger zerolog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Service{
		pairs:        pairs,
		scanner:      sc,
		tracker:      tracker,
		notifier:     notifier,
		observations: observations,
		alerts:       alerts,
		opts:         opts,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
	}
}

// Run loops refresh cycles until the context is cancelled. A slow cycle
// delays the next one; it is never overlapped from here, and the per-pair
// locks keep any external overlap safe.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Int("pairs", len(s.pairs)).Dur("refresh", s.opts.RefreshInterval).
		Int("workers", s.opts.Workers).Msg("starting monitor loop")

	for {
		start := s.now()
		s.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := s.now().Sub(start)
		if wait := s.opts.RefreshInterval - elapsed; wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// RunCycle processes every monitored pair once through a bounded worker pool.
// Individual pair failures are logged, never propagated.
func (s *Service) RunCycle(ctx context.Context) {
	g := &errgroup.Group{}
	g.SetLimit(s.opts.Workers)

	for i := range s.pairs {
		if i > 0 && s.opts.Stagger > 0 {
			select {
			case <-ctx.Done():
				_ = g.Wait()
				return
			case <-time.After(s.opts.Stagger):
			}
		}

		pair := s.pairs[i]
		g.Go(func() error {
			s.processPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()
}

// processPair runs one pair's scan-evaluate-notify unit under that pair's
// lock so overlapping cycles never interleave on the same state.
func (s *Service) processPair(ctx context.Context, p MonitoredPair) {
	pair := s.tracker.Pair(p.Key)
	pair.Lock()
	defer pair.Unlock()

	sides, err := s.findSides(ctx, p)
	if err != nil {
		return
	}
	if sides.Buy == nil || sides.Sell == nil {
		s.logger.Debug().Str("pair", p.Key.String()).
			Bool("buy", sides.Buy != nil).Bool("sell", sides.Sell != nil).
			Msg("no qualifying adverts this cycle")
		return
	}

	spread, err := opportunity.Spread(sides.Buy.Price, sides.Sell.Price)
	if err != nil {
		s.logger.Warn().Err(err).Str("pair", p.Key.String()).Msg("evaluation skipped")
		return
	}

	obs := opportunity.Observation{
		Spread:    spread,
		BuyPrice:  sides.Buy.Price,
		SellPrice: sides.Sell.Price,
		Threshold: p.ProfitThreshold,
	}
	decision := pair.Observe(obs)

	s.logger.Info().Str("pair", p.Key.String()).
		Str("buy", obs.BuyPrice.StringFixed(4)).
		Str("sell", obs.SellPrice.StringFixed(4)).
		Str("spread_pct", obs.Spread.StringFixed(4)).
		Bool("active", pair.Snapshot().Active).
		Msg("pair evaluated")

	s.recordObservation(ctx, p, obs, pair.Snapshot().Active)

	if !decision.Send {
		return
	}
	s.dispatch(ctx, pair, p, obs, decision.Type)
}

// dispatch delivers the notification and, only on success, advances the sent
// snapshot. With no notifier configured the emission is logged and counted as
// delivered, so quiet deployments do not re-decide every cycle.
func (s *Service) dispatch(ctx context.Context, pair *opportunity.Pair, p MonitoredPair, obs opportunity.Observation, msgType opportunity.MessageType) {
	msg := alerting.Message{
		Pair:          p.Key,
		Type:          msgType,
		MethodDisplay: p.DisplayMethod,
		BuySidePrice:  obs.BuyPrice,
		SellSidePrice: obs.SellPrice,
		SpreadPct:     obs.Spread,
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.Error().Err(err).Str("pair", p.Key.String()).Str("type", string(msgType)).
				Msg("dispatch failed, sent snapshot preserved")
			return
		}
	} else {
		s.logger.Info().Str("pair", p.Key.String()).Str("type", string(msgType)).
			Msg("notifier disabled, logging emission only")
	}

	pair.MarkSent(obs, msgType)
	s.recordAlert(ctx, pair, p, obs, msgType)
}

func (s *Service) findSides(ctx context.Context, p MonitoredPair) (scanner.SidePair, error) {
	buyQ := scanner.Query{
		Fiat:              p.Key.Fiat,
		Method:            p.Key.Method,
		Side:              binance.SideBuy,
		MinLimitThreshold: p.MinLimit,
		MaxLimitThreshold: p.MaxLimit,
		MinAds:            p.MinAds,
	}
	sellQ := buyQ
	sellQ.Side = binance.SideSell

	// The probe cannot verify listing depth, so it is skipped when the pair
	// demands one.
	if s.opts.FastProbe && p.MinAds == 0 {
		if sides, ok := s.probe(ctx, p, buyQ, sellQ); ok {
			return sides, nil
		}
		if err := ctx.Err(); err != nil {
			return scanner.SidePair{}, err
		}
	}

	return s.scanner.FindBothSides(ctx, buyQ, sellQ)
}

// probe short-circuits the full scan when the single top advert on each side
// already clears the pair's threshold. Any other outcome falls through.
func (s *Service) probe(ctx context.Context, p MonitoredPair, buyQ, sellQ scanner.Query) (scanner.SidePair, bool) {
	var sides scanner.SidePair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ad, err := s.scanner.ProbeTop(gctx, buyQ)
		sides.Buy = ad
		return err
	})
	g.Go(func() error {
		ad, err := s.scanner.ProbeTop(gctx, sellQ)
		sides.Sell = ad
		return err
	})
	if err := g.Wait(); err != nil {
		return scanner.SidePair{}, false
	}

	if sides.Buy == nil || sides.Sell == nil {
		return scanner.SidePair{}, false
	}
	spread, err := opportunity.Spread(sides.Buy.Price, sides.Sell.Price)
	if err != nil || spread.LessThan(p.ProfitThreshold) {
		return scanner.SidePair{}, false
	}
	return sides, true
}

func (s *Service) recordObservation(ctx context.Context, p MonitoredPair, obs opportunity.Observation, active bool) {
	if s.observations == nil {
		return
	}
	row := storage.Observation{
		ObservedAt:   s.now().UTC(),
		Fiat:         p.Key.Fiat,
		Method:       p.Key.Method,
		BuyPrice:     obs.BuyPrice,
		SellPrice:    obs.SellPrice,
		SpreadPct:    obs.Spread,
		ThresholdPct: obs.Threshold,
		Active:       active,
		Status:       "complete",
	}
	if err := s.observations.InsertObservation(ctx, row); err != nil {
		s.logger.Error().Err(err).Str("pair", p.Key.String()).Msg("failed to persist observation")
	}
}

func (s *Service) recordAlert(ctx context.Context, pair *opportunity.Pair, p MonitoredPair, obs opportunity.Observation, msgType opportunity.MessageType) {
	if s.alerts == nil {
		return
	}
	row := storage.AlertEmission{
		ObservedAt:  s.now().UTC(),
		Fiat:        p.Key.Fiat,
		Method:      p.Key.Method,
		MessageType: string(msgType),
		SpreadPct:   obs.Spread,
		BuyPrice:    obs.BuyPrice,
		SellPrice:   obs.SellPrice,
		Signature:   pair.Snapshot().LastSentSignature,
	}
	if _, err := s.alerts.InsertAlert(ctx, row); err != nil {
		s.logger.Error().Err(err).Str("pair", p.Key.String()).Msg("failed to persist alert emission")
	}
}
