package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/ratelimit"
)

// PageFetcher is the slice of the upstream client the scanner needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, fiat, method string, side binance.Side, page int) binance.PageResult
	FetchTop(ctx context.Context, fiat, method string, side binance.Side) binance.PageResult
}

// Query describes one side-scan of a monitored pair.
type Query struct {
	Fiat   string
	Method string
	Side   binance.Side
	// MinLimitThreshold is the largest acceptable advert minimum.
	MinLimitThreshold decimal.Decimal
	// MaxLimitThreshold is the smallest acceptable advert maximum; zero
	// disables the check entirely.
	MaxLimitThreshold decimal.Decimal
	// MinAds, when positive, requires this many qualifying adverts on the
	// side before its first price is trusted.
	MinAds int
}

// Options tune scanning behaviour.
type Options struct {
	MaxPages  int
	PagePause time.Duration
	Attempts  int
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	return o
}

// Scanner walks paginated listings looking for the first qualifying advert.
type Scanner struct {
	fetcher PageFetcher
	limiter *ratelimit.Limiter
	opts    Options
	logger  zerolog.Logger
}

// New constructs a Scanner.
func New(fetcher PageFetcher, limiter *ratelimit.Limiter, opts Options, logger zerolog.Logger) *Scanner {
	return &Scanner{
		fetcher: fetcher,
		limiter: limiter,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "scanner").Logger(),
	}
}

// FindQualifying scans successive pages and returns the first advertisement
// satisfying the query's limit constraints, in upstream order. It returns nil
// when the page budget is exhausted, the listing ends, or (with MinAds set)
// the side is too shallow. A nil result is "no data this round", not an
// error; only context cancellation is returned as one.
func (s *Scanner) FindQualifying(ctx context.Context, q Query) (*binance.Advertisement, error) {
	var first *binance.Advertisement
	count := 0

	for page := 1; page <= s.opts.MaxPages; page++ {
		ads, err := s.fetchPage(ctx, q, page)
		if err != nil {
			return nil, err
		}
		if len(ads) == 0 {
			break
		}

		for i := range ads {
			if !Qualifies(ads[i], q) {
				continue
			}
			count++
			if first == nil {
				ad := ads[i]
				first = &ad
			}
		}

		if first != nil && count >= q.MinAds {
			break
		}

		if page < s.opts.MaxPages && s.opts.PagePause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.PagePause):
			}
		}
	}

	if q.MinAds > 0 && count < q.MinAds {
		s.logger.Debug().Str("fiat", q.Fiat).Str("method", q.Method).Str("side", string(q.Side)).
			Int("found", count).Int("required", q.MinAds).Msg("side too shallow")
		return nil, nil
	}
	return first, nil
}

// ProbeTop fetches only the top-ranked advert for the side and returns it if
// it qualifies. Probe results only ever short-circuit a positive detection;
// callers fall back to the full scan otherwise.
func (s *Scanner) ProbeTop(ctx context.Context, q Query) (*binance.Advertisement, error) {
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		res := s.fetcher.FetchTop(ctx, q.Fiat, q.Method, q.Side)
		switch res.Status {
		case binance.PageOK:
			s.limiter.Success()
			if len(res.Ads) == 0 || !Qualifies(res.Ads[0], q) {
				return nil, nil
			}
			ad := res.Ads[0]
			return &ad, nil
		case binance.PageThrottled:
			if err := s.limiter.Throttled(ctx, res.RetryAfter); err != nil {
				return nil, err
			}
		default:
			if err := s.retryFailed(ctx, q, 0, attempt, res.Err); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// fetchPage retrieves one page through the shared limiter, retrying transient
// failures up to the attempt budget. Exhausting the budget degrades to an
// empty page, which truncates the scan.
func (s *Scanner) fetchPage(ctx context.Context, q Query, page int) ([]binance.Advertisement, error) {
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		res := s.fetcher.FetchPage(ctx, q.Fiat, q.Method, q.Side, page)
		switch res.Status {
		case binance.PageOK:
			s.limiter.Success()
			return res.Ads, nil
		case binance.PageThrottled:
			if err := s.limiter.Throttled(ctx, res.RetryAfter); err != nil {
				return nil, err
			}
		default:
			if err := s.retryFailed(ctx, q, page, attempt, res.Err); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (s *Scanner) retryFailed(ctx context.Context, q Query, page, attempt int, cause error) error {
	s.logger.Debug().Err(cause).Str("fiat", q.Fiat).Str("method", q.Method).
		Str("side", string(q.Side)).Int("page", page).Int("attempt", attempt).
		Msg("page fetch failed")
	if attempt >= s.opts.Attempts {
		return nil
	}
	return s.limiter.FailureDelay(ctx, attempt)
}

// Qualifies reports whether an advert satisfies a query's limit constraints.
// An advert max of zero means the advertiser is unconstrained.
func Qualifies(ad binance.Advertisement, q Query) bool {
	if !ad.Price.IsPositive() {
		return false
	}
	if ad.MinLimit.GreaterThan(q.MinLimitThreshold) {
		return false
	}
	if q.MaxLimitThreshold.IsPositive() && ad.MaxLimit.IsPositive() && ad.MaxLimit.LessThan(q.MaxLimitThreshold) {
		return false
	}
	return true
}

// SidePair holds the qualifying advert found on each side of a pair.
type SidePair struct {
	Buy  *binance.Advertisement
	Sell *binance.Advertisement
}

// FindBothSides runs the BUY and SELL side scans concurrently. buy and sell
// differ only in Side; both must complete before evaluation.
func (s *Scanner) FindBothSides(ctx context.Context, buy, sell Query) (SidePair, error) {
	var pair SidePair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ad, err := s.FindQualifying(gctx, buy)
		pair.Buy = ad
		return err
	})
	g.Go(func() error {
		ad, err := s.FindQualifying(gctx, sell)
		pair.Sell = ad
		return err
	})
	if err := g.Wait(); err != nil {
		return SidePair{}, err
	}
	return pair, nil
}
