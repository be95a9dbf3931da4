package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/ratelimit"
)

type fakeFetcher struct {
	pages   map[int]binance.PageResult
	top     binance.PageResult
	fetched []int
}

func (f *fakeFetcher) FetchPage(_ context.Context, _, _ string, _ binance.Side, page int) binance.PageResult {
	f.fetched = append(f.fetched, page)
	if res, ok := f.pages[page]; ok {
		return res
	}
	return binance.PageResult{Status: binance.PageOK}
}

func (f *fakeFetcher) FetchTop(context.Context, string, string, binance.Side) binance.PageResult {
	return f.top
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Options{
		RequestsPerMinute: 600000,
		Burst:             100000,
		MinInterval:       time.Nanosecond,
		InitialBackoff:    time.Nanosecond,
		MaxBackoff:        time.Nanosecond,
		Cooldown:          time.Nanosecond,
	}, zerolog.Nop())
}

func newTestScanner(f *fakeFetcher, opts Options) *Scanner {
	return New(f, fastLimiter(), opts, zerolog.Nop())
}

func ad(price, min, max string) binance.Advertisement {
	return binance.Advertisement{
		Side:     binance.SideBuy,
		Fiat:     "EGP",
		Price:    decimal.RequireFromString(price),
		MinLimit: decimal.RequireFromString(min),
		MaxLimit: decimal.RequireFromString(max),
	}
}

func baseQuery() Query {
	return Query{
		Fiat:              "EGP",
		Method:            "InstaPay",
		Side:              binance.SideBuy,
		MinLimitThreshold: decimal.NewFromInt(100),
	}
}

func TestFindQualifyingSecondPage(t *testing.T) {
	f := &fakeFetcher{pages: map[int]binance.PageResult{
		1: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.1", "5000", "0")}},
		2: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.2", "50", "0")}},
	}}
	s := newTestScanner(f, Options{MaxPages: 5})

	got, err := s.FindQualifying(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected the page-2 advertisement, got none")
	}
	if !got.Price.Equal(decimal.RequireFromString("50.2")) {
		t.Fatalf("wrong advertisement returned: price %s", got.Price)
	}
}

func TestFindQualifyingStopsOnEmptyPage(t *testing.T) {
	f := &fakeFetcher{pages: map[int]binance.PageResult{
		1: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.1", "5000", "0")}},
		// page 2 yields no ads: end of listing
	}}
	s := newTestScanner(f, Options{MaxPages: 10})

	got, err := s.FindQualifying(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match, got %v", got)
	}
	if len(f.fetched) != 2 {
		t.Fatalf("scan should stop after the empty page, fetched %v", f.fetched)
	}
}

func TestFindQualifyingStopsOnFirstMatch(t *testing.T) {
	f := &fakeFetcher{pages: map[int]binance.PageResult{
		1: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.1", "50", "0"), ad("50.0", "10", "0")}},
		2: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("49.9", "10", "0")}},
	}}
	s := newTestScanner(f, Options{MaxPages: 10})

	got, err := s.FindQualifying(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got == nil || !got.Price.Equal(decimal.RequireFromString("50.1")) {
		t.Fatalf("first qualifying advert in upstream order expected, got %v", got)
	}
	if len(f.fetched) != 1 {
		t.Fatalf("scan should stop after the first match, fetched %v", f.fetched)
	}
}

func TestQualifiesMaxLimitZeroNeverRejects(t *testing.T) {
	q := baseQuery()
	// MaxLimitThreshold stays zero: the max check must never reject.
	for _, max := range []string{"0", "1", "99999999"} {
		if !Qualifies(ad("50", "10", max), q) {
			t.Fatalf("advert with max %s rejected despite disabled max check", max)
		}
	}

	q.MaxLimitThreshold = decimal.NewFromInt(1000)
	if Qualifies(ad("50", "10", "500"), q) {
		t.Fatal("advert below the max-limit threshold should be rejected")
	}
	if !Qualifies(ad("50", "10", "0"), q) {
		t.Fatal("advert with unconstrained max should qualify")
	}
}

func TestQualifiesRejectsZeroPrice(t *testing.T) {
	if Qualifies(ad("0", "10", "0"), baseQuery()) {
		t.Fatal("zero-price advert must not qualify")
	}
}

func TestFindQualifyingMinAdsDepth(t *testing.T) {
	f := &fakeFetcher{pages: map[int]binance.PageResult{
		1: {Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.1", "10", "0"), ad("50.0", "10", "0")}},
	}}
	s := newTestScanner(f, Options{MaxPages: 3})

	q := baseQuery()
	q.MinAds = 3
	got, err := s.FindQualifying(context.Background(), q)
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got != nil {
		t.Fatalf("shallow side should yield no price, got %v", got)
	}

	q.MinAds = 2
	got, err = s.FindQualifying(context.Background(), q)
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got == nil || !got.Price.Equal(decimal.RequireFromString("50.1")) {
		t.Fatalf("deep enough side should report its first qualifying price, got %v", got)
	}
}

func TestFetchFailureDegradesToNoData(t *testing.T) {
	f := &fakeFetcher{pages: map[int]binance.PageResult{
		1: {Status: binance.PageFailed, Err: errors.New("connection reset")},
	}}
	s := newTestScanner(f, Options{MaxPages: 5, Attempts: 3})

	got, err := s.FindQualifying(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("exhausted retries must not surface an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no data, got %v", got)
	}
	if len(f.fetched) != 3 {
		t.Fatalf("expected 3 attempts on page 1, fetched %v", f.fetched)
	}
}

func TestFetchThrottledThenRecovers(t *testing.T) {
	calls := 0
	f := &throttleOnceFetcher{ads: []binance.Advertisement{ad("50.1", "10", "0")}, calls: &calls}
	s := New(f, fastLimiter(), Options{MaxPages: 2, Attempts: 3}, zerolog.Nop())

	got, err := s.FindQualifying(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("FindQualifying failed: %v", err)
	}
	if got == nil {
		t.Fatal("scan should recover after a throttle signal")
	}
	if calls != 2 {
		t.Fatalf("expected throttled fetch then retry, got %d calls", calls)
	}
}

type throttleOnceFetcher struct {
	ads   []binance.Advertisement
	calls *int
}

func (f *throttleOnceFetcher) FetchPage(context.Context, string, string, binance.Side, int) binance.PageResult {
	*f.calls++
	if *f.calls == 1 {
		return binance.PageResult{Status: binance.PageThrottled}
	}
	return binance.PageResult{Status: binance.PageOK, Ads: f.ads}
}

func (f *throttleOnceFetcher) FetchTop(context.Context, string, string, binance.Side) binance.PageResult {
	return binance.PageResult{Status: binance.PageOK, Ads: f.ads}
}

func TestProbeTopQualifies(t *testing.T) {
	f := &fakeFetcher{top: binance.PageResult{Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.5", "10", "0")}}}
	s := newTestScanner(f, Options{})

	got, err := s.ProbeTop(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("ProbeTop failed: %v", err)
	}
	if got == nil || !got.Price.Equal(decimal.RequireFromString("50.5")) {
		t.Fatalf("probe should return the qualifying top advert, got %v", got)
	}

	f.top = binance.PageResult{Status: binance.PageOK, Ads: []binance.Advertisement{ad("50.5", "5000", "0")}}
	got, err = s.ProbeTop(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("ProbeTop failed: %v", err)
	}
	if got != nil {
		t.Fatalf("non-qualifying top advert should yield nil, got %v", got)
	}
}
