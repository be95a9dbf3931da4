package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/alerting"
	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/opportunity"
	"p2p-spread-alerts/internal/scanner"
)

type fakeScanner struct {
	mu     sync.Mutex
	sides  map[string]scanner.SidePair
	err    error
	probes int
	fulls  int
}

func (f *fakeScanner) FindBothSides(_ context.Context, buy, _ scanner.Query) (scanner.SidePair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulls++
	if f.err != nil {
		return scanner.SidePair{}, f.err
	}
	return f.sides[buy.Fiat+"/"+buy.Method], nil
}

func (f *fakeScanner) ProbeTop(_ context.Context, q scanner.Query) (*binance.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	sides := f.sides[q.Fiat+"/"+q.Method]
	if q.Side == binance.SideBuy {
		return sides.Buy, nil
	}
	return sides.Sell, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []alerting.Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg alerting.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifier) messages() []alerting.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alerting.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func ad(price string) *binance.Advertisement {
	return &binance.Advertisement{Price: decimal.RequireFromString(price)}
}

func testPair() MonitoredPair {
	return MonitoredPair{
		Key:             opportunity.PairKey{Fiat: "EGP", Method: "SkrillMoneybookers"},
		DisplayMethod:   "Skrill",
		MinLimit:        decimal.NewFromInt(100),
		ProfitThreshold: decimal.RequireFromString("0.5"),
	}
}

func testTracker() *opportunity.Tracker {
	return opportunity.NewTracker(opportunity.Settings{
		MinSpreadDelta:    decimal.RequireFromString("0.01"),
		MinPriceChangePct: decimal.RequireFromString("0.05"),
		Tolerance:         decimal.RequireFromString("0.0001"),
	})
}

func TestRunCycleDispatchesStartOnce(t *testing.T) {
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50"), Sell: ad("50.00")},
	}}
	notifier := &fakeNotifier{}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 2}, zerolog.Nop())

	svc.RunCycle(context.Background())
	svc.RunCycle(context.Background())

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(msgs))
	}
	if msgs[0].Type != opportunity.MessageStart {
		t.Fatalf("expected start message, got %s", msgs[0].Type)
	}
	if msgs[0].MethodDisplay != "Skrill" {
		t.Fatalf("unexpected display method %q", msgs[0].MethodDisplay)
	}
}

func TestRunCycleEmitsEndAfterCollapse(t *testing.T) {
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50"), Sell: ad("50.00")},
	}}
	notifier := &fakeNotifier{}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 1}, zerolog.Nop())

	svc.RunCycle(context.Background())

	sc.mu.Lock()
	sc.sides["EGP/SkrillMoneybookers"] = scanner.SidePair{Buy: ad("50.05"), Sell: ad("50.00")}
	sc.mu.Unlock()
	svc.RunCycle(context.Background())

	msgs := notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected start then end, got %d messages", len(msgs))
	}
	if msgs[1].Type != opportunity.MessageEnd {
		t.Fatalf("expected end message, got %s", msgs[1].Type)
	}
}

func TestRunCycleFailedDispatchRetriesNextCycle(t *testing.T) {
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50"), Sell: ad("50.00")},
	}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 1}, zerolog.Nop())

	svc.RunCycle(context.Background())

	notifier.mu.Lock()
	notifier.err = nil
	notifier.mu.Unlock()
	svc.RunCycle(context.Background())

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected the retried dispatch only, got %d", len(msgs))
	}
	// The pair went active on the first cycle, so the retry is an update.
	if msgs[0].Type != opportunity.MessageUpdate {
		t.Fatalf("expected update on retry, got %s", msgs[0].Type)
	}
}

func TestRunCycleNoDataStaysSilent(t *testing.T) {
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50")},
	}}
	notifier := &fakeNotifier{}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 1}, zerolog.Nop())

	svc.RunCycle(context.Background())

	if len(notifier.messages()) != 0 {
		t.Fatalf("expected no dispatch without both sides")
	}
}

func TestFastProbeShortCircuitsFullScan(t *testing.T) {
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50"), Sell: ad("50.00")},
	}}
	notifier := &fakeNotifier{}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 1, FastProbe: true}, zerolog.Nop())

	svc.RunCycle(context.Background())

	if sc.fulls != 0 {
		t.Fatalf("expected probe to avoid the full scan, saw %d full scans", sc.fulls)
	}
	if sc.probes != 2 {
		t.Fatalf("expected one probe per side, got %d", sc.probes)
	}
	if len(notifier.messages()) != 1 {
		t.Fatalf("expected probe detection to dispatch")
	}
}

func TestFastProbeBelowThresholdFallsBack(t *testing.T) {
	// Top-of-book spread is under the threshold, so the probe must not
	// conclude anything and the full scan runs.
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.10"), Sell: ad("50.00")},
	}}
	notifier := &fakeNotifier{}
	svc := New([]MonitoredPair{testPair()}, sc, testTracker(), notifier, nil, nil, Options{Workers: 1, FastProbe: true}, zerolog.Nop())

	svc.RunCycle(context.Background())

	if sc.fulls != 1 {
		t.Fatalf("expected fallback to full scan, saw %d", sc.fulls)
	}
}

func TestFastProbeSkippedWithDepthRequirement(t *testing.T) {
	pair := testPair()
	pair.MinAds = 3
	sc := &fakeScanner{sides: map[string]scanner.SidePair{
		"EGP/SkrillMoneybookers": {Buy: ad("50.50"), Sell: ad("50.00")},
	}}
	svc := New([]MonitoredPair{pair}, sc, testTracker(), &fakeNotifier{}, nil, nil, Options{Workers: 1, FastProbe: true}, zerolog.Nop())

	svc.RunCycle(context.Background())

	if sc.probes != 0 {
		t.Fatalf("expected no probes when the pair requires depth, got %d", sc.probes)
	}
	if sc.fulls != 1 {
		t.Fatalf("expected one full scan, got %d", sc.fulls)
	}
}
