package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
pairs:
  refresh_interval: 30s
  workers: 4
  default_profit_threshold: 0.6
  fiat_thresholds:
    EGP: 0.5
  monitored:
    - fiat: EGP
      method: SkrillMoneybookers
    - fiat: SAR
      method: InstaPay
      profit_threshold: 1.2
      min_ads: 3
alerting:
  resend_ttl: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pairs.RefreshInterval != 30*time.Second {
		t.Fatalf("refresh_interval = %s", cfg.Pairs.RefreshInterval)
	}
	if cfg.Pairs.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Pairs.Workers)
	}
	if cfg.Pairs.FiatThresholds["EGP"] != 0.5 {
		t.Fatalf("fiat_thresholds = %v", cfg.Pairs.FiatThresholds)
	}
	if len(cfg.Pairs.Monitored) != 2 {
		t.Fatalf("monitored = %v", cfg.Pairs.Monitored)
	}
	if cfg.Pairs.Monitored[1].ProfitThreshold != 1.2 || cfg.Pairs.Monitored[1].MinAds != 3 {
		t.Fatalf("pair overrides not decoded: %+v", cfg.Pairs.Monitored[1])
	}
	if cfg.Alerting.ResendTTL != 5*time.Minute {
		t.Fatalf("resend_ttl = %s", cfg.Alerting.ResendTTL)
	}

	// Untouched sections keep their defaults.
	if cfg.Limiter.RequestsPerMinute != 120 {
		t.Fatalf("limiter default lost: %v", cfg.Limiter.RequestsPerMinute)
	}
	if cfg.Scanner.MaxPages != 60 {
		t.Fatalf("scanner default lost: %d", cfg.Scanner.MaxPages)
	}
}

func TestLoadRejectsEmptyMonitoredSet(t *testing.T) {
	path := writeConfig(t, `
pairs:
  refresh_interval: 30s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error without monitored pairs")
	}
}

func TestLoadRejectsPairWithoutMethod(t *testing.T) {
	path := writeConfig(t, `
pairs:
  monitored:
    - fiat: EGP
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for pair without method")
	}
}

func TestLoadRejectsTelegramWithoutCredentials(t *testing.T) {
	path := writeConfig(t, `
pairs:
  monitored:
    - fiat: EGP
      method: SkrillMoneybookers
alerting:
  telegram:
    enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for telegram without credentials")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("default = %d", got)
	}
	if got := cfg.ResolveMaxPoints(42); got != 42 {
		t.Fatalf("override = %d", got)
	}
}
