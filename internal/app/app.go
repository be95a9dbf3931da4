package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/alerting"
	"p2p-spread-alerts/internal/binance"
	"p2p-spread-alerts/internal/config"
	"p2p-spread-alerts/internal/opportunity"
	"p2p-spread-alerts/internal/ratelimit"
	"p2p-spread-alerts/internal/scanner"
	"p2p-spread-alerts/internal/service"
	"p2p-spread-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *binance.Client {
	return binance.NewClient(binance.Options{
		BaseURL:   a.Config.Upstream.BaseURL,
		Asset:     a.Config.Upstream.Asset,
		Rows:      a.Config.Upstream.Rows,
		Timeout:   a.Config.Upstream.RequestTimeout,
		UserAgent: a.Config.Upstream.UserAgent,
	}, a.Logger)
}

func (a *App) newScanner(client *binance.Client) *scanner.Scanner {
	limiter := ratelimit.New(ratelimit.Options{
		RequestsPerMinute: a.Config.Limiter.RequestsPerMinute,
		Burst:             a.Config.Limiter.Burst,
		MinInterval:       a.Config.Limiter.MinInterval,
		InitialBackoff:    a.Config.Limiter.InitialBackoff,
		MaxBackoff:        a.Config.Limiter.MaxBackoff,
		CooldownAfter:     a.Config.Limiter.CooldownAfter,
		Cooldown:          a.Config.Limiter.Cooldown,
		Jitter:            a.Config.Limiter.Jitter,
	}, a.Logger)

	return scanner.New(client, limiter, scanner.Options{
		MaxPages:  a.Config.Scanner.MaxPages,
		PagePause: a.Config.Scanner.PagePause,
		Attempts:  a.Config.Scanner.Attempts,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.PhotoURL, timeout, a.Logger)
	}
	return nil
}

func (a *App) newTracker() *opportunity.Tracker {
	cfg := a.Config.Alerting
	return opportunity.NewTracker(opportunity.Settings{
		AnyChange:         cfg.AnyChange,
		MinSpreadDelta:    decimal.NewFromFloat(cfg.MinSpreadDelta),
		MinPriceChangePct: decimal.NewFromFloat(cfg.MinPriceChangePct),
		Tolerance:         decimal.NewFromFloat(cfg.Tolerance),
		ResendTTL:         cfg.ResendTTL,
	})
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Info().Msg("database.dsn not configured; audit persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newClient()

	pairs, err := a.BuildMonitoredPairs(ctx, client)
	if err != nil {
		return err
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no notification channel enabled; emissions will only be logged")
	}

	var observationStore storage.ObservationStore
	var alertStore storage.AlertStore
	if store != nil {
		observationStore = store
		alertStore = store
	}

	svc := service.New(pairs, a.newScanner(client), a.newTracker(), notifier, observationStore, alertStore, service.Options{
		RefreshInterval: a.Config.Pairs.RefreshInterval,
		Workers:         a.Config.Pairs.Workers,
		Stagger:         a.Config.Pairs.Stagger,
		FastProbe:       a.Config.Scanner.FastProbe,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting one pair's audit history.
type ExportOptions struct {
	Fiat      string
	Method    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}
