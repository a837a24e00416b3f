package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-alerts/internal/alerting"
	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/config"
	"balance-alerts/internal/fetcher"
	"balance-alerts/internal/scheduler"
	"balance-alerts/internal/service"
	"balance-alerts/internal/statestore"
	"balance-alerts/internal/telegram"
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

func (a *App) newFetcher() fetcher.BalanceFetcher {
	return fetcher.NewRunPod(fetcher.RunPodOptions{
		APIKey:  a.Config.RunPod.APIKey,
		BaseURL: a.Config.RunPod.BaseURL,
		Timeout: a.Config.RunPod.RequestTimeout,
	}, a.Logger)
}

func (a *App) newTelegram() *telegram.Client {
	return telegram.NewClient(telegram.Options{
		BotToken: a.Config.Telegram.BotToken,
		BaseURL:  a.Config.Telegram.APIBase,
		Timeout:  a.Config.Telegram.RequestTimeout,
	}, a.Logger)
}

func (a *App) alertParams() alertstate.Params {
	cfg := a.Config.Alerting
	return alertstate.Params{
		LowBalanceThreshold: decimal.NewFromFloat(cfg.LowBalanceUSD),
		HysteresisMargin:    decimal.NewFromFloat(cfg.HysteresisUSD),
		PodStopBalance:      decimal.NewFromFloat(cfg.PodStopBalanceUSD),
		Schedule: alertstate.Schedule{
			Initial: cfg.InitialInterval,
			Factor:  cfg.DecayFactor,
			Floor:   cfg.FloorInterval,
		},
	}
}

// openStateStore selects the durable state backend: Postgres when a DSN
// is configured, the JSON state file otherwise.
func (a *App) openStateStore(ctx context.Context) (alertstate.Store, statestore.AdvisoryLocker, func(), error) {
	if a.Config.Database.DSN != "" {
		pool, err := statestore.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := statestore.NewPostgresStore(ctx, pool, a.Config.Storage.AccountKey)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	}

	store, err := statestore.NewFileStore(a.Config.Storage.StatePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, nil, nil, nil
}

// Run executes the long-running watcher.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateCredentials(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, locker, closeStore, err := a.openStateStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	machine := alertstate.NewMachine(store, a.alertParams(), a.Logger)
	if err := machine.Restore(ctx); err != nil {
		return err
	}

	poller := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.PollInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	hour, minute, err := a.Config.Scheduler.ParseDailyTime()
	if err != nil {
		return err
	}
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return err
	}
	daily := scheduler.NewDaily(hour, minute, loc, a.Logger)

	tg := a.newTelegram()
	notifier := alerting.NewTelegramNotifier(tg, a.Config.Telegram.ChatID, a.Logger)

	lockKey := int64(0)
	if locker != nil {
		lockKey = a.Config.Database.AdvisoryLockKey
	}

	svc := service.New(service.Options{
		Fetcher:     a.newFetcher(),
		Machine:     machine,
		Notifier:    notifier,
		Telegram:    tg,
		ChatID:      a.Config.Telegram.ChatID,
		PollTimeout: a.Config.Telegram.PollTimeout,
		Poller:      poller,
		Daily:       daily,
		Locker:      locker,
		LockKey:     lockKey,
	}, a.Logger)

	a.Logger.Info().Msg("starting balance watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("balance watcher stopped")
	return nil
}
