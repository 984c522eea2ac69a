package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"surplus-watcher/internal/alerting"
	"surplus-watcher/internal/api"
	"surplus-watcher/internal/config"
	"surplus-watcher/internal/fetcher"
	"surplus-watcher/internal/interval"
	"surplus-watcher/internal/logging"
	"surplus-watcher/internal/scheduler"
	"surplus-watcher/internal/service"
	"surplus-watcher/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newPlanner() (*interval.Planner, error) {
	planner, err := interval.New(interval.Options{
		CoarseStep:   a.Config.Scheduler.CoarseStep,
		FineStep:     a.Config.Scheduler.FineStep,
		RetryBackoff: a.Config.Scheduler.RetryBackoff,
		MaxFailures:  a.Config.Scheduler.MaxFailures,
	})
	if err != nil {
		return nil, fmt.Errorf("build interval planner: %w", err)
	}
	return planner, nil
}

func (a *App) newFetcher() fetcher.ItemFetcher {
	return fetcher.NewMarketplace(fetcher.MarketplaceOptions{
		BaseURL:        a.Config.Marketplace.BaseURL,
		AccessToken:    a.Config.Marketplace.AccessToken,
		UserAgent:      a.Config.Marketplace.UserAgent,
		PageSize:       a.Config.Marketplace.PageSize,
		MaxPages:       a.Config.Marketplace.MaxPages,
		RequestsPerMin: a.Config.Marketplace.RequestsPerMin,
		Timeout:        a.Config.Marketplace.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var channels alerting.Multi
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		channels = append(channels, alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		}, a.Logger))
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
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
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn is not configured")
	}
	return store, closeStore, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	planner, err := a.newPlanner()
	if err != nil {
		return err
	}

	loop := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.TickInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	stores := service.Stores{
		Entities:  store,
		Schedules: store,
		Snapshots: store,
		Events:    store,
	}

	svc := service.New(a.Config, loop, planner, a.newFetcher(), stores, a.newNotifier(), a.Logger)

	if a.Config.API.Enabled {
		opsServer := api.New(a.Config.API, store, store, a.Logger)
		go func() {
			if err := opsServer.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("ops api terminated with error")
			}
		}()
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting one entity's event history.
type ExportOptions struct {
	EntityID  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate-diff command.
type SimulateOptions struct {
	BeforePath string
	AfterPath  string
	Notify     bool
}

// AddEntityOptions configure entity creation.
type AddEntityOptions struct {
	Name         string
	Recipient    string
	Timezone     string
	Latitude     float64
	Longitude    float64
	RadiusMeters int
}
