// Package app wires configuration, storage, clients, and services into a
// running engine. It is the shared core used by cmd/foliod.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sgrimes/folio/internal/clients/finnhub"
	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/services/holdings"
	"github.com/sgrimes/folio/internal/services/jobmanager"
	"github.com/sgrimes/folio/internal/services/ledger"
	"github.com/sgrimes/folio/internal/services/pricecache"
	"github.com/sgrimes/folio/internal/services/snapshot"
	"github.com/sgrimes/folio/internal/services/valuation"
	"github.com/sgrimes/folio/internal/storage"
)

// App holds all initialized services and clients.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager
	Clock   *common.MarketClock

	MarketClient     interfaces.MarketDataClient
	LedgerService    interfaces.LedgerService
	HoldingsService  interfaces.HoldingsService
	PriceService     interfaces.PriceService
	SnapshotService  interfaces.SnapshotService
	ValuationService interfaces.ValuationService
	Jobs             interfaces.JobManager

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes all services, clients, and storage.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	if configPath == "" {
		configPath = os.Getenv("FOLIO_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "folio.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/folio.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	clock := common.NewMarketClock(config.PriceCache.Timezone)

	if config.Clients.Finnhub.APIKey == "" {
		logger.Warn().Msg("Finnhub API key not configured - live pricing will be unavailable")
	}
	marketClient := finnhub.NewClient(config.Clients.Finnhub.APIKey,
		finnhub.WithBaseURL(config.Clients.Finnhub.BaseURL),
		finnhub.WithLogger(logger),
		finnhub.WithRateLimit(config.Clients.Finnhub.RateLimit),
		finnhub.WithTimeout(config.Clients.Finnhub.GetTimeout()),
		finnhub.WithMarketClock(clock),
	)

	holdingsService := holdings.NewService(storageManager, logger)
	priceService := pricecache.NewService(storageManager, marketClient, clock, config.PriceCache.GetTTL(), logger)
	snapshotService := snapshot.NewService(storageManager, marketClient, clock, logger)
	jobs := jobmanager.NewManager(snapshotService, logger, config.Jobs)
	snapshotService.SetJobManager(jobs)
	ledgerService := ledger.NewService(storageManager, holdingsService, snapshotService, logger)
	valuationService := valuation.NewService(storageManager, holdingsService, priceService, snapshotService, logger)

	app := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		Clock:            clock,
		MarketClient:     marketClient,
		LedgerService:    ledgerService,
		HoldingsService:  holdingsService,
		PriceService:     priceService,
		SnapshotService:  snapshotService,
		ValuationService: valuationService,
		Jobs:             jobs,
	}

	logger.Info().
		Str("environment", config.Environment).
		Str("storage", config.Storage.Driver).
		Msg("Folio initialized")

	return app, nil
}

// Start launches the job manager and background schedulers.
func (a *App) Start() {
	a.Jobs.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	a.startSchedulers(ctx)
}

// Stop shuts down schedulers, the job manager, and storage.
func (a *App) Stop() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	a.Jobs.Stop()
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}
	a.Logger.Info().Msg("Folio stopped")
}
