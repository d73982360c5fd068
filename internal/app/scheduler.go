package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sgrimes/folio/internal/models"
)

// startSchedulers launches the background loops: the daily snapshot, the
// gap-fill sweep, and the price refresh. Each runs until ctx is cancelled.
func (a *App) startSchedulers(ctx context.Context) {
	go a.snapshotLoop(ctx, a.Config.Scheduler.GetSnapshotInterval())
	go a.fillMissingLoop(ctx, a.Config.Scheduler.GetFillMissingInterval())
	go a.refreshLoop(ctx, a.Config.Scheduler.GetRefreshInterval())
}

// snapshotLoop submits a snapshot job for the current date on each tick, so
// today's row tracks the portfolio as the day progresses.
func (a *App) snapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("Snapshot scheduler: stopped")
			return
		case <-ticker.C:
			a.Jobs.Submit(&models.Job{
				ID:        uuid.New().String(),
				Type:      models.JobTypeSnapshotDate,
				StartDate: models.DateOf(time.Now()),
				CreatedAt: time.Now(),
			})
		}
	}
}

// fillMissingLoop periodically sweeps for history gaps.
func (a *App) fillMissingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("Gap-fill scheduler: stopped")
			return
		case <-ticker.C:
			a.Jobs.Submit(&models.Job{
				ID:        uuid.New().String(),
				Type:      models.JobTypeFillMissing,
				CreatedAt: time.Now(),
			})
		}
	}
}

// refreshLoop keeps the price cache warm for every held symbol while the
// market is open.
func (a *App) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info().Msg("Price refresh scheduler: stopped")
			return
		case <-ticker.C:
			if !a.PriceService.MarketOpen() {
				continue
			}
			a.refreshHeldSymbols(ctx)
		}
	}
}

func (a *App) refreshHeldSymbols(ctx context.Context) {
	start := time.Now()

	users, err := a.Storage.Transactions().ListUsers(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Price refresh: failed to list users")
		return
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, userID := range users {
		held, err := a.HoldingsService.Holdings(ctx, userID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("user", userID).Msg("Price refresh: failed to load holdings")
			continue
		}
		for _, h := range held {
			if !seen[h.Symbol] {
				seen[h.Symbol] = true
				symbols = append(symbols, h.Symbol)
			}
		}
	}

	if len(symbols) == 0 {
		return
	}

	if err := a.PriceService.Refresh(ctx, symbols); err != nil {
		a.Logger.Warn().Err(err).Msg("Price refresh: failed")
		return
	}

	a.Logger.Info().
		Int("symbols", len(symbols)).
		Dur("elapsed", time.Since(start)).
		Msg("Price refresh: complete")
}
