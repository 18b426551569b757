package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fanclash/settlement/internal/engine"
	"github.com/fanclash/settlement/internal/notify"
	"github.com/fanclash/settlement/internal/server"
	"github.com/fanclash/settlement/internal/server/handler"
	"github.com/fanclash/settlement/internal/server/ws"
	"github.com/fanclash/settlement/internal/service"
)

// ServerMode runs only the HTTP API and the WebSocket hub. Markets fill with
// stakes and duels but nothing settles; pair it with a settler instance.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// SettlerMode runs the settlement workers without the HTTP API: the settler
// loop, the outbox dispatcher, and optionally the audit archiver.
func (a *App) SettlerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settler mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSettlement(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process: HTTP API, WebSocket hub,
// settlement workers, and the audit archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startSettlement(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// remainderPolicy parses the configured remainder policy. Validation has
// already rejected unknown values.
func (a *App) remainderPolicy() engine.RemainderPolicy {
	return engine.RemainderPolicy(strings.ToLower(a.cfg.Engine.RemainderPolicy))
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, skipping HTTP server")
		return
	}

	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, deps.SignalBus, deps.AuditStore, a.logger)
	stakeSvc := service.NewStakeService(deps.StakeStore, deps.MarketCache, deps.RateLimiter, deps.SignalBus, deps.AuditStore, a.logger).
		WithLimits(a.cfg.Engine.StakeRateLimit, a.cfg.Engine.MaxStake)
	duelSvc := service.NewDuelService(deps.DuelStore, deps.SignalBus, deps.AuditStore, a.logger).
		WithMaxStake(a.cfg.Engine.MaxStake)
	claimSvc := service.NewClaimService(
		deps.MarketStore, deps.StakeStore, deps.DuelStore,
		deps.SignalBus, deps.AuditStore, a.remainderPolicy(), a.logger,
	)
	// Manual resolution shares the settler's compare-and-set path. The result
	// source is unused there, so this works even when none is wired.
	resolver := service.NewSettler(
		deps.MarketStore, deps.StakeStore, deps.Outbox,
		deps.Results, deps.LockManager, deps.MarketCache,
		deps.SignalBus, deps.AuditStore, a.remainderPolicy(), a.logger,
	).WithTreasuryAccount(a.cfg.Treasury.Account)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Markets: handler.NewMarketHandler(marketSvc, stakeSvc, resolver, a.logger),
			Duels:   handler.NewDuelHandler(duelSvc, a.logger),
			Claims:  handler.NewClaimHandler(claimSvc, deps.AuditStore, deps.BlobReader, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startSettlement adds the settler loop and the outbox dispatcher loop to
// the given errgroup.
func (a *App) startSettlement(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	settler := service.NewSettler(
		deps.MarketStore, deps.StakeStore, deps.Outbox,
		deps.Results, deps.LockManager, deps.MarketCache,
		deps.SignalBus, deps.AuditStore, a.remainderPolicy(), a.logger,
	).WithTreasuryAccount(a.cfg.Treasury.Account)
	g.Go(func() error {
		err := settler.RunLoop(ctx, a.cfg.Engine.SettleInterval.Duration)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	dispatcher := service.NewOutboxDispatcher(deps.Outbox, deps.Transferrer, deps.SignalBus, a.logger)
	g.Go(func() error {
		err := dispatcher.RunLoop(ctx, a.cfg.Engine.DispatchInterval.Duration)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startNotifier adds the operator alert listener when at least one
// notification channel is configured.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return
	}

	channels := []string{
		service.ChannelMarkets,
		service.ChannelDuels,
		service.ChannelClaims,
		service.ChannelTransfers,
	}
	listener := notify.NewListener(deps.SignalBus, senders, channels, a.cfg.Notify.Events, a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startArchiver adds the periodic audit export goroutine when archiving is
// enabled. Export failures are logged and retried on the next tick; they
// never take the process down.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if n, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "archive: audit export failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archive: audit exported", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveTransfers(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "archive: transfer export failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archive: transfers exported", slog.Int64("count", n))
				}
			}
		}
	})
}
