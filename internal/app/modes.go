package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/pipeline"
	"github.com/alanyoungcy/modelarena/internal/server"
	"github.com/alanyoungcy/modelarena/internal/server/handler"
	"github.com/alanyoungcy/modelarena/internal/server/ws"
)

// CycleMode runs exactly one invocation and returns. It fails only when the
// invocation itself failed; unit failures are logged.
func (a *App) CycleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cycle mode")

	report, err := a.newScheduler(deps).RunOnce(ctx)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cycle mode: %w", err)
	}
	a.logger.InfoContext(ctx, "cycle mode finished",
		slog.String("round_id", report.Round.ID),
		slog.Bool("ok", report.OK()),
	)
	return nil
}

// SchedulerMode runs cycles on the configured cron schedule.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	return a.newScheduler(deps).Run(ctx)
}

// ServerMode serves the query surface, the operator triggers when a ledger
// is configured, and the settlement stream when Redis is available.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the scheduler and, when enabled, the HTTP server side by
// side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.newScheduler(deps)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "server.enabled is false; running the scheduler only")
	}

	return g.Wait()
}

func (a *App) newScheduler(deps *Dependencies) *pipeline.Scheduler {
	sched := pipeline.NewScheduler(deps.Settlement, a.cfg.Scheduler.Cron, a.cfg.Scheduler.CycleTimeout.Duration, a.logger)
	if deps.Locks != nil {
		sched.WithLock(deps.Locks)
	}
	return sched
}

// startHTTPServer adds the HTTP server, its graceful shutdown and the
// WebSocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Rounds: handler.NewRoundHandler(deps.Rounds, deps.Predictions, deps.Bids, deps.Disbursements, deps.Archive, a.logger),
		Models: handler.NewModelHandler(deps.Predictions, deps.Pricer, a.logger),
	}
	if deps.Settlement != nil {
		handlers.Operator = handler.NewOperatorHandler(deps.Settlement, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled; settlement stream not served")
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RateLimitPerMin:   a.cfg.Server.RateLimitPerMin,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
