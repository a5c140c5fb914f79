package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/instabets/marketd/internal/server"
	"github.com/instabets/marketd/internal/server/handler"
	"github.com/instabets/marketd/internal/server/ws"
	"github.com/instabets/marketd/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get to finish after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ServeMode runs the full engine: the HTTP + WebSocket API, the settlement
// tracker's deadline sweep, and the event-feed relay.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, []string{
		service.ChannelMarketCreated,
		service.ChannelBetPlaced,
		service.ChannelMarketResolved,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Markets: handler.NewMarketHandler(deps.Markets, a.logger),
			Webhook: handler.NewWebhookHandler(deps.Tracker, a.logger),
		},
		hub,
		a.logger,
	)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Deadline sweep: the "No" half of the settlement race.
	g.Go(func() error {
		return deps.Tracker.Run(ctx)
	})

	return g.Wait()
}

// SweepMode runs only the settlement tracker. It exists for deployments that
// serve the API elsewhere and want an isolated sweeper.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")
	return deps.Tracker.Run(ctx)
}
