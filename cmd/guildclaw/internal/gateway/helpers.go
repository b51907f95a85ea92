package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal"
	"github.com/tinyland-inc/guildclaw/pkg/app"
	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/health"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/metrics"
)

func gatewayCmd(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.ConfigureLogging(cfg, debug)
	defer logger.Sync()

	if cfg.Discord.Token == "" {
		return errors.New("discord.token is not set")
	}
	allow, err := cfg.Discord.AllowTenants.Int64s()
	if err != nil {
		return fmt.Errorf("discord.allow_tenants: %w", err)
	}

	store, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}

	discord, err := channels.NewDiscord(cfg.Discord.Token, channels.WithAllowTenants(allow))
	if err != nil {
		return err
	}

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	var gatherer prometheus.Gatherer
	if cfg.Gateway.Metrics {
		m := metrics.New()
		opts.Metrics = m
		gatherer = m.Registry()
	}
	a, err := app.New(discord, store, opts)
	if err != nil {
		return err
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, gatherer)
	a.Buses().Default().Subscribe(&bus.SubscriberFunc{Event: app.EventReady, Handle: func(context.Context, bus.Event) error {
		healthServer.SetReady(true)
		return nil
	}})
	a.Buses().Default().Subscribe(&bus.SubscriberFunc{Event: app.EventClose, Handle: func(context.Context, bus.Event) error {
		healthServer.SetReady(false)
		return nil
	}})
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("%s Health endpoints available at http://%s:%d/health and /ready\n",
		internal.Logo, cfg.Gateway.Host, cfg.Gateway.Port)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoCF("gateway", "Gateway starting", map[string]any{
		"version":  internal.GetVersion(),
		"database": cfg.Database.Driver,
		"tenants":  len(allow),
	})
	fmt.Println("Press Ctrl+C to stop")
	runErr := a.Run(runCtx)

	fmt.Println("\nShutting down...")
	if err := healthServer.Stop(context.Background()); err != nil {
		logger.ErrorCF("health", "Health server stop failed", map[string]any{"error": err.Error()})
	}
	if runErr != nil {
		logger.ErrorCF("gateway", "Gateway stopped with error", map[string]any{"error": runErr.Error()})
		return runErr
	}
	fmt.Println("Gateway stopped")
	return nil
}
