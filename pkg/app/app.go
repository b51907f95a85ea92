// Package app assembles the bot: it owns the event buses, the settings store,
// the command dispatcher and the moderation and feed handlers, and receives
// every notification the transport produces.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
	"github.com/tinyland-inc/guildclaw/pkg/config"
	"github.com/tinyland-inc/guildclaw/pkg/devtools"
	"github.com/tinyland-inc/guildclaw/pkg/feeds"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/metrics"
	"github.com/tinyland-inc/guildclaw/pkg/moderation"
	"github.com/tinyland-inc/guildclaw/pkg/permission"
	"github.com/tinyland-inc/guildclaw/pkg/settings"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

const (
	EventReady = "core.ready"
	EventClose = "core.close"
)

// Repository is the persistence the application needs.
type Repository interface {
	storage.SettingsRepository
	storage.PermissionRepository
}

type Options struct {
	Prefixes     string
	ErrorDelay   time.Duration
	DefaultReply command.ReplyStyle
	Grace        time.Duration
	Metrics      *metrics.Metrics
	Clock        func() time.Time
}

// OptionsFromConfig maps the commands and shutdown sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	style, ok := command.ParseReplyStyle(cfg.Commands.DefaultReply)
	if !ok {
		return Options{}, fmt.Errorf("unknown reply style %q", cfg.Commands.DefaultReply)
	}
	return Options{
		Prefixes:     cfg.Commands.Prefixes,
		ErrorDelay:   time.Duration(cfg.Commands.ErrorDeleteAfterSeconds) * time.Second,
		DefaultReply: style,
		Grace:        time.Duration(cfg.Shutdown.GraceSeconds) * time.Second,
	}, nil
}

// Context is the explicit application context. It implements channels.Handler.
type Context struct {
	transport  channels.Transport
	buses      *bus.Registry
	settings   *settings.Store
	resolver   *permission.Resolver
	dispatcher *command.Dispatcher
	moderation *moderation.Service
	watcher    *moderation.Watcher
	feeds      *feeds.Handler
	grace      time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	ready     atomic.Bool
}

var _ channels.Handler = (*Context)(nil)

func New(tr channels.Transport, repo Repository, opts Options) (*Context, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Context{
		transport: tr,
		grace:     opts.Grace,
		ctx:       ctx,
		cancel:    cancel,
		closing:   make(chan struct{}),
	}

	var busOpts []bus.RegistryOption
	dispatchOpts := []command.DispatcherOption{}
	if opts.Metrics != nil {
		busOpts = append(busOpts, bus.WithObserver(opts.Metrics))
		dispatchOpts = append(dispatchOpts, command.WithObserver(opts.Metrics))
	}
	if opts.Prefixes != "" {
		dispatchOpts = append(dispatchOpts, command.WithPrefixes(opts.Prefixes))
	}
	if opts.DefaultReply != "" {
		dispatchOpts = append(dispatchOpts, command.WithDefaultReply(opts.DefaultReply))
	}
	dispatchOpts = append(dispatchOpts, command.WithErrorDelay(opts.ErrorDelay))

	a.buses = bus.NewRegistry(ctx, busOpts...)
	a.settings = settings.NewStore(repo)
	a.resolver = permission.NewResolver(repo)

	var modOpts []moderation.Option
	if opts.Clock != nil {
		modOpts = append(modOpts, moderation.WithClock(opts.Clock))
	}
	a.moderation = moderation.NewService(a.settings, tr, a.buses, modOpts...)
	a.watcher = moderation.NewWatcher(a.moderation)
	a.feeds = feeds.NewHandler(a.settings, tr, a.buses)

	reg := command.NewRegistry()
	for _, g := range []*command.Group{
		moderation.Commands(a.moderation),
		permission.Commands(reg, a.resolver),
		devtools.Commands(),
	} {
		if err := reg.Add(g); err != nil {
			cancel()
			return nil, fmt.Errorf("register %s commands: %w", g.Name(), err)
		}
	}
	dispatchOpts = append(dispatchOpts, command.WithResolver(a.resolver))
	a.dispatcher = command.NewDispatcher(reg, tr, a.buses, dispatchOpts...)
	return a, nil
}

func (a *Context) Buses() *bus.Registry            { return a.buses }
func (a *Context) Settings() *settings.Store       { return a.settings }
func (a *Context) Resolver() *permission.Resolver  { return a.resolver }
func (a *Context) Dispatcher() *command.Dispatcher { return a.dispatcher }
func (a *Context) Moderation() *moderation.Service { return a.moderation }
func (a *Context) Transport() channels.Transport   { return a.transport }
func (a *Context) Closing() <-chan struct{}        { return a.closing }
func (a *Context) Ready() bool                     { return a.ready.Load() }

func (a *Context) shuttingDown() bool {
	select {
	case <-a.closing:
		return true
	default:
		return false
	}
}

func (a *Context) OnReady(ctx context.Context, tenants []int64) {
	for _, id := range tenants {
		a.initTenant(ctx, id)
	}
	a.ready.Store(true)
	logger.InfoCF("app", "Transport ready", map[string]any{
		"transport": a.transport.Name(),
		"tenants":   len(tenants),
	})
	a.buses.Default().PublishSync(ctx, EventReady, bus.Fields{"tenants": tenants})
}

func (a *Context) OnTenantJoin(ctx context.Context, tenantID int64) {
	logger.InfoCF("app", "Joined tenant", map[string]any{"tenant": tenantID})
	a.initTenant(ctx, tenantID)
}

func (a *Context) initTenant(ctx context.Context, tenantID int64) {
	if err := a.feeds.InitTenant(ctx, tenantID); err != nil {
		logger.WarnCF("app", "Tenant feeds not initialized", map[string]any{"tenant": tenantID, "error": err})
	}
}

// OnTenantRemove drops everything held for the tenant.
func (a *Context) OnTenantRemove(_ context.Context, tenantID int64) {
	a.feeds.RemoveTenant(tenantID)
	a.buses.Destroy(tenantID)
	a.settings.InvalidateTenant(tenantID)
	a.resolver.Invalidate(tenantID)
	logger.InfoCF("app", "Left tenant", map[string]any{"tenant": tenantID})
}

func (a *Context) OnMessage(ctx context.Context, msg *channels.Message) {
	if a.shuttingDown() {
		return
	}
	a.watcher.OnMessage(ctx, msg)
	a.dispatcher.Handle(ctx, msg)
}

func (a *Context) OnMemberBan(ctx context.Context, ev channels.BanEvent) {
	a.feeds.OnMemberBan(ctx, ev)
}

func (a *Context) OnMemberUnban(ctx context.Context, ev channels.BanEvent) {
	a.feeds.OnMemberUnban(ctx, ev)
}

// Run starts the transport on the application context and blocks until ctx is
// done, then shuts down.
func (a *Context) Run(ctx context.Context) error {
	if err := a.transport.Start(a.ctx, a); err != nil {
		a.cancel()
		return fmt.Errorf("start %s transport: %w", a.transport.Name(), err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.grace+5*time.Second)
	defer cancel()
	err := a.Shutdown(stopCtx)
	if stopErr := a.transport.Stop(stopCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	return err
}

// Shutdown closes Closing, publishes core.close and waits for its handlers,
// gives in-flight asynchronous handlers the grace period, then cancels the
// application context. Calling it again is a no-op.
func (a *Context) Shutdown(ctx context.Context) error {
	first := false
	a.closeOnce.Do(func() {
		first = true
		close(a.closing)
	})
	if !first {
		return nil
	}
	a.ready.Store(false)
	logger.InfoC("app", "Shutting down")

	a.buses.Default().PublishSync(ctx, EventClose, nil)

	var err error
	if a.grace > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, a.grace)
		err = a.buses.Wait(waitCtx)
		cancel()
	}
	a.cancel()
	if err != nil {
		logger.WarnCF("app", "Handlers still running after grace period", map[string]any{
			"grace": a.grace.String(),
			"error": err,
		})
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.InfoC("app", "Shutdown complete")
	return nil
}
