// Package feeds posts a readable trail of tenant events into channels chosen
// in the tenant's "log" settings document.
package feeds

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/settings"
)

// App is the settings application key holding feed configuration.
const App = "log"

// Config maps a feed kind to the channel it publishes into.
type Config struct {
	Feeds map[string]int64 `json:"feeds"`
}

// Factory builds the subscriber of one feed kind bound to its channel.
type Factory func(tr channels.Transport, ch channels.Channel) bus.Subscriber

var factories = map[string]Factory{
	"logs": func(tr channels.Transport, ch channels.Channel) bus.Subscriber { return NewLogger(tr, ch) },
}

// Kinds lists the known feed kinds.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BusProvider hands out the per-tenant bus.
type BusProvider interface {
	Tenant(id int64) *bus.Bus
}

// Handler subscribes the configured feeds of every tenant and turns
// transport ban notifications into bus events.
type Handler struct {
	settings  *settings.Store
	transport channels.Transport
	buses     BusProvider

	mu      sync.Mutex
	tenants map[int64]*tenantFeeds
}

// tenantFeeds is claimed under the lock before the tenant's feeds are looked
// up, so concurrent initializations of other tenants do not wait on each other.
type tenantFeeds struct {
	subs []bus.Subscriber
}

func NewHandler(store *settings.Store, tr channels.Transport, buses BusProvider) *Handler {
	return &Handler{
		settings:  store,
		transport: tr,
		buses:     buses,
		tenants:   make(map[int64]*tenantFeeds),
	}
}

// InitTenant subscribes the tenant's feeds. Calling it again for an
// initialized tenant does nothing. The settings and channel lookups run
// without holding the handler lock.
func (h *Handler) InitTenant(ctx context.Context, tenantID int64) error {
	h.mu.Lock()
	if _, ok := h.tenants[tenantID]; ok {
		h.mu.Unlock()
		return nil
	}
	claim := &tenantFeeds{}
	h.tenants[tenantID] = claim
	h.mu.Unlock()

	subs, err := h.resolve(ctx, tenantID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tenants[tenantID] != claim {
		// Removed while resolving.
		return nil
	}
	if err != nil {
		delete(h.tenants, tenantID)
		return err
	}
	b := h.buses.Tenant(tenantID)
	for _, sub := range subs {
		b.Subscribe(sub)
	}
	claim.subs = subs
	return nil
}

// resolve builds the subscribers configured for the tenant.
func (h *Handler) resolve(ctx context.Context, tenantID int64) ([]bus.Subscriber, error) {
	doc, err := settings.Get[Config](ctx, h.settings, App, tenantID, nil)
	if err != nil {
		return nil, fmt.Errorf("feed settings: %w", err)
	}
	var cfg map[string]int64
	doc.Read(func(c *Config) {
		cfg = make(map[string]int64, len(c.Feeds))
		for k, v := range c.Feeds {
			cfg[k] = v
		}
	})

	var subs []bus.Subscriber
	for kind, channelID := range cfg {
		factory, ok := factories[kind]
		if !ok {
			logger.WarnCF("feeds", "Unknown feed kind", map[string]any{"tenant": tenantID, "kind": kind})
			continue
		}
		ch, err := h.transport.Channel(ctx, channelID)
		if err != nil {
			logger.WarnCF("feeds", "Feed channel unavailable", map[string]any{
				"tenant":  tenantID,
				"kind":    kind,
				"channel": channelID,
				"error":   err,
			})
			continue
		}
		subs = append(subs, factory(h.transport, ch))
		logger.DebugCF("feeds", "Feed subscribed", map[string]any{"tenant": tenantID, "kind": kind, "channel": channelID})
	}
	return subs, nil
}

// RemoveTenant unsubscribes the tenant's feeds.
func (h *Handler) RemoveTenant(tenantID int64) {
	h.mu.Lock()
	tf := h.tenants[tenantID]
	delete(h.tenants, tenantID)
	h.mu.Unlock()

	if tf == nil {
		return
	}
	b := h.buses.Tenant(tenantID)
	for _, sub := range tf.subs {
		b.Unsubscribe(sub)
	}
}

// OnMemberBan publishes "ban" for bans the bot did not perform itself.
func (h *Handler) OnMemberBan(ctx context.Context, ev channels.BanEvent) {
	if !h.foreign(ev) {
		return
	}
	h.buses.Tenant(ev.TenantID).Publish("ban", bus.Fields{
		"user":   *ev.Actor,
		"member": ev.Member,
		"reason": ev.Reason,
	})
}

// OnMemberUnban publishes "unban" for unbans the bot did not perform itself.
func (h *Handler) OnMemberUnban(ctx context.Context, ev channels.BanEvent) {
	if !h.foreign(ev) {
		return
	}
	h.buses.Tenant(ev.TenantID).Publish("unban", bus.Fields{
		"user":   *ev.Actor,
		"member": ev.Member,
	})
}

// foreign reports whether the event is attributed to someone other than the bot.
func (h *Handler) foreign(ev channels.BanEvent) bool {
	return ev.Actor != nil && ev.Actor.ID != h.transport.BotID()
}
