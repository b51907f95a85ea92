package channels

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// BaseChannelOption is a functional option for configuring a BaseChannel.
type BaseChannelOption func(*BaseChannel)

// WithAllowTenants restricts inbound traffic to the given tenants.
// An empty list allows every tenant.
func WithAllowTenants(ids []int64) BaseChannelOption {
	return func(c *BaseChannel) { c.allowList = slices.Clone(ids) }
}

// BaseChannel carries the state shared by every transport: its name, running
// flag, registered handler and tenant allow list. Inbound notifications go
// through its Handle* methods so filtering is applied uniformly.
type BaseChannel struct {
	name      string
	running   atomic.Bool
	allowList []int64

	mu      sync.RWMutex
	handler Handler
}

func NewBaseChannel(name string, opts ...BaseChannelOption) *BaseChannel {
	bc := &BaseChannel{name: name}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

func (c *BaseChannel) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *BaseChannel) getHandler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// IsAllowed reports whether traffic from tenantID is accepted. Direct
// messages (tenant 0) are always let through; the dispatcher ignores them.
func (c *BaseChannel) IsAllowed(tenantID int64) bool {
	if len(c.allowList) == 0 || tenantID == 0 {
		return true
	}
	return slices.Contains(c.allowList, tenantID)
}

func (c *BaseChannel) HandleReady(ctx context.Context, tenants []int64) {
	h := c.getHandler()
	if h == nil {
		return
	}
	allowed := make([]int64, 0, len(tenants))
	for _, id := range tenants {
		if c.IsAllowed(id) {
			allowed = append(allowed, id)
		}
	}
	h.OnReady(ctx, allowed)
}

func (c *BaseChannel) HandleTenantJoin(ctx context.Context, tenantID int64) {
	if h := c.getHandler(); h != nil && c.IsAllowed(tenantID) {
		h.OnTenantJoin(ctx, tenantID)
	}
}

func (c *BaseChannel) HandleTenantRemove(ctx context.Context, tenantID int64) {
	if h := c.getHandler(); h != nil && c.IsAllowed(tenantID) {
		h.OnTenantRemove(ctx, tenantID)
	}
}

func (c *BaseChannel) HandleMessage(ctx context.Context, msg *Message) {
	if h := c.getHandler(); h != nil && c.IsAllowed(msg.TenantID) {
		h.OnMessage(ctx, msg)
	}
}

func (c *BaseChannel) HandleMemberBan(ctx context.Context, ev BanEvent) {
	if h := c.getHandler(); h != nil && c.IsAllowed(ev.TenantID) {
		h.OnMemberBan(ctx, ev)
	}
}

func (c *BaseChannel) HandleMemberUnban(ctx context.Context, ev BanEvent) {
	if h := c.getHandler(); h != nil && c.IsAllowed(ev.TenantID) {
		h.OnMemberUnban(ctx, ev)
	}
}
