package bus

import (
	"context"
	"slices"
	"strconv"
	"sync"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver attaches an observer to every bus the registry creates.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// Registry owns the process-level default bus and one bus per tenant. Tenant
// buses are created on first access and dropped by Destroy.
type Registry struct {
	ctx      context.Context
	observer Observer
	inflight inflight

	mu      sync.Mutex
	def     *Bus
	tenants map[int64]*Bus
}

// NewRegistry returns a registry whose asynchronous publishes run on ctx.
// Cancelling ctx is how in-flight handlers are told to stop.
func NewRegistry(ctx context.Context, opts ...RegistryOption) *Registry {
	r := &Registry{
		ctx:     ctx,
		tenants: make(map[int64]*Bus),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.def = newBus("default", ctx, &r.inflight, r.observer)
	return r
}

// Default is the un-keyed bus for process-level events.
func (r *Registry) Default() *Bus {
	return r.def
}

func (r *Registry) Tenant(id int64) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.tenants[id]
	if !ok {
		b = newBus(strconv.FormatInt(id, 10), r.ctx, &r.inflight, r.observer)
		r.tenants[id] = b
	}
	return b
}

// Destroy drops the tenant's bus and all of its subscriptions.
func (r *Registry) Destroy(id int64) {
	r.mu.Lock()
	b, ok := r.tenants[id]
	delete(r.tenants, id)
	r.mu.Unlock()

	if ok {
		b.reset()
	}
}

// Tenants lists the tenants that currently own a bus.
func (r *Registry) Tenants() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every asynchronous publish has settled or ctx is done.
// Publishes started while waiting, such as those made by running handlers,
// are waited for too.
func (r *Registry) Wait(ctx context.Context) error {
	select {
	case <-r.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inflight counts asynchronous publishes. Unlike a WaitGroup it allows new
// work to be added while someone is waiting for the count to reach zero.
type inflight struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 && f.zero != nil {
		close(f.zero)
		f.zero = nil
	}
}

// idle returns a channel that is closed once no publish is in flight.
func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if f.zero == nil {
		f.zero = make(chan struct{})
	}
	return f.zero
}
