package bus

import (
	"context"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/creachadair/taskgroup"

	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

type record struct {
	owner Subscriber
	sub   Subscription
}

// Bus fans events out to the handlers subscribed to them. Handlers of one
// publish run concurrently; a failing or panicking handler is logged and never
// affects its siblings or the publisher.
type Bus struct {
	key      string
	base     context.Context
	inflight *inflight
	observer Observer

	mu   sync.RWMutex
	subs map[string][]record
}

func newBus(key string, base context.Context, inflight *inflight, observer Observer) *Bus {
	return &Bus{
		key:      key,
		base:     base,
		inflight: inflight,
		observer: observer,
		subs:     make(map[string][]record),
	}
}

// New returns a standalone bus whose asynchronous publishes run on ctx.
func New(ctx context.Context) *Bus {
	return newBus("standalone", ctx, &inflight{}, nil)
}

// Subscribe registers every subscription declared by s. Subscribers that cannot
// be compared for identity are refused, as they could never be unsubscribed.
func (b *Bus) Subscribe(s Subscriber) {
	if s == nil || !reflect.TypeOf(s).Comparable() {
		logger.ErrorCF("bus", "Refusing subscriber that is not comparable", map[string]any{
			"bus":  b.key,
			"type": fmt.Sprintf("%T", s),
		})
		return
	}
	subs := s.Subscriptions()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range subs {
		if sub.Handle == nil {
			continue
		}
		b.subs[sub.Event] = append(b.subs[sub.Event], record{owner: s, sub: sub})
	}
}

// Unsubscribe removes every subscription owned by s, across all events.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, recs := range b.subs {
		recs = slices.DeleteFunc(recs, func(r record) bool { return sameSubscriber(r.owner, s) })
		if len(recs) == 0 {
			delete(b.subs, event)
			continue
		}
		b.subs[event] = recs
	}
}

// Count returns the number of subscriptions registered for event.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

func (b *Bus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.subs)
}

// match snapshots the handlers for one publish: filtered subscribers of the
// event in subscription order, then wildcard subscribers.
func (b *Bus) match(name string, fields Fields) []record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []record
	for _, r := range b.subs[name] {
		if filterMatches(r.sub.Filter, fields) {
			out = append(out, r)
		}
	}
	if name != Wildcard {
		out = append(out, b.subs[Wildcard]...)
	}
	return out
}

func sameSubscriber(a, b Subscriber) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

func filterMatches(filter, fields Fields) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok || !fieldEqual(got, want) {
			return false
		}
	}
	return true
}

// fieldEqual compares integers by value regardless of their Go type, so a
// filter written with an untyped constant matches an int64 id.
func fieldEqual(a, b any) bool {
	x, aok := integer(a)
	y, bok := integer(b)
	if aok && bok {
		return x == y
	}
	return reflect.DeepEqual(a, b)
}

func integer(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}

// PublishSync delivers the event to every matching handler and returns once
// all of them have settled. With no matching handlers it returns immediately.
func (b *Bus) PublishSync(ctx context.Context, name string, fields Fields) {
	recs := b.match(name, fields)
	if b.observer != nil {
		b.observer.EventPublished(name, len(recs))
	}
	if len(recs) == 0 {
		return
	}

	logger.DebugCF("bus", "Publishing event", map[string]any{
		"bus":      b.key,
		"event":    name,
		"handlers": len(recs),
	})

	var g taskgroup.Group
	for _, r := range recs {
		ev := Event{Name: name, Fields: maps.Clone(fields)}
		if ev.Fields == nil {
			ev.Fields = Fields{}
		}
		g.Go(func() error {
			b.invoke(ctx, r, ev)
			return nil
		})
	}
	g.Wait()
}

func (b *Bus) invoke(ctx context.Context, r record, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			b.failed(ev, fmt.Errorf("handler panic: %v", p))
		}
	}()
	if err := r.sub.Handle(ctx, ev); err != nil {
		b.failed(ev, err)
	}
}

func (b *Bus) failed(ev Event, err error) {
	if b.observer != nil {
		b.observer.HandlerFailed(ev.Name)
	}
	logger.ErrorCF("bus", "Event handler failed", map[string]any{
		"bus":   b.key,
		"event": ev.Name,
		"error": err,
	})
}

// Pending tracks an asynchronous publish.
type Pending struct {
	done chan struct{}
}

// Done is closed once every handler of the publish has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the publish settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish schedules PublishSync in the background on the bus's base context
// and returns without waiting. The returned handle may be ignored.
func (b *Bus) Publish(name string, fields Fields) *Pending {
	p := &Pending{done: make(chan struct{})}
	fields = maps.Clone(fields)

	b.inflight.add()
	go func() {
		defer b.inflight.done()
		defer close(p.done)
		b.PublishSync(b.base, name, fields)
	}()
	return p
}
