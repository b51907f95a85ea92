package bus

import (
	"context"
	"fmt"
	"strconv"
)

// Wildcard subscriptions receive every event published on a bus.
const Wildcard = "*"

// Fields are the named values carried by an event. Subscribers must tolerate
// keys they do not know.
type Fields map[string]any

type Event struct {
	Name   string
	Fields Fields
}

// String returns the field as text, or "" when absent.
func (e Event) String(key string) string {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the field as an integer, or 0 when absent or not numeric.
func (e Event) Int64(key string) int64 {
	switch v := e.Fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Bool returns the field as a boolean, or false when absent.
func (e Event) Bool(key string) bool {
	b, _ := e.Fields[key].(bool)
	return b
}

type HandlerFunc func(ctx context.Context, ev Event) error

// Subscription binds a handler to an event name. When Filter is set, every
// filter key must be present in the published fields with an equal value.
// Filters are ignored for wildcard subscriptions.
type Subscription struct {
	Event  string
	Filter Fields
	Handle HandlerFunc
}

// Subscriber describes its own subscriptions. Subscribers are compared by
// identity, so implementations should be pointer types.
type Subscriber interface {
	Subscriptions() []Subscription
}

// SubscriberFunc adapts a single handler into a Subscriber. Use a pointer to
// it so it can later be unsubscribed.
type SubscriberFunc struct {
	Event  string
	Filter Fields
	Handle HandlerFunc
}

func (s *SubscriberFunc) Subscriptions() []Subscription {
	return []Subscription{{Event: s.Event, Filter: s.Filter, Handle: s.Handle}}
}

// Observer is notified about bus activity, typically to record metrics.
type Observer interface {
	EventPublished(event string, handlers int)
	HandlerFailed(event string)
}
