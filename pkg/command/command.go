// Package command parses prefixed chat messages into commands, checks them
// against a permission resolver and runs them with failure containment.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/utils"
)

// Command is one named chat command. Errors maps error keys to message
// templates with {placeholder} fields, used by Invocation.Error.
type Command interface {
	Name() string
	Errors() map[string]string
	Execute(ctx context.Context, inv *Invocation, args []string) error
}

// Invocation is the per-message context handed to a command.
type Invocation struct {
	ID        string
	Group     *Group
	Command   Command
	Transport channels.Transport
	Output    Output
	Message   *channels.Message
	Settings  Settings
	Bus       *bus.Bus
}

// Send writes text through the invocation's output strategy.
func (inv *Invocation) Send(ctx context.Context, text string, opts ...SendOption) error {
	return inv.Output.Send(ctx, text, opts...)
}

// Error builds the user-facing error for key. Commands return it; the
// dispatcher reports it through the output's error path.
func (inv *Invocation) Error(key string, args Args) error {
	tmpl, ok := inv.Command.Errors()[key]
	if !ok {
		tmpl = key
	}
	return &UserError{Key: key, Message: Format(tmpl, args)}
}

// ErrDiscard makes the dispatcher drop a message without any reply.
var ErrDiscard = errors.New("command: discarded")

// UserError is a validation or capability error shown to the invoking user.
type UserError struct {
	Key     string
	Message string
}

func (e *UserError) Error() string { return e.Message }

// PermissionDenied rejects an invocation. With an empty Reason the rejection
// is silent.
type PermissionDenied struct {
	Reason string
}

func (e *PermissionDenied) Error() string {
	if e.Reason == "" {
		return "permission denied"
	}
	return "permission denied: " + e.Reason
}

// Group is a named set of commands attached to the dispatcher.
type Group struct {
	name     string
	commands map[string]Command
}

func NewGroup(name string) *Group {
	return &Group{name: name, commands: make(map[string]Command)}
}

// MustGroup builds a group from commands and panics on invalid registration.
// It is meant for static command tables built at startup.
func MustGroup(name string, cmds ...Command) *Group {
	g := NewGroup(name)
	for _, c := range cmds {
		if err := g.Register(c); err != nil {
			panic(err)
		}
	}
	return g
}

func (g *Group) Name() string { return g.name }

func (g *Group) Register(c Command) error {
	name := c.Name()
	if err := utils.ValidateIdentifier(name); err != nil {
		return fmt.Errorf("group %s: command %q: %w", g.name, name, err)
	}
	if _, exists := g.commands[name]; exists {
		return fmt.Errorf("group %s: command %q registered twice", g.name, name)
	}
	g.commands[name] = c
	return nil
}

func (g *Group) Lookup(name string) (Command, bool) {
	c, ok := g.commands[name]
	return c, ok
}

// Commands returns the command names in alphabetical order.
func (g *Group) Commands() []string {
	names := make([]string, 0, len(g.commands))
	for name := range g.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry is the table of groups the dispatcher resolves against. A command
// name belongs to at most one group.
type Registry struct {
	mu        sync.RWMutex
	groups    []*Group
	byCommand map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{byCommand: make(map[string]*Group)}
}

func (r *Registry) Add(g *Group) error {
	if err := utils.ValidateIdentifier(g.Name()); err != nil {
		return fmt.Errorf("group %q: %w", g.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.groups {
		if existing.Name() == g.Name() {
			return fmt.Errorf("group %q registered twice", g.Name())
		}
	}
	for name := range g.commands {
		if owner, ok := r.byCommand[name]; ok {
			return fmt.Errorf("command %q of group %q already provided by group %q", name, g.Name(), owner.Name())
		}
	}
	for name := range g.commands {
		r.byCommand[name] = g
	}
	r.groups = append(r.groups, g)
	return nil
}

// Resolve finds the group owning the command name.
func (r *Registry) Resolve(name string) (*Group, Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byCommand[name]
	if !ok {
		return nil, nil, false
	}
	c, _ := g.Lookup(name)
	return g, c, true
}

// Group finds a group by case-insensitive name.
func (r *Registry) Group(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if strings.EqualFold(g.Name(), name) {
			return g, true
		}
	}
	return nil, false
}

// Groups returns every group sorted by name.
func (r *Registry) Groups() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.groups)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
