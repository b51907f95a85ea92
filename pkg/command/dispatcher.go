package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anmitsu/go-shlex"
	"github.com/google/uuid"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

const (
	DefaultPrefixes   = "!#"
	DefaultErrorDelay = 5 * time.Second
	internalErrorText = "Internal error"
)

// Outcome is where an inbound message ended up.
type Outcome int

const (
	Discarded Outcome = iota
	Denied
	Completed
	Rejected
	Failed
	Cancelled
)

var outcomeNames = map[Outcome]string{
	Discarded: "discarded",
	Denied:    "denied",
	Completed: "completed",
	Rejected:  "rejected",
	Failed:    "failed",
	Cancelled: "cancelled",
}

func (o Outcome) String() string { return outcomeNames[o] }

// Observer is told about every handled message, typically to record metrics.
type Observer interface {
	CommandHandled(group, name string, outcome Outcome, elapsed time.Duration)
}

// BusProvider hands out the per-tenant bus.
type BusProvider interface {
	Tenant(id int64) *bus.Bus
}

type DispatcherOption func(*Dispatcher)

func WithResolver(r Resolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithPrefixes sets the characters that introduce a command.
func WithPrefixes(p string) DispatcherOption {
	return func(d *Dispatcher) {
		if p != "" {
			d.prefixes = p
		}
	}
}

// WithErrorDelay sets how long error replies stay visible.
func WithErrorDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.errorDelay = delay }
}

func WithDefaultReply(style ReplyStyle) DispatcherOption {
	return func(d *Dispatcher) { d.defaultReply = style }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher turns inbound messages into command invocations.
type Dispatcher struct {
	registry     *Registry
	transport    channels.Transport
	buses        BusProvider
	resolver     Resolver
	prefixes     string
	errorDelay   time.Duration
	defaultReply ReplyStyle
	observer     Observer
}

func NewDispatcher(registry *Registry, tr channels.Transport, buses BusProvider, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:     registry,
		transport:    tr,
		buses:        buses,
		resolver:     AllowAll{},
		prefixes:     DefaultPrefixes,
		errorDelay:   DefaultErrorDelay,
		defaultReply: ReplyDeleteMention,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Parse splits a prefixed message into a lower-cased command name and its
// shell-quoted arguments. Only the first line is considered.
func (d *Dispatcher) Parse(content string) (string, []string, error) {
	r, size := utf8.DecodeRuneInString(content)
	if r == utf8.RuneError || !strings.ContainsRune(d.prefixes, r) {
		return "", nil, ErrDiscard
	}
	line, _, _ := strings.Cut(content[size:], "\n")

	tokens, err := shlex.Split(line, true)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDiscard, err)
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return "", nil, ErrDiscard
	}
	return strings.ToLower(tokens[0]), tokens[1:], nil
}

// Handle runs the command contained in msg, if any. Messages that are not
// commands for this bot are discarded without a reply.
func (d *Dispatcher) Handle(ctx context.Context, msg *channels.Message) Outcome {
	if msg.TenantID == 0 || msg.Author.Bot {
		return Discarded
	}
	name, args, err := d.Parse(msg.Content)
	if err != nil {
		return Discarded
	}
	group, cmd, ok := d.registry.Resolve(name)
	if !ok {
		return Discarded
	}

	start := time.Now()
	outcome := d.handle(ctx, msg, group, cmd, name, args)
	if d.observer != nil {
		d.observer.CommandHandled(group.Name(), name, outcome, time.Since(start))
	}
	return outcome
}

func (d *Dispatcher) handle(ctx context.Context, msg *channels.Message, group *Group, cmd Command, name string, args []string) Outcome {
	if err := d.resolver.Check(ctx, msg, group, name); err != nil {
		var denied *PermissionDenied
		if !errors.As(err, &denied) {
			logger.ErrorCF("dispatcher", "Permission check failed", map[string]any{
				"group":   group.Name(),
				"command": name,
				"error":   err,
			})
			return Discarded
		}
		if denied.Reason != "" {
			out := NewOutput(ReplyMention, d.transport, msg, d.errorDelay)
			if err := out.Error(ctx, denied.Reason); err != nil {
				logger.WarnCF("dispatcher", "Failed to send denial", map[string]any{"error": err})
			}
		}
		return Denied
	}

	settings, err := d.resolver.Settings(ctx, msg, group, name)
	if err != nil {
		logger.WarnCF("dispatcher", "Settings lookup failed, using defaults", map[string]any{
			"group": group.Name(),
			"error": err,
		})
		settings = Settings{}
	}
	style, ok := settings.ReplyStyle()
	if !ok {
		style = d.defaultReply
	}

	out := NewOutput(style, d.transport, msg, d.errorDelay)
	inv := &Invocation{
		ID:        uuid.NewString(),
		Group:     group,
		Command:   cmd,
		Transport: d.transport,
		Output:    out,
		Message:   msg,
		Settings:  settings,
		Bus:       d.buses.Tenant(msg.TenantID),
	}

	if err := out.Open(ctx); err != nil {
		logger.WarnCF("dispatcher", "Failed to prepare reply", map[string]any{
			"invocation": inv.ID,
			"error":      err,
		})
	}

	logger.InfoCF("dispatcher", "Running command", map[string]any{
		"invocation": inv.ID,
		"user":       msg.Author.Name,
		"user_id":    msg.Author.ID,
		"tenant":     msg.TenantID,
		"group":      group.Name(),
		"command":    name,
		"args":       quoteArgs(args),
	})
	inv.Bus.Publish("command.run", bus.Fields{
		"invocation": inv.ID,
		"group":      group.Name(),
		"name":       name,
		"args":       args,
		"user":       msg.Author,
		"message":    msg,
	})

	err = execute(ctx, cmd, inv, args)
	var userErr *UserError
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, ErrDiscard):
		return Discarded
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return Cancelled
	case errors.As(err, &userErr):
		if err := out.Error(ctx, userErr.Message); err != nil {
			logger.WarnCF("dispatcher", "Failed to send error reply", map[string]any{"error": err})
		}
		return Rejected
	default:
		logger.ErrorCF("dispatcher", "Command raised an unhandled error", map[string]any{
			"invocation": inv.ID,
			"command":    name,
			"args":       args,
			"error":      err,
		})
		if err := out.Error(ctx, internalErrorText); err != nil {
			logger.WarnCF("dispatcher", "Failed to send error reply", map[string]any{"error": err})
		}
		return Failed
	}
}

func execute(ctx context.Context, cmd Command, inv *Invocation, args []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command panic: %v", p)
		}
	}()
	return cmd.Execute(ctx, inv, args)
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'\\") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
			continue
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
