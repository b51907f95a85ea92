package feeds

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
)

var templates = map[string]string{
	"action.grant_role": "I granted role **{role}** to {member_mention} [{member_name}]: *{reason}*.",
	"ban":               "{user} banned {member} [{member_name}]: *{reason}*.",
	"mute.add":          "{user} muted {member_mention} from {channel} for {duration}s.",
	"mute.remove":       "{user} unmuted {member_mention} from {channel}.",
	"readonly.set":      "{user} {verb} readonly mode in {channel}.",
	"unban":             "{user} lifted ban for {member} [{member_name}]",
}

// Logger writes a line for every known event into its channel.
type Logger struct {
	transport channels.Transport
	channel   channels.Channel
}

func NewLogger(tr channels.Transport, ch channels.Channel) *Logger {
	return &Logger{transport: tr, channel: ch}
}

func (l *Logger) Subscriptions() []bus.Subscription {
	return []bus.Subscription{{Event: bus.Wildcard, Handle: l.log}}
}

func (l *Logger) log(ctx context.Context, ev bus.Event) error {
	text, ok := Render(ev)
	if !ok {
		return nil
	}
	if _, err := l.transport.SendText(ctx, l.channel.ID, text); err != nil {
		return fmt.Errorf("log %s to channel %d: %w", ev.Name, l.channel.ID, err)
	}
	return nil
}

// Render formats ev for the log feed. It reports false for events without a
// template.
func Render(ev bus.Event) (string, bool) {
	tmpl, ok := templates[ev.Name]
	if !ok {
		return "", false
	}
	args := command.Args{"user": "someone", "reason": ""}
	for k, v := range ev.Fields {
		switch v := v.(type) {
		case channels.Member:
			args[k] = v.Display()
			args[k+"_mention"] = v.Mention()
			args[k+"_name"] = v.Name
		case *channels.Member:
			if v != nil {
				args[k] = v.Display()
				args[k+"_mention"] = v.Mention()
				args[k+"_name"] = v.Name
			}
		case channels.Channel:
			args[k] = v.Mention()
			args[k+"_name"] = v.Name
		case channels.Role:
			args[k] = v.Name
		default:
			args[k] = v
		}
	}
	if ev.Name == "readonly.set" {
		args["verb"] = "disabled"
		if ev.Bool("enable") {
			args["verb"] = "enabled"
		}
	}
	return command.Format(tmpl, args), true
}
