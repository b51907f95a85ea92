package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

// GroupName is the command group of the moderation commands.
const GroupName = "moderation"

const (
	DefaultMuteDuration = 600 * time.Second
	MinMuteDuration     = 15 * time.Second
	MaxMuteDuration     = 366 * 24 * time.Hour

	readOnlyReplyTTL = 5 * time.Second
)

// Commands builds the moderation command group.
func Commands(svc *Service) *command.Group {
	return command.MustGroup(GroupName,
		&banCommand{svc: svc},
		&clearCommand{svc: svc},
		&muteCommand{svc: svc},
		&unmuteCommand{svc: svc},
		&readOnlyCommand{svc: svc},
	)
}

func channelOf(ctx context.Context, inv *command.Invocation) channels.Channel {
	msg := inv.Message
	if ch, err := inv.Transport.Channel(ctx, msg.ChannelID); err == nil {
		return ch
	}
	return channels.Channel{ID: msg.ChannelID, TenantID: msg.TenantID}
}

// vetoed returns the members the author may not act on: those whose top role
// is at or above the author's.
func vetoed(author channels.Member, members []channels.Member) []channels.Member {
	var out []channels.Member
	for _, m := range members {
		if m.TopRole >= author.TopRole {
			out = append(out, m)
		}
	}
	return out
}

func joinMembers(members []channels.Member, label func(channels.Member) string) string {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = label(m)
	}
	return strings.Join(parts, ", ")
}

func displayName(m channels.Member) string { return m.Display() }
func mention(m channels.Member) string     { return m.Mention() }

func botCanManageMessages(ctx context.Context, inv *command.Invocation) (bool, error) {
	perms, err := inv.Transport.ChannelPermissions(ctx, inv.Message.ChannelID, inv.Transport.BotID())
	if err != nil {
		return false, fmt.Errorf("bot permissions: %w", err)
	}
	return perms.Has(channels.PermManageMessages), nil
}

type banCommand struct{ svc *Service }

func (c *banCommand) Name() string { return "ban" }

func (c *banCommand) Errors() map[string]string {
	return map[string]string{
		"usage":           "{name} member reason",
		"mention_number":  "you must mention exactly one member.",
		"bot_permission":  "I am not allowed to ban {user}.",
		"user_permission": "you are not allowed to ban {user}.",
	}
}

func (c *banCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	if len(args) < 2 {
		return inv.Error("usage", command.Args{"name": c.Name()})
	}
	msg := inv.Message
	if len(msg.Mentions) != 1 {
		return inv.Error("mention_number", nil)
	}
	member := msg.Mentions[0]
	if member.TopRole >= msg.Author.TopRole {
		return inv.Error("user_permission", command.Args{"user": member.Display()})
	}
	reason := strings.Join(args[1:], " ")

	err := inv.Transport.Ban(ctx, msg.TenantID, member.ID, reason)
	if errors.Is(err, channels.ErrForbidden) {
		return inv.Error("bot_permission", command.Args{"user": member.Display()})
	}
	if err != nil {
		return fmt.Errorf("ban member %d: %w", member.ID, err)
	}

	logger.InfoCF("moderation", "Member banned", map[string]any{
		"tenant": msg.TenantID,
		"member": member.ID,
		"name":   member.Display(),
		"reason": reason,
	})
	inv.Bus.Publish("ban", bus.Fields{
		"user":   msg.Author,
		"member": member,
		"reason": reason,
	})
	return inv.Send(ctx, command.Format("{user} was banned: *{reason}*", command.Args{
		"user":   member.Display(),
		"reason": reason,
	}))
}

type muteCommand struct{ svc *Service }

func (c *muteCommand) Name() string { return "mute" }

func (c *muteCommand) Errors() map[string]string {
	return map[string]string{
		"usage":            `{name} *minutes* <\@name> [<\@name> …]`,
		"invalid_time":     "this duration is too short.",
		"out_of_range":     "this duration is out of range.",
		"bot_permissions":  "I cannot manage messages in this channel.",
		"user_permissions": "you do not have permissions to mute those members: {names}.",
	}
}

// muteDuration reads the duration, in minutes, from the first numeric argument
// that is not a mention. ok is false when that argument is not finite or
// exceeds MaxMuteDuration.
func muteDuration(args []string) (d time.Duration, explicit, ok bool) {
	for _, arg := range args {
		if strings.HasPrefix(arg, "<@") || strings.HasPrefix(arg, "@") {
			continue
		}
		minutes, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			continue
		}
		if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes*float64(time.Minute) > float64(MaxMuteDuration) {
			return 0, true, false
		}
		return time.Duration(minutes * float64(time.Minute)), true, true
	}
	return DefaultMuteDuration, false, true
}

func (c *muteCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	ok, err := botCanManageMessages(ctx, inv)
	if err != nil {
		return err
	}
	if !ok {
		return inv.Error("bot_permissions", nil)
	}
	ch := channelOf(ctx, inv)

	if len(args) == 0 {
		mutes, err := c.svc.ChannelMutes(ctx, ch)
		if err != nil {
			return err
		}
		if len(mutes) == 0 {
			return inv.Send(ctx, "no mute is active on this channel.")
		}
		parts := make([]string, len(mutes))
		for i, m := range mutes {
			parts[i] = fmt.Sprintf("%s [%.0fs]", m.Member.Display(), m.Remaining.Seconds())
		}
		return inv.Send(ctx, "those members are *muted*: "+strings.Join(parts, ", ")+".")
	}

	duration, explicit, ok := muteDuration(args)
	if !ok {
		return inv.Error("out_of_range", nil)
	}
	if explicit && duration < MinMuteDuration {
		return inv.Error("invalid_time", command.Args{"time": duration.Seconds()})
	}
	members := inv.Message.Mentions
	if len(members) == 0 {
		return inv.Error("usage", command.Args{"name": c.Name()})
	}
	if v := vetoed(inv.Message.Author, members); len(v) > 0 {
		return inv.Error("user_permissions", command.Args{"names": joinMembers(v, displayName)})
	}

	if err := c.svc.AddChannelMutes(ctx, ch, members, duration, Origin{User: inv.Message.Author}); err != nil {
		return err
	}
	return inv.Send(ctx, fmt.Sprintf("those members will be muted for %.0f seconds: %s.",
		duration.Seconds(), joinMembers(members, displayName)))
}

type unmuteCommand struct{ svc *Service }

func (c *unmuteCommand) Name() string { return "unmute" }

func (c *unmuteCommand) Errors() map[string]string {
	return map[string]string{
		"usage":            `{name} <\@name> [<\@name> …]`,
		"user_permissions": "you do not have permissions to unmute those members: {names}.",
	}
}

func (c *unmuteCommand) Execute(ctx context.Context, inv *command.Invocation, _ []string) error {
	members := inv.Message.Mentions
	if len(members) == 0 {
		return inv.Error("usage", command.Args{"name": c.Name()})
	}
	if v := vetoed(inv.Message.Author, members); len(v) > 0 {
		return inv.Error("user_permissions", command.Args{"names": joinMembers(v, displayName)})
	}

	if err := c.svc.RemoveChannelMutes(ctx, channelOf(ctx, inv), members, Origin{User: inv.Message.Author}); err != nil {
		return err
	}
	return inv.Send(ctx, "those members are no longer muted: "+joinMembers(members, mention)+".")
}

type readOnlyCommand struct{ svc *Service }

func (c *readOnlyCommand) Name() string { return "readonly" }

func (c *readOnlyCommand) Errors() map[string]string {
	return map[string]string{
		"usage":           "{name} [on|off]",
		"bot_permissions": "I cannot manage messages in this channel.",
	}
}

func (c *readOnlyCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	ch := channelOf(ctx, inv)
	enabled, err := c.svc.ReadOnly(ctx, ch)
	if err != nil {
		return err
	}

	var enable bool
	switch {
	case len(args) == 0:
		enable = !enabled
	case len(args) == 1 && (args[0] == "on" || args[0] == "yes"):
		enable = true
	case len(args) == 1 && (args[0] == "off" || args[0] == "no"):
		enable = false
	default:
		return inv.Error("usage", command.Args{"name": c.Name()})
	}

	err = c.svc.SetReadOnly(ctx, ch, enable, Origin{User: inv.Message.Author})
	if errors.Is(err, ErrBotPermissionDenied) {
		return inv.Error("bot_permissions", nil)
	}
	if err != nil {
		return err
	}
	text := "read-only mode disabled"
	if enable {
		text = "read-only mode enabled"
	}
	return inv.Send(ctx, text, command.DeleteAfter(readOnlyReplyTTL))
}
