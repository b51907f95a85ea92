package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
)

const (
	clearScanLimit = 100
	clearForceAt   = 100
	// bulk deletion only accepts messages younger than this
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

type clearCommand struct{ svc *Service }

func (c *clearCommand) Name() string { return "clear" }

func (c *clearCommand) Errors() map[string]string {
	return map[string]string{
		"usage": "{name} <number>|<text>|me\n" +
			"→ *<number>*: clear that many messages.\n" +
			"→ *<text>*: clear all messages since that text last appeared.\n" +
			"→ me: clear all messages since last time you wrote.",
		"permission_denied": "I cannot manage messages in this channel.",
		"not_found":         "I did not find that message in the last {limit} ones.",
		"need_force":        "This is a lot of messages. Please confirm with `!{name} {number} force`.",
	}
}

func (c *clearCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	err := c.execute(ctx, inv, args)
	if errors.Is(err, channels.ErrForbidden) {
		return inv.Error("permission_denied", nil)
	}
	return err
}

func (c *clearCommand) execute(ctx context.Context, inv *command.Invocation, args []string) error {
	switch {
	case len(args) == 0:
		return inv.Error("usage", command.Args{"name": c.Name()})
	case len(args) == 1 || (len(args) == 2 && strings.ToLower(args[1]) == "force"):
		switch args[0] {
		case "help":
			return inv.Error("usage", command.Args{"name": c.Name()})
		case "me":
			author := inv.Message.Author.ID
			return c.clearWhile(ctx, inv, func(m channels.Message) bool { return m.Author.ID != author }, false)
		}
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return c.searchClear(ctx, inv, args[0])
		}
		if number >= clearForceAt && len(args) != 2 {
			return inv.Error("need_force", command.Args{"name": c.Name(), "number": number})
		}
		return c.countClear(ctx, inv, number)
	default:
		return c.searchClear(ctx, inv, strings.Join(args, " "))
	}
}

func (c *clearCommand) searchClear(ctx context.Context, inv *command.Invocation, text string) error {
	text = strings.ToLower(text)
	return c.clearWhile(ctx, inv, func(m channels.Message) bool {
		return !strings.Contains(strings.ToLower(m.Content), text)
	}, true)
}

// clearWhile deletes recent messages before the invocation while keep holds.
// With inclusive the first message failing keep is deleted too. Nothing is
// deleted when every scanned message satisfies keep.
func (c *clearCommand) clearWhile(ctx context.Context, inv *command.Invocation, keep func(channels.Message) bool, inclusive bool) error {
	msg := inv.Message
	history, err := inv.Transport.History(ctx, msg.ChannelID, msg.ID, clearScanLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	now := c.svc.Now()
	var ids []int64
	stopped := false
	for _, m := range history {
		if now.Sub(m.CreatedAt) >= bulkDeleteMaxAge {
			stopped = true
			break
		}
		if !keep(m) {
			if inclusive {
				ids = append(ids, m.ID)
			}
			stopped = true
			break
		}
		ids = append(ids, m.ID)
	}
	if !stopped {
		return inv.Error("not_found", command.Args{"limit": clearScanLimit})
	}
	return deleteBulk(ctx, inv.Transport, msg.ChannelID, ids)
}

// countClear deletes the number messages preceding the invocation. Messages
// too old for bulk deletion are removed one at a time.
func (c *clearCommand) countClear(ctx context.Context, inv *command.Invocation, number int) error {
	msg := inv.Message
	now := c.svc.Now()
	before := msg.ID
	for number > 0 {
		page, err := inv.Transport.History(ctx, msg.ChannelID, before, min(number, clearScanLimit))
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		var recent []int64
		for _, m := range page {
			if now.Sub(m.CreatedAt) < bulkDeleteMaxAge {
				recent = append(recent, m.ID)
				continue
			}
			if err := inv.Transport.DeleteMessage(ctx, msg.ChannelID, m.ID); err != nil && !errors.Is(err, channels.ErrNotFound) {
				return err
			}
		}
		if err := deleteBulk(ctx, inv.Transport, msg.ChannelID, recent); err != nil {
			return err
		}
		number -= len(page)
		before = page[len(page)-1].ID
	}
	return nil
}

func deleteBulk(ctx context.Context, tr channels.Transport, channelID int64, ids []int64) error {
	for start := 0; start < len(ids); start += clearScanLimit {
		end := min(start+clearScanLimit, len(ids))
		if err := tr.DeleteMessages(ctx, channelID, ids[start:end]); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
	}
	return nil
}
