package moderation

import (
	"context"
	"errors"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

// Watcher removes messages that read-only channels and mutes forbid.
type Watcher struct {
	svc *Service
}

func NewWatcher(svc *Service) *Watcher {
	return &Watcher{svc: svc}
}

// OnMessage enforces read-only mode and mutes for one inbound message. When
// the bot may not delete in a read-only channel, read-only mode is switched
// off for that channel.
func (w *Watcher) OnMessage(ctx context.Context, msg *channels.Message) {
	if msg.TenantID == 0 || msg.Author.Bot {
		return
	}
	tr := w.svc.transport
	ch := channels.Channel{ID: msg.ChannelID, TenantID: msg.TenantID}

	readonly, err := w.svc.ReadOnly(ctx, ch)
	if err != nil {
		logger.ErrorCF("moderation", "Read-only lookup failed", map[string]any{"channel": ch.ID, "error": err})
		return
	}
	deleted := false
	if readonly {
		err := tr.DeleteMessage(ctx, msg.ChannelID, msg.ID)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, channels.ErrNotFound):
		case errors.Is(err, channels.ErrForbidden):
			if info, err := tr.Channel(ctx, ch.ID); err == nil {
				ch = info
			}
			origin := Origin{User: w.botMember(ctx, msg.TenantID), Reason: "forbidden"}
			if err := w.svc.SetReadOnly(ctx, ch, false, origin); err != nil {
				logger.ErrorCF("moderation", "Failed to disable read-only mode", map[string]any{"channel": ch.ID, "error": err})
			}
		default:
			logger.WarnCF("moderation", "Failed to delete message in read-only channel", map[string]any{
				"channel": ch.ID,
				"message": msg.ID,
				"error":   err,
			})
		}
	}

	muted, err := w.svc.MemberMuted(ctx, ch, msg.Author.ID)
	if err != nil {
		logger.ErrorCF("moderation", "Mute lookup failed", map[string]any{"channel": ch.ID, "error": err})
		return
	}
	if muted && !deleted {
		err := tr.DeleteMessage(ctx, msg.ChannelID, msg.ID)
		if err != nil && !errors.Is(err, channels.ErrNotFound) && !errors.Is(err, channels.ErrForbidden) {
			logger.WarnCF("moderation", "Failed to delete message of muted member", map[string]any{
				"channel": ch.ID,
				"member":  msg.Author.ID,
				"error":   err,
			})
		}
	}
}

func (w *Watcher) botMember(ctx context.Context, tenantID int64) channels.Member {
	tr := w.svc.transport
	m, err := tr.Member(ctx, tenantID, tr.BotID())
	if err != nil {
		return channels.Member{ID: tr.BotID(), TenantID: tenantID, Bot: true}
	}
	return m
}
