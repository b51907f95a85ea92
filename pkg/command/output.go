package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

// ReplyStyle selects how a command's output reaches the invoking user.
type ReplyStyle string

const (
	ReplyDirect        ReplyStyle = "direct"
	ReplyMention       ReplyStyle = "mention"
	ReplyDeleteMention ReplyStyle = "delete_mention"
)

// ParseReplyStyle accepts the short names and the historical class names.
func ParseReplyStyle(s string) (ReplyStyle, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "directreply":
		return ReplyDirect, true
	case "mention", "mentionreply":
		return ReplyMention, true
	case "delete_mention", "deleteandmentionreply":
		return ReplyDeleteMention, true
	default:
		return "", false
	}
}

type sendOptions struct {
	deleteAfter time.Duration
}

type SendOption func(*sendOptions)

// DeleteAfter removes the sent message once d has elapsed.
func DeleteAfter(d time.Duration) SendOption {
	return func(o *sendOptions) { o.deleteAfter = d }
}

// Output is the sink commands write to. Errors are removed after a delay.
type Output interface {
	// Open runs before the command executes.
	Open(ctx context.Context) error
	Send(ctx context.Context, text string, opts ...SendOption) error
	Error(ctx context.Context, text string) error
}

// NewOutput builds the output strategy for msg.
func NewOutput(style ReplyStyle, tr channels.Transport, msg *channels.Message, errorDelay time.Duration) Output {
	base := replyOutput{transport: tr, message: msg, errorDelay: errorDelay}
	switch style {
	case ReplyDirect:
		return &base
	case ReplyMention:
		base.mention = true
		return &base
	default:
		base.mention = true
		return &deleteMentionOutput{replyOutput: base}
	}
}

type replyOutput struct {
	transport  channels.Transport
	message    *channels.Message
	errorDelay time.Duration
	mention    bool
}

func (o *replyOutput) Open(context.Context) error { return nil }

func (o *replyOutput) Send(ctx context.Context, text string, opts ...SendOption) error {
	var so sendOptions
	for _, opt := range opts {
		opt(&so)
	}
	return o.send(ctx, text, so.deleteAfter)
}

func (o *replyOutput) Error(ctx context.Context, text string) error {
	return o.send(ctx, text, o.errorDelay)
}

func (o *replyOutput) send(ctx context.Context, text string, deleteAfter time.Duration) error {
	if o.mention {
		text = o.message.Author.Mention() + " " + text
	}
	id, err := o.transport.SendText(ctx, o.message.ChannelID, text)
	if err != nil {
		return err
	}
	if deleteAfter > 0 {
		go deleteLater(ctx, o.transport, o.message.ChannelID, id, deleteAfter)
	}
	return nil
}

// deleteMentionOutput removes the invoking message before replying with a mention.
type deleteMentionOutput struct {
	replyOutput
}

func (o *deleteMentionOutput) Open(ctx context.Context) error {
	err := o.transport.DeleteMessage(ctx, o.message.ChannelID, o.message.ID)
	if errors.Is(err, channels.ErrNotFound) {
		return nil
	}
	return err
}

func deleteLater(ctx context.Context, tr channels.Transport, channelID, messageID int64, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	if err := tr.DeleteMessage(ctx, channelID, messageID); err != nil && !errors.Is(err, channels.ErrNotFound) {
		logger.WarnCF("dispatcher", "Failed to delete reply", map[string]any{
			"channel": channelID,
			"message": messageID,
			"error":   err,
		})
	}
}
