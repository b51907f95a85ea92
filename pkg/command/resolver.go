package command

import (
	"context"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
)

// Settings are per-group overrides attached to the permission that allowed an
// invocation.
type Settings map[string]any

// ReplyStyle returns the configured reply_class, if any.
func (s Settings) ReplyStyle() (ReplyStyle, bool) {
	v, ok := s["reply_class"].(string)
	if !ok {
		return "", false
	}
	return ParseReplyStyle(v)
}

// Resolver decides who may run which group. Check returns nil to allow, a
// *PermissionDenied to refuse, or any other error when the decision itself
// failed.
type Resolver interface {
	Check(ctx context.Context, msg *channels.Message, group *Group, name string) error
	Settings(ctx context.Context, msg *channels.Message, group *Group, name string) (Settings, error)
}

// AllowAll lets every invocation through with empty settings.
type AllowAll struct{}

func (AllowAll) Check(context.Context, *channels.Message, *Group, string) error { return nil }

func (AllowAll) Settings(context.Context, *channels.Message, *Group, string) (Settings, error) {
	return Settings{}, nil
}
