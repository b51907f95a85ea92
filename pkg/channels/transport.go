package channels

import (
	"context"
	"errors"
)

var (
	// ErrForbidden is returned when the bot lacks the capability for an operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the target object no longer exists.
	ErrNotFound = errors.New("not found")
)

// Transport is the outbound side of the chat platform.
type Transport interface {
	Name() string
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error

	// BotID is the member id of the bot itself. Zero before Start completes.
	BotID() int64

	SendText(ctx context.Context, channelID int64, text string) (int64, error)
	SendDirect(ctx context.Context, userID int64, text string) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	DeleteMessages(ctx context.Context, channelID int64, messageIDs []int64) error
	// History returns up to limit messages sent before beforeID, newest first.
	History(ctx context.Context, channelID, beforeID int64, limit int) ([]Message, error)

	ChannelPermissions(ctx context.Context, channelID, memberID int64) (Permissions, error)
	AddRole(ctx context.Context, tenantID, memberID, roleID int64, reason string) error
	Ban(ctx context.Context, tenantID, memberID int64, reason string) error

	Roles(ctx context.Context, tenantID int64) ([]Role, error)
	Channels(ctx context.Context, tenantID int64) ([]Channel, error)
	Channel(ctx context.Context, channelID int64) (Channel, error)
	Members(ctx context.Context, tenantID int64) ([]Member, error)
	Member(ctx context.Context, tenantID, memberID int64) (Member, error)
}

// Handler receives inbound notifications from a Transport.
type Handler interface {
	OnReady(ctx context.Context, tenants []int64)
	OnTenantJoin(ctx context.Context, tenantID int64)
	OnTenantRemove(ctx context.Context, tenantID int64)
	OnMessage(ctx context.Context, msg *Message)
	OnMemberBan(ctx context.Context, ev BanEvent)
	OnMemberUnban(ctx context.Context, ev BanEvent)
}
