package channels

import (
	"strconv"
	"time"
)

// Permissions is the capability set of a member, either tenant-wide or
// resolved for one channel.
type Permissions int64

const (
	PermAdministrator Permissions = 1 << iota
	PermManageMessages
	PermBanMembers
	PermManageRoles

	PermAll = PermAdministrator | PermManageMessages | PermBanMembers | PermManageRoles
)

// Has reports whether every bit of want is set. Administrators have everything.
func (p Permissions) Has(want Permissions) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&want == want
}

type Role struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type Channel struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
}

func (c Channel) Mention() string {
	return "<#" + strconv.FormatInt(c.ID, 10) + ">"
}

type Member struct {
	ID          int64   `json:"id"`
	TenantID    int64   `json:"tenant_id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Bot         bool    `json:"bot"`
	Roles       []int64 `json:"roles,omitempty"`
	TopRole     int     `json:"top_role"` // position of the highest role, 0 for none
}

func (m Member) Mention() string {
	return "<@" + strconv.FormatInt(m.ID, 10) + ">"
}

// Display returns the display name, falling back to the account name.
func (m Member) Display() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

func (m Member) HasRole(roleID int64) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// Message is an inbound text message. TenantID is zero for direct messages.
type Message struct {
	ID                int64       `json:"id"`
	TenantID          int64       `json:"tenant_id"`
	ChannelID         int64       `json:"channel_id"`
	Content           string      `json:"content"`
	Author            Member      `json:"author"`
	AuthorPermissions Permissions `json:"author_permissions"` // tenant-wide
	Mentions          []Member    `json:"mentions,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// BanEvent reports a member being banned or unbanned. Actor is nil when the
// transport could not attribute the action.
type BanEvent struct {
	TenantID int64
	Member   Member
	Actor    *Member
	Reason   string
}
