package channels

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestSnowflakeRoundTrip(t *testing.T) {
	if got := parseSnowflake("175928847299117063"); got != 175928847299117063 {
		t.Errorf("unexpected id %d", got)
	}
	if got := formatSnowflake(175928847299117063); got != "175928847299117063" {
		t.Errorf("unexpected string %q", got)
	}
	if got := parseSnowflake(""); got != 0 {
		t.Errorf("expected 0 for empty id, got %d", got)
	}
}

func TestMapDiscordError(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if err := mapDiscordError(forbidden); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	missing := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if err := mapDiscordError(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	other := errors.New("boom")
	if err := mapDiscordError(other); err != other {
		t.Errorf("expected passthrough, got %v", err)
	}
	if err := mapDiscordError(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestConvertPermissions(t *testing.T) {
	p := convertPermissions(discordgo.PermissionManageMessages | discordgo.PermissionSendMessages)
	if !p.Has(PermManageMessages) || p.Has(PermBanMembers) {
		t.Errorf("unexpected permissions %b", p)
	}
	if !convertPermissions(discordgo.PermissionAdministrator).Has(PermBanMembers) {
		t.Error("expected administrator to imply every permission")
	}
}

func TestTenantPermissionsFoldsRoles(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "1", Permissions: discordgo.PermissionSendMessages},
		{ID: "2", Permissions: discordgo.PermissionBanMembers},
		{ID: "3", Permissions: discordgo.PermissionManageRoles},
	}
	m := &discordgo.Member{User: &discordgo.User{ID: "9"}, Roles: []string{"2"}}

	p := tenantPermissions(m, "1", "42", roles)
	if !p.Has(PermBanMembers) || p.Has(PermManageRoles) {
		t.Errorf("unexpected permissions %b", p)
	}

	owner := &discordgo.Member{User: &discordgo.User{ID: "42"}}
	if !tenantPermissions(owner, "1", "42", roles).Has(PermAdministrator) {
		t.Error("expected owner to be administrator")
	}
}

func TestConvertMemberTopRole(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "10", Position: 3},
		{ID: "11", Position: 7},
	}
	m := &discordgo.Member{
		User:  &discordgo.User{ID: "5", Username: "alice", GlobalName: "Alice"},
		Nick:  "Ally",
		Roles: []string{"10", "11"},
	}

	got := convertMember(m, 99, roles)
	if got.ID != 5 || got.TenantID != 99 {
		t.Errorf("unexpected ids: %+v", got)
	}
	if got.Display() != "Ally" {
		t.Errorf("expected nickname to win, got %q", got.Display())
	}
	if got.TopRole != 7 {
		t.Errorf("expected top role 7, got %d", got.TopRole)
	}
	if !got.HasRole(10) || !got.HasRole(11) {
		t.Errorf("expected both roles, got %v", got.Roles)
	}
}
