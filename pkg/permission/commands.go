package permission

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
)

// GroupName is the name of the permission administration group.
const GroupName = "command"

// Commands builds the group managing grants. reg is the registry the group is
// added to, so cmdlist and cmdadd can see every group including this one.
func Commands(reg *command.Registry, r *Resolver) *command.Group {
	return command.MustGroup(GroupName,
		&listCommand{registry: reg, resolver: r},
		&addCommand{registry: reg, resolver: r},
		&removeCommand{registry: reg, resolver: r},
	)
}

const (
	errUsage     = "usage"
	errNoGroup   = "no_group"
	errNoRole    = "no_role"
	errNoChannel = "no_channel"
)

type listCommand struct {
	registry *command.Registry
	resolver *Resolver
}

func (c *listCommand) Name() string { return "cmdlist" }

func (c *listCommand) Errors() map[string]string {
	return map[string]string{
		errNoGroup: "Unknown command group: “{name}”",
	}
}

func (c *listCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	groups := c.registry.Groups()
	if len(args) == 1 {
		name := strings.ToLower(args[0])
		g, ok := c.registry.Group(name)
		if !ok {
			return inv.Error(errNoGroup, command.Args{"name": name})
		}
		groups = []*command.Group{g}
	}

	tenantID := inv.Message.TenantID
	entries, err := c.resolver.Entries(ctx, tenantID)
	if err != nil {
		return err
	}
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, compareEntries)

	roles, err := inv.Transport.Roles(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	roleNames := make(map[int64]string, len(roles))
	for _, role := range roles {
		roleNames[role.ID] = role.Name
	}
	chans, err := inv.Transport.Channels(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	channelNames := make(map[int64]string, len(chans))
	for _, ch := range chans {
		channelNames[ch.ID] = ch.Name
	}

	var lines []string
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s - [%s]", g.Name(), strings.Join(g.Commands(), ", ")))
		for _, e := range entries {
			if e.Group != g.Name() {
				continue
			}
			lines = append(lines, fmt.Sprintf("    · %s: %s",
				roleLabel(e.RoleID, roleNames), channelLabel(e.Channels, channelNames)))
		}
	}
	return inv.Send(ctx, "```\n"+strings.Join(lines, "\n")+"\n```")
}

func compareEntries(a, b Entry) int {
	if a.RoleID != b.RoleID {
		if a.RoleID < b.RoleID {
			return -1
		}
		return 1
	}
	return slices.Compare(a.Channels, b.Channels)
}

func roleLabel(id int64, names map[int64]string) string {
	if id == 0 {
		return "<admin>"
	}
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("<deleted role %d>", id)
}

func channelLabel(ids []int64, names map[int64]string) string {
	if len(ids) == 0 {
		return "<all channels>"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		if name, ok := names[id]; ok {
			parts[i] = "#" + name
		} else {
			parts[i] = fmt.Sprintf("<deleted channel %d>", id)
		}
	}
	return strings.Join(parts, ", ")
}

type addCommand struct {
	registry *command.Registry
	resolver *Resolver
}

func (c *addCommand) Name() string { return "cmdadd" }

func (c *addCommand) Errors() map[string]string {
	return map[string]string{
		errUsage:     `{name} "role" <group> [#channel1 #channel2 ...]`,
		errNoGroup:   "Unknown command group: “{name}”",
		errNoRole:    "Unknown role: “{name}”",
		errNoChannel: "Unknown channel: “{name}”",
	}
}

func (c *addCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	if len(args) < 2 {
		return inv.Error(errUsage, command.Args{"name": c.Name()})
	}
	tenantID := inv.Message.TenantID

	role, err := findRole(ctx, inv, strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	g, ok := c.registry.Group(args[1])
	if !ok {
		return inv.Error(errNoGroup, command.Args{"name": strings.ToLower(args[1])})
	}

	var channelIDs []int64
	if len(args) > 2 {
		chans, err := inv.Transport.Channels(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		for _, arg := range args[2:] {
			name := strings.TrimLeft(strings.ToLower(arg), "#")
			idx := slices.IndexFunc(chans, func(ch channels.Channel) bool {
				return ch.Name == name || ch.Mention() == name
			})
			if idx < 0 {
				return inv.Error(errNoChannel, command.Args{"name": name})
			}
			channelIDs = append(channelIDs, chans[idx].ID)
		}
	}

	if err := c.resolver.Add(ctx, tenantID, g.Name(), role.ID, channelIDs, nil); err != nil {
		return err
	}
	return inv.Send(ctx, "added")
}

type removeCommand struct {
	registry *command.Registry
	resolver *Resolver
}

func (c *removeCommand) Name() string { return "cmdremove" }

func (c *removeCommand) Errors() map[string]string {
	return map[string]string{
		errUsage:   `{name} ["role"] <group>`,
		errNoGroup: "Unknown command group: “{name}”",
		errNoRole:  "Unknown role: “{name}”",
	}
}

func (c *removeCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	var roleName, groupName string
	switch len(args) {
	case 1:
		groupName = strings.ToLower(args[0])
	case 2:
		roleName, groupName = strings.ToLower(args[0]), strings.ToLower(args[1])
	default:
		return inv.Error(errUsage, command.Args{"name": c.Name()})
	}

	g, ok := c.registry.Group(groupName)
	if !ok {
		return inv.Error(errNoGroup, command.Args{"name": groupName})
	}
	var roleID int64
	if roleName != "" {
		role, err := findRole(ctx, inv, roleName)
		if err != nil {
			return err
		}
		roleID = role.ID
	}

	if _, err := c.resolver.Remove(ctx, inv.Message.TenantID, g.Name(), roleID); err != nil {
		return err
	}
	return inv.Send(ctx, "removed")
}

func findRole(ctx context.Context, inv *command.Invocation, name string) (channels.Role, error) {
	roles, err := inv.Transport.Roles(ctx, inv.Message.TenantID)
	if err != nil {
		return channels.Role{}, fmt.Errorf("list roles: %w", err)
	}
	for _, role := range roles {
		if strings.ToLower(role.Name) == name {
			return role, nil
		}
	}
	return channels.Role{}, inv.Error(errNoRole, command.Args{"name": name})
}
