// Package devtools holds commands for bot operators debugging a tenant.
package devtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinyland-inc/guildclaw/pkg/command"
)

const GroupName = "devtools"

var kinds = []string{"channel", "member", "role"}

// Commands builds the devtools group.
func Commands() *command.Group {
	return command.MustGroup(GroupName, &idOfCommand{})
}

type idOfCommand struct{}

func (c *idOfCommand) Name() string { return "idof" }

func (c *idOfCommand) Errors() map[string]string {
	return map[string]string{
		"usage":        "{name} type name",
		"unknown_type": "known types: {types}",
		"not_found":    "{type} {name} not found",
	}
}

type named struct {
	id   int64
	name string
}

func (c *idOfCommand) Execute(ctx context.Context, inv *command.Invocation, args []string) error {
	if len(args) != 2 {
		return inv.Error("usage", command.Args{"name": c.Name()})
	}
	kind, name := strings.ToLower(args[0]), strings.ToLower(args[1])

	items, err := c.collect(ctx, inv, kind)
	if err != nil {
		return err
	}
	if items == nil {
		return inv.Error("unknown_type", command.Args{"types": strings.Join(kinds, ", ")})
	}
	for _, item := range items {
		if strings.ToLower(item.name) == name {
			return inv.Send(ctx, fmt.Sprintf("%s %s has id %d", kind, name, item.id))
		}
	}
	return inv.Error("not_found", command.Args{"type": kind, "name": name})
}

// collect lists the objects of kind in the invoking tenant. It returns nil
// for an unknown kind.
func (c *idOfCommand) collect(ctx context.Context, inv *command.Invocation, kind string) ([]named, error) {
	tr, tenantID := inv.Transport, inv.Message.TenantID
	items := []named{}
	switch kind {
	case "channel":
		chans, err := tr.Channels(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range chans {
			items = append(items, named{ch.ID, ch.Name})
		}
	case "member":
		members, err := tr.Members(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		for _, m := range members {
			items = append(items, named{m.ID, m.Name})
		}
	case "role":
		roles, err := tr.Roles(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		for _, r := range roles {
			items = append(items, named{r.ID, r.Name})
		}
	default:
		return nil, nil
	}
	return items, nil
}
