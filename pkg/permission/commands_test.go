package permission

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
	"github.com/tinyland-inc/guildclaw/pkg/storage/memory"
)

const (
	adminID = int64(2)
	modID   = int64(3)
)

type env struct {
	local    *channels.Local
	resolver *Resolver
	disp     *command.Dispatcher
	pings    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := channels.NewLocal(1)
	l.PutRole(tenant, channels.Role{ID: modRole, Name: "Moderators", Position: 3})
	l.PutChannel(channels.Channel{ID: general, TenantID: tenant, Name: "general"})
	l.PutChannel(channels.Channel{ID: offtopic, TenantID: tenant, Name: "offtopic"})
	l.PutMember(channels.Member{ID: 1, TenantID: tenant, Name: "bot", Bot: true}, channels.PermAll)
	l.PutMember(channels.Member{ID: adminID, TenantID: tenant, Name: "alice"}, channels.PermAdministrator)
	l.PutMember(channels.Member{ID: modID, TenantID: tenant, Name: "bob", Roles: []int64{modRole}}, 0)

	e := &env{local: l, resolver: NewResolver(memory.New())}
	reg := command.NewRegistry()
	require.NoError(t, reg.Add(Commands(reg, e.resolver)))
	require.NoError(t, reg.Add(command.MustGroup("tools", &pingCommand{env: e})))

	e.disp = command.NewDispatcher(reg, l, bus.NewRegistry(context.Background()),
		command.WithResolver(e.resolver),
		command.WithDefaultReply(command.ReplyDirect),
		command.WithErrorDelay(0),
	)
	return e
}

type pingCommand struct{ env *env }

func (c *pingCommand) Name() string              { return "ping" }
func (c *pingCommand) Errors() map[string]string { return nil }
func (c *pingCommand) Execute(ctx context.Context, inv *command.Invocation, _ []string) error {
	c.env.pings++
	return inv.Send(ctx, "pong")
}

func (e *env) run(t *testing.T, channelID, author int64, content string) command.Outcome {
	t.Helper()
	msg, err := e.local.Post(context.Background(), channelID, author, content)
	require.NoError(t, err)
	return e.disp.Handle(context.Background(), msg)
}

func TestCmdAdd_GrantsWithoutRestart(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, command.Denied, e.run(t, general, modID, "!ping"))
	assert.Empty(t, e.local.Sent(general), "denial must be silent")

	assert.Equal(t, command.Completed, e.run(t, general, adminID, `!cmdadd "moderators" tools #general`))
	assert.Equal(t, []string{"added"}, e.local.Sent(general))

	assert.Equal(t, command.Completed, e.run(t, general, modID, "!ping"))
	assert.Equal(t, command.Denied, e.run(t, offtopic, modID, "!ping"))
	assert.Equal(t, 1, e.pings)
}

func TestCmdAdd_ChannelMention(t *testing.T) {
	e := newEnv(t)

	require.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdadd moderators tools <#21>"))
	entries, err := e.resolver.Entries(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []int64{offtopic}, entries[0].Channels)
	assert.Equal(t, modRole, entries[0].RoleID)
}

func TestCmdAdd_Errors(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"!cmdadd moderators", `cmdadd "role" <group> [#channel1 #channel2 ...]`},
		{"!cmdadd nobody tools", "Unknown role: “nobody”"},
		{"!cmdadd moderators Nothing", "Unknown command group: “nothing”"},
		{"!cmdadd moderators tools #missing", "Unknown channel: “missing”"},
	}
	for _, tt := range tests {
		e := newEnv(t)
		assert.Equal(t, command.Rejected, e.run(t, general, adminID, tt.content), tt.content)
		assert.Equal(t, []string{tt.want}, e.local.Sent(general), tt.content)
		entries, _ := e.resolver.Entries(context.Background(), tenant)
		assert.Empty(t, entries, tt.content)
	}
}

func TestCmdRemove_RevokesImmediately(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdadd moderators tools"))
	require.Equal(t, command.Completed, e.run(t, general, modID, "!ping"))

	assert.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdremove moderators tools"))
	assert.Equal(t, command.Denied, e.run(t, general, modID, "!ping"))
	assert.Equal(t, []string{"added", "pong", "removed"}, e.local.Sent(general))
}

func TestCmdRemove_GroupOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.resolver.Add(ctx, tenant, "tools", modRole, nil, nil))
	require.NoError(t, e.resolver.Add(ctx, tenant, "tools", 555, nil, nil))

	assert.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdremove TOOLS"))
	entries, err := e.resolver.Entries(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCmdRemove_Errors(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"!cmdremove", `cmdremove ["role"] <group>`},
		{"!cmdremove a b c", `cmdremove ["role"] <group>`},
		{"!cmdremove nothing", "Unknown command group: “nothing”"},
		{"!cmdremove nobody tools", "Unknown role: “nobody”"},
	}
	for _, tt := range tests {
		e := newEnv(t)
		assert.Equal(t, command.Rejected, e.run(t, general, adminID, tt.content), tt.content)
		assert.Equal(t, []string{tt.want}, e.local.Sent(general), tt.content)
	}
}

func TestCmdList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.resolver.Add(ctx, tenant, "tools", modRole, []int64{general, offtopic}, nil))
	require.NoError(t, e.resolver.Add(ctx, tenant, "command", 0, nil, nil))

	require.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdlist"))
	sent := e.local.Sent(general)
	require.Len(t, sent, 1)
	want := strings.Join([]string{
		"```",
		"command - [cmdadd, cmdlist, cmdremove]",
		"    · <admin>: <all channels>",
		"tools - [ping]",
		"    · Moderators: #general, #offtopic",
		"```",
	}, "\n")
	assert.Equal(t, want, sent[0])
}

func TestCmdList_SingleGroup(t *testing.T) {
	e := newEnv(t)

	require.Equal(t, command.Completed, e.run(t, general, adminID, "!cmdlist Tools"))
	assert.Equal(t, []string{"```\ntools - [ping]\n```"}, e.local.Sent(general))

	e = newEnv(t)
	require.Equal(t, command.Rejected, e.run(t, general, adminID, "!cmdlist nope"))
	assert.Equal(t, []string{"Unknown command group: “nope”"}, e.local.Sent(general))
}
