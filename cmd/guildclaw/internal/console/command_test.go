package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/guildclaw/pkg/app"
	"github.com/tinyland-inc/guildclaw/pkg/config"
	"github.com/tinyland-inc/guildclaw/pkg/storage/memory"
)

func TestNewConsoleCommand(t *testing.T) {
	cmd := NewConsoleCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "console", cmd.Use)
	assert.Equal(t, []string{"c"}, cmd.Aliases)
	assert.NotNil(t, cmd.RunE)
	assert.Nil(t, cmd.Run)
	assert.NotNil(t, cmd.Flags().Lookup("debug"))
	assert.NotNil(t, cmd.Flags().Lookup("persist"))
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	l := world(&out)
	opts, err := app.OptionsFromConfig(config.DefaultConfig())
	require.NoError(t, err)
	a, err := app.New(l, memory.New(), opts)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background(), a))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	s, err := newSession(l, &out)
	require.NoError(t, err)
	return s, &out
}

func TestSession_MetaCommands(t *testing.T) {
	s, out := newTestSession(t)
	ctx := context.Background()

	assert.Equal(t, "owner", s.author.Name)
	assert.Equal(t, "general", s.channel.Name)

	assert.True(t, s.exec(ctx, "/as alice"))
	assert.Equal(t, "alice", s.author.Name)
	assert.True(t, s.exec(ctx, "/in #offtopic"))
	assert.Equal(t, "offtopic", s.channel.Name)
	assert.Contains(t, s.prompt(), "alice in #offtopic")

	assert.True(t, s.exec(ctx, "/as nobody"))
	assert.Contains(t, out.String(), `no member "nobody"`)

	out.Reset()
	assert.True(t, s.exec(ctx, "/who"))
	assert.Contains(t, out.String(), "@bob <@5>")
	assert.Contains(t, out.String(), "#logs <#12>")

	assert.False(t, s.exec(ctx, "/quit"))
}

func TestSession_PostsCommands(t *testing.T) {
	s, out := newTestSession(t)

	assert.True(t, s.exec(context.Background(), "!idof member bob"))
	assert.Contains(t, out.String(), "[#general] <@2> member bob has id 5")
}
