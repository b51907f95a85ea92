package migrate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrateCommand(t *testing.T) {
	cmd := NewMigrateCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "migrate", cmd.Use)
	assert.Equal(t, "Migrate configuration between formats", cmd.Short)
	assert.True(t, cmd.HasExample())
	assert.True(t, cmd.HasSubCommands())
	assert.Nil(t, cmd.RunE)

	sub, _, err := cmd.Find([]string{"to-dhall"})
	require.NoError(t, err)
	assert.Equal(t, "to-dhall", sub.Name())
	for _, flag := range []string{"config", "output", "dry-run", "force"} {
		assert.NotNil(t, sub.Flags().Lookup(flag), flag)
	}
}

func TestToDhallCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"discord":{"token":"abc"}}`), 0o600))

	t.Run("dry run prints and warns", func(t *testing.T) {
		cmd := NewMigrateCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"to-dhall", "--config", src, "--dry-run"})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "env:GUILDCLAW_DISCORD_TOKEN as Text")
		assert.Contains(t, out.String(), "Warnings:")
		assert.NotContains(t, out.String(), "abc\"")
		assert.NoFileExists(t, filepath.Join(dir, "config.dhall"))
	})

	t.Run("writes output", func(t *testing.T) {
		cmd := NewMigrateCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"to-dhall", "--config", src})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), "Dhall config written to")
		assert.FileExists(t, filepath.Join(dir, "config.dhall"))
	})
}
