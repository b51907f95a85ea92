package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal"
	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal/console"
	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal/db"
	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal/gateway"
	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal/migrate"
	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal/version"
)

func NewGuildclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s guildclaw - Discord moderation bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "guildclaw",
		Short:   short,
		Example: "guildclaw gateway --config ~/.guildclaw/config.yaml",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		console.NewConsoleCommand(),
		db.NewDBCommand(),
		migrate.NewMigrateCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewGuildclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
