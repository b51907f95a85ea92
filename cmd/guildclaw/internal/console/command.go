package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var (
		debug      bool
		persist    bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"c"},
		Short:   "Try the bot against a local simulated server",
		Long: `Starts the bot on an in-process server with a few channels and members.
Lines you type are posted as the current member. Meta commands:
  /as <member>    switch the author
  /in <channel>   switch the channel
  /who            list members and channels
  /quit           leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return consoleCmd(cmd.Context(), configPath, persist, debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&persist, "persist", false, "Use the configured database instead of an in-memory one")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.guildclaw/config.json)")

	return cmd
}
