package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/guildclaw/pkg/config"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate configuration between formats",
		Example: `  guildclaw migrate to-dhall
  guildclaw migrate to-dhall --dry-run`,
	}

	var opts config.ToDhallOptions

	toDhallCmd := &cobra.Command{
		Use:   "to-dhall",
		Short: "Convert JSON or YAML config to Dhall format",
		Args:  cobra.NoArgs,
		Example: `  guildclaw migrate to-dhall
  guildclaw migrate to-dhall --dry-run
  guildclaw migrate to-dhall --config ~/.guildclaw/config.yaml
  guildclaw migrate to-dhall --output ~/.guildclaw/config.dhall --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := config.RunToDhall(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.DryRun {
				fmt.Fprint(out, result.Dhall)
			} else {
				fmt.Fprintf(out, "Dhall config written to %s\n", result.OutputPath)
			}
			if len(result.Warnings) > 0 {
				fmt.Fprintln(out, "\nWarnings:")
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "  - %s\n", w)
				}
			}
			return nil
		},
	}

	toDhallCmd.Flags().StringVar(&opts.ConfigPath, "config", "",
		"Config file path (default: ~/.guildclaw/config.json)")
	toDhallCmd.Flags().StringVar(&opts.OutputPath, "output", "",
		"Dhall output file path (default: same dir as input, .dhall extension)")
	toDhallCmd.Flags().BoolVar(&opts.DryRun, "dry-run", false,
		"Print generated Dhall without writing")
	toDhallCmd.Flags().BoolVar(&opts.Force, "force", false,
		"Overwrite existing output file")

	cmd.AddCommand(toDhallCmd)

	return cmd
}
