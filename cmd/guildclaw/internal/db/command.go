package db

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

// ConfirmWord must follow "db drop" for the tables to be dropped.
const ConfirmWord = "CONFIRM"

type opener func(ctx context.Context, configPath string) (storage.Store, error)

func openConfigured(ctx context.Context, configPath string) (storage.Store, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	internal.ConfigureLogging(cfg, false)
	return internal.OpenStore(ctx, cfg)
}

func NewDBCommand() *cobra.Command {
	return newDBCommand(openConfigured)
}

func newDBCommand(open opener) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the database schema",
		Example: `  guildclaw db create
  guildclaw db drop CONFIRM
  guildclaw db create --config /etc/guildclaw/config.yaml`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.guildclaw/config.json)")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the tables",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c.Context(), open, configPath, func(ctx context.Context, st storage.Store) error {
				if err := st.Migrate(ctx); err != nil {
					return fmt.Errorf("create tables: %w", err)
				}
				logger.InfoC("db", "Tables created")
				fmt.Fprintln(c.OutOrStdout(), "Tables created")
				return nil
			})
		},
	}

	dropCmd := &cobra.Command{
		Use:   "drop " + ConfirmWord,
		Short: "Drop the tables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) != 1 || args[0] != ConfirmWord {
				return fmt.Errorf("this deletes every stored setting and permission; run %q to proceed",
					"db drop "+ConfirmWord)
			}
			return withStore(c.Context(), open, configPath, func(ctx context.Context, st storage.Store) error {
				if err := st.Drop(ctx); err != nil {
					return fmt.Errorf("drop tables: %w", err)
				}
				logger.InfoC("db", "Tables dropped")
				fmt.Fprintln(c.OutOrStdout(), "Tables dropped")
				return nil
			})
		},
	}

	cmd.AddCommand(createCmd, dropCmd)
	return cmd
}

func withStore(ctx context.Context, open opener, configPath string, fn func(context.Context, storage.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := open(ctx, configPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
