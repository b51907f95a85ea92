package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ToDhallOptions controls JSON/YAML to Dhall conversion.
type ToDhallOptions struct {
	ConfigPath string // source config (default: ~/.guildclaw/config.json)
	OutputPath string // Dhall output (default: source path with a .dhall extension)
	DryRun     bool
	Force      bool
}

// ToDhallResult summarizes the conversion.
type ToDhallResult struct {
	OutputPath string
	Dhall      string
	Warnings   []string
}

// RunToDhall converts a config file to Dhall. With DryRun the text is only
// returned in the result.
func RunToDhall(opts ToDhallOptions) (*ToDhallResult, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".guildclaw", "config.json")
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".dhall"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	result := &ToDhallResult{OutputPath: outputPath}
	result.Dhall, result.Warnings = ToDhall(cfg)
	if opts.DryRun {
		return result, nil
	}

	if !opts.Force {
		if _, err := os.Stat(outputPath); err == nil {
			return nil, fmt.Errorf("output file already exists: %s (use --force to overwrite)", outputPath)
		}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(outputPath, []byte(result.Dhall), 0o600); err != nil {
		return nil, err
	}
	return result, nil
}

// ToDhall renders cfg as a self-contained Dhall record that dhall-to-json
// turns back into the same configuration. The Discord token is replaced by an
// environment import and reported in the warnings.
func ToDhall(cfg *Config) (string, []string) {
	var (
		b        strings.Builder
		warnings []string
	)

	token := dhallText(cfg.Discord.Token)
	if cfg.Discord.Token != "" {
		token = "env:GUILDCLAW_DISCORD_TOKEN as Text"
		warnings = append(warnings, "discord.token: credential value redacted, set GUILDCLAW_DISCORD_TOKEN")
	}
	dsn := dhallText(cfg.Database.DSN)
	if strings.Contains(cfg.Database.DSN, "@") {
		dsn = "env:GUILDCLAW_DATABASE_DSN as Text"
		warnings = append(warnings, "database.dsn: connection string may hold a password, set GUILDCLAW_DATABASE_DSN")
	}

	b.WriteString("-- guildclaw configuration (generated)\n\n")
	b.WriteString("{ discord =\n")
	b.WriteString("    { token{- -} = " + token + "\n")
	b.WriteString("    , allow_tenants = " + dhallTextList(cfg.Discord.AllowTenants) + "\n")
	b.WriteString("    }\n")
	b.WriteString(", database =\n")
	b.WriteString("    { driver = " + dhallText(cfg.Database.Driver) + "\n")
	b.WriteString("    , path = " + dhallText(cfg.Database.Path) + "\n")
	b.WriteString("    , dsn = " + dsn + "\n")
	b.WriteString("    }\n")
	b.WriteString(", commands =\n")
	b.WriteString("    { prefixes = " + dhallText(cfg.Commands.Prefixes) + "\n")
	b.WriteString(fmt.Sprintf("    , error_delete_after_seconds = %d\n", cfg.Commands.ErrorDeleteAfterSeconds))
	b.WriteString("    , default_reply = " + dhallText(cfg.Commands.DefaultReply) + "\n")
	b.WriteString("    }\n")
	b.WriteString(fmt.Sprintf(", gateway = { host = %s, port = %d, metrics = %s }\n",
		dhallText(cfg.Gateway.Host), cfg.Gateway.Port, dhallBool(cfg.Gateway.Metrics)))
	b.WriteString(fmt.Sprintf(", shutdown = { grace_seconds = %d }\n", cfg.Shutdown.GraceSeconds))
	b.WriteString(fmt.Sprintf(", log = { level = %s, format = %s }\n",
		dhallText(cfg.Log.Level), dhallText(cfg.Log.Format)))
	b.WriteString(", debug = " + dhallBool(cfg.Debug) + "\n")
	b.WriteString("}\n")

	return b.String(), warnings
}

// dhallText quotes s. JSON string escapes are valid Dhall escapes; only
// interpolation needs extra care.
func dhallText(s string) string {
	data, _ := json.Marshal(s)
	return strings.ReplaceAll(string(data), "${", `\${`)
}

func dhallBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func dhallTextList(ss []string) string {
	if len(ss) == 0 {
		return "[] : List Text"
	}
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = dhallText(s)
	}
	return "[ " + strings.Join(parts, ", ") + " ]"
}
