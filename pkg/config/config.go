package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrDhallNotAvailable is returned when dhall-to-json is not installed.
var ErrDhallNotAvailable = errors.New("dhall-to-json not available")

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_tenants can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

func (f *FlexibleStringSlice) UnmarshalYAML(node *yaml.Node) error {
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		result = append(result, fmt.Sprintf("%v", v))
	}
	*f = result
	return nil
}

// Int64s parses every entry as a decimal id, skipping blanks.
func (f FlexibleStringSlice) Int64s() ([]int64, error) {
	out := make([]int64, 0, len(f))
	for _, s := range f {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

type Config struct {
	Discord  DiscordConfig  `json:"discord"  yaml:"discord"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Commands CommandsConfig `json:"commands" yaml:"commands"`
	Gateway  GatewayConfig  `json:"gateway"  yaml:"gateway"`
	Shutdown ShutdownConfig `json:"shutdown" yaml:"shutdown"`
	Log      LogConfig      `json:"log"      yaml:"log"`
	Debug    bool           `env:"GUILDCLAW_DEBUG" json:"debug" yaml:"debug"`
}

type DiscordConfig struct {
	Token        string              `env:"GUILDCLAW_DISCORD_TOKEN"         json:"token"         yaml:"token"`
	AllowTenants FlexibleStringSlice `env:"GUILDCLAW_DISCORD_ALLOW_TENANTS" json:"allow_tenants" yaml:"allow_tenants"`
}

type DatabaseConfig struct {
	Driver string `env:"GUILDCLAW_DATABASE_DRIVER" json:"driver" yaml:"driver"` // sqlite | postgres | memory
	Path   string `env:"GUILDCLAW_DATABASE_PATH"   json:"path"   yaml:"path"`   // sqlite file
	DSN    string `env:"GUILDCLAW_DATABASE_DSN"    json:"dsn"    yaml:"dsn"`    // postgres connection string
}

type CommandsConfig struct {
	Prefixes                string `env:"GUILDCLAW_COMMANDS_PREFIXES"                   json:"prefixes"                   yaml:"prefixes"`
	ErrorDeleteAfterSeconds int    `env:"GUILDCLAW_COMMANDS_ERROR_DELETE_AFTER_SECONDS" json:"error_delete_after_seconds" yaml:"error_delete_after_seconds"`
	DefaultReply            string `env:"GUILDCLAW_COMMANDS_DEFAULT_REPLY"              json:"default_reply"              yaml:"default_reply"`
}

type GatewayConfig struct {
	Host    string `env:"GUILDCLAW_GATEWAY_HOST"    json:"host"    yaml:"host"`
	Port    int    `env:"GUILDCLAW_GATEWAY_PORT"    json:"port"    yaml:"port"`
	Metrics bool   `env:"GUILDCLAW_GATEWAY_METRICS" json:"metrics" yaml:"metrics"`
}

type ShutdownConfig struct {
	GraceSeconds int `env:"GUILDCLAW_SHUTDOWN_GRACE_SECONDS" json:"grace_seconds" yaml:"grace_seconds"`
}

type LogConfig struct {
	Level  string `env:"GUILDCLAW_LOG_LEVEL"  json:"level"  yaml:"level"`
	Format string `env:"GUILDCLAW_LOG_FORMAT" json:"format" yaml:"format"` // json | console
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.guildclaw/guildclaw.db",
		},
		Commands: CommandsConfig{
			Prefixes:                "!#",
			ErrorDeleteAfterSeconds: 5,
			DefaultReply:            "delete_mention",
		},
		Gateway: GatewayConfig{
			Host:    "127.0.0.1",
			Port:    18790,
			Metrics: true,
		},
		Shutdown: ShutdownConfig{GraceSeconds: 5},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Commands.Prefixes == "" {
		return errors.New("commands.prefixes must not be empty")
	}
	if c.Shutdown.GraceSeconds < 0 {
		return errors.New("shutdown.grace_seconds must not be negative")
	}
	if _, err := c.Discord.AllowTenants.Int64s(); err != nil {
		return fmt.Errorf("discord.allow_tenants: %w", err)
	}
	return nil
}

// DatabasePath returns the sqlite path with a leading ~ expanded.
func (c *Config) DatabasePath() string {
	return expandHome(c.Database.Path)
}

// LoadDhallConfig loads configuration from a .dhall file by invoking dhall-to-json
// and parsing the resulting JSON.
func LoadDhallConfig(path string) (*Config, error) {
	dhallBin, err := exec.LookPath("dhall-to-json")
	if errors.Is(err, exec.ErrNotFound) {
		return nil, ErrDhallNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("dhall-to-json lookup: %w", err)
	}

	cmd := exec.Command(dhallBin, "--file", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("dhall-to-json failed for %s: %w\n%s", path, err, stderr.String())
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(out, cfg); err != nil {
		return nil, fmt.Errorf("error parsing dhall-to-json output: %w", err)
	}
	return finish(cfg)
}

// LoadConfig reads a JSON or YAML file (by extension) on top of the defaults and
// applies environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
