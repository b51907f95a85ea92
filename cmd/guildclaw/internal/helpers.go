package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/guildclaw/pkg/config"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/memory"
	"github.com/tinyland-inc/guildclaw/pkg/storage/postgres"
	"github.com/tinyland-inc/guildclaw/pkg/storage/sqlite"
)

const Logo = "🛡"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guildclaw", "config.json")
}

func GetDhallConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guildclaw", "config.dhall")
}

// LoadConfig reads path, or the default locations when path is empty. A
// config.dhall next to config.json wins when dhall-to-json is installed.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		if filepath.Ext(path) == ".dhall" {
			return config.LoadDhallConfig(path)
		}
		return config.LoadConfig(path)
	}

	dhallPath := GetDhallConfigPath()
	if _, err := os.Stat(dhallPath); err == nil {
		cfg, err := config.LoadDhallConfig(dhallPath)
		switch {
		case err == nil:
			return cfg, nil
		case !errors.Is(err, config.ErrDhallNotAvailable):
			return nil, fmt.Errorf("error loading dhall config: %w", err)
		}
	}

	return config.LoadConfig(GetConfigPath())
}

// ConfigureLogging applies the log section, raising the level to debug when
// asked on the command line.
func ConfigureLogging(cfg *config.Config, debug bool) {
	level := logger.ParseLevel(cfg.Log.Level)
	if debug || cfg.Debug {
		level = logger.DEBUG
	}
	logger.Configure(logger.Options{Level: level, Format: cfg.Log.Format})
}

// OpenStore opens the configured database. It does not migrate.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		path := cfg.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		st, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
