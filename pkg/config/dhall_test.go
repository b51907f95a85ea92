package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestToDhall_DefaultConfig(t *testing.T) {
	dhall, warnings := ToDhall(DefaultConfig())

	for _, expected := range []string{
		"discord =",
		"database =",
		`driver = "sqlite"`,
		`prefixes = "!#"`,
		"error_delete_after_seconds = 5",
		`default_reply = "delete_mention"`,
		`gateway = { host = "127.0.0.1", port = 18790, metrics = True }`,
		"shutdown = { grace_seconds = 5 }",
		"allow_tenants = [] : List Text",
		"debug = False",
	} {
		if !strings.Contains(dhall, expected) {
			t.Errorf("expected dhall output to contain %q\n%s", expected, dhall)
		}
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
}

func TestToDhall_CredentialRedaction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "secret-bot-token"
	cfg.Database.DSN = "postgres://bot:hunter2@db/guildclaw"

	dhall, warnings := ToDhall(cfg)

	for _, secret := range []string{"secret-bot-token", "hunter2"} {
		if strings.Contains(dhall, secret) {
			t.Errorf("expected %q to be redacted", secret)
		}
	}
	if !strings.Contains(dhall, "token{- -} = env:GUILDCLAW_DISCORD_TOKEN as Text") {
		t.Error("expected env import for the token")
	}
	if !strings.Contains(dhall, "dsn = env:GUILDCLAW_DATABASE_DSN as Text") {
		t.Error("expected env import for the dsn")
	}
	if len(warnings) != 2 {
		t.Errorf("expected two warnings, got %v", warnings)
	}
}

func TestDhallText(t *testing.T) {
	tests := map[string]string{
		"plain":         `"plain"`,
		`say "hi"`:      `"say \"hi\""`,
		`back\slash`:    `"back\\slash"`,
		"${interp}":     `"\${interp}"`,
		"line\nbreak":   `"line\nbreak"`,
		"allow_tenants": `"allow_tenants"`,
	}
	for in, want := range tests {
		if got := dhallText(in); got != want {
			t.Errorf("dhallText(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRunToDhall_WritesAndRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(src, []byte("discord:\n  allow_tenants: [42]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := RunToDhall(ToDhallOptions{ConfigPath: src})
	if err != nil {
		t.Fatalf("RunToDhall: %v", err)
	}
	if result.OutputPath != filepath.Join(dir, "config.dhall") {
		t.Errorf("unexpected output path %s", result.OutputPath)
	}
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), `allow_tenants = [ "42" ]`) {
		t.Errorf("tenants missing from output:\n%s", data)
	}

	if _, err := RunToDhall(ToDhallOptions{ConfigPath: src}); err == nil {
		t.Error("expected an error when the output exists")
	}
	if _, err := RunToDhall(ToDhallOptions{ConfigPath: src, Force: true}); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func TestRunToDhall_DryRunAndMissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.json")
	if err := os.WriteFile(src, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := RunToDhall(ToDhallOptions{ConfigPath: src, DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if result.Dhall == "" {
		t.Error("expected generated text")
	}
	if _, err := os.Stat(result.OutputPath); !os.IsNotExist(err) {
		t.Error("dry run must not write the output")
	}

	if _, err := RunToDhall(ToDhallOptions{ConfigPath: filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected an error for a missing source")
	}
}
