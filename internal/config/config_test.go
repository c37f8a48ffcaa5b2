package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/toeirei/bandward/internal/config"
)

func resetViper() {
	// Reset global viper state between tests
	viper.Reset()
}

func TestLoadConfig_EmptyCandidate_TreatedAsNotFound(t *testing.T) {
	tmp := t.TempDir()
	// Force user config dir to tmp by setting XDG_CONFIG_HOME
	t.Setenv("XDG_CONFIG_HOME", tmp)

	cfgDir := filepath.Join(tmp, "bandward")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	emptyPath := filepath.Join(cfgDir, "bandward.yaml")
	f, err := os.Create(emptyPath)
	if err != nil {
		t.Fatalf("create empty file: %v", err)
	}
	_ = f.Close()

	resetViper()
	defer resetViper()

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &emptyPath)
	if err == nil {
		t.Fatalf("expected ConfigFileNotFoundError for empty candidate, got nil")
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		t.Fatalf("expected ConfigFileNotFoundError, got: %T %v", err, err)
	}
	// Defaults are still populated so callers can keep running.
	if got.Database.Type != "sqlite" {
		t.Fatalf("expected defaults to be applied, got %q", got.Database.Type)
	}
}

func TestWriteConfigFile_CreatesFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	resetViper()
	defer resetViper()

	c := cfg.Config{}
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./bandward.db"
	c.Language = "en"

	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s, stat error: %v", path, err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", fi.Mode().Perm())
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := t.TempDir()
	yaml := strings.Join([]string{
		"database:",
		"  type: postgres",
		"  dsn: postgresql://user@/db",
		"language: de",
		"auth:",
		"  nonce_mode: window",
		"  nonce_window: 90s",
		"",
	}, "\n")
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	resetViper()
	defer resetViper()

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" {
		t.Fatalf("expected postgres, got %q", got.Database.Type)
	}
	if got.Language != "de" {
		t.Fatalf("expected de, got %q", got.Language)
	}
	if got.Auth.NonceMode != cfg.NonceModeWindow || got.Auth.NonceWindow != 90*time.Second {
		t.Fatalf("unexpected auth section: %+v", got.Auth)
	}
	// Untouched keys fall back to defaults.
	if got.Audit.AppendRetries != 3 || got.Auth.CredentialTTL != 720*time.Hour {
		t.Fatalf("expected defaults for unset keys, got %+v / %+v", got.Audit, got.Auth)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("BANDWARD_LOG_LEVEL", "debug")

	resetViper()
	defer resetViper()

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.LogLevel != "debug" {
		t.Fatalf("expected env override, got %q", got.LogLevel)
	}
}

func validConfig(t *testing.T) cfg.Config {
	t.Helper()
	resetViper()
	defer resetViper()
	tmp := t.TempDir()
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte("language: en\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	c, err := cfg.LoadConfig[cfg.Config](nil, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return c
}

func TestValidate(t *testing.T) {
	base := validConfig(t)
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *cfg.Config)
		want   string
	}{
		{"db type", func(c *cfg.Config) { c.Database.Type = "oracle" }, "database.type"},
		{"nonce mode", func(c *cfg.Config) { c.Auth.NonceMode = "lamport" }, "nonce_mode"},
		{"window", func(c *cfg.Config) { c.Auth.NonceMode = cfg.NonceModeWindow; c.Auth.NonceWindow = 0 }, "nonce_window"},
		{"ttl", func(c *cfg.Config) { c.Auth.CredentialTTL = 0 }, "credential_ttl"},
		{"limits", func(c *cfg.Config) { c.Audit.MaxQueryLimit = 1 }, "query limits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	if err := base.ValidateServing(); err == nil {
		t.Fatalf("expected serving validation to require a jwt secret")
	}
	base.Bridge.JWTSecret = strings.Repeat("k", 32)
	if err := base.ValidateServing(); err != nil {
		t.Fatalf("expected serving config to validate, got %v", err)
	}
}
