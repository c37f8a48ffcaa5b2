// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Bandward")
		default: // Linux, macOS, etc.
			configDir = "/etc/bandward"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "bandward")
	}

	return filepath.Join(configDir, "bandward.yaml"), nil
}

// LoadConfig resolves configuration in increasing precedence: defaults,
// config file, BANDWARD_* environment variables, command flags.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("bandward")
	v.SetConfigType("yaml")

	// 3. An explicit --config path has the highest precedence for file-based configuration.
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	// 4. Add standard config locations
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	// 5. Read in the primary config file.
	notFound := false
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = true
	} else if used := v.ConfigFileUsed(); used != "" {
		// A zero-length candidate is treated like a missing file so callers
		// regenerate defaults instead of running on an empty document.
		if fi, statErr := os.Stat(used); statErr == nil && fi.Size() == 0 {
			notFound = true
		}
	}

	// 6. Read from environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("bandward")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 7. cli
	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	// parse config
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	if notFound {
		return c, viper.ConfigFileNotFoundError{}
	}
	return c, nil
}

// WriteConfigFile persists c as YAML to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may hold the bridge signing secret and database DSN.
	return os.WriteFile(path, data, 0600)
}
