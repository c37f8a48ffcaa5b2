// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config provides configuration loading, merging, and persistence
// helpers for Bandward. It uses Viper for file/env/flag parsing and exposes
// utility functions to read/write configuration files.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Nonce modes accepted by Auth.NonceMode.
const (
	NonceModeCounter = "counter"
	NonceModeWindow  = "window"
)

type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

type Server struct {
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type Auth struct {
	CredentialTTL      time.Duration `mapstructure:"credential_ttl" yaml:"credential_ttl"`
	SecretBytes        int           `mapstructure:"secret_bytes" yaml:"secret_bytes"`
	NonceMode          string        `mapstructure:"nonce_mode" yaml:"nonce_mode"`
	NonceWindow        time.Duration `mapstructure:"nonce_window" yaml:"nonce_window"`
	NonceFutureSkew    time.Duration `mapstructure:"nonce_future_skew" yaml:"nonce_future_skew"`
	ClockJumpTolerance time.Duration `mapstructure:"clock_jump_tolerance" yaml:"clock_jump_tolerance"`
}

type Audit struct {
	AppendTimeout     time.Duration `mapstructure:"append_timeout" yaml:"append_timeout"`
	AppendRetries     int           `mapstructure:"append_retries" yaml:"append_retries"`
	DefaultQueryLimit int           `mapstructure:"default_query_limit" yaml:"default_query_limit"`
	MaxQueryLimit     int           `mapstructure:"max_query_limit" yaml:"max_query_limit"`
	AllowSelfApproval bool          `mapstructure:"allow_self_approval" yaml:"allow_self_approval"`
}

type Forensic struct {
	LiftRequiresApproval bool `mapstructure:"lift_requires_approval" yaml:"lift_requires_approval"`
}

type Bridge struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Config is the full application configuration.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Language string   `mapstructure:"language" yaml:"language"`
	LogLevel string   `mapstructure:"log_level" yaml:"log_level"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Auth     Auth     `mapstructure:"auth" yaml:"auth"`
	Audit    Audit    `mapstructure:"audit" yaml:"audit"`
	Forensic Forensic `mapstructure:"forensic" yaml:"forensic"`
	Bridge   Bridge   `mapstructure:"bridge" yaml:"bridge"`
}

// Defaults returns the flat viper default map used by LoadConfig.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":                   "sqlite",
		"database.dsn":                    "./bandward.db",
		"language":                        "en",
		"log_level":                       "info",
		"server.listen":                   "127.0.0.1:8443",
		"server.read_timeout":             "10s",
		"server.write_timeout":            "10s",
		"auth.credential_ttl":             "720h",
		"auth.secret_bytes":               32,
		"auth.nonce_mode":                 NonceModeCounter,
		"auth.nonce_window":               "5m",
		"auth.nonce_future_skew":          "30s",
		"auth.clock_jump_tolerance":       "2s",
		"audit.append_timeout":            "5s",
		"audit.append_retries":            3,
		"audit.default_query_limit":       100,
		"audit.max_query_limit":           1000,
		"audit.allow_self_approval":       false,
		"forensic.lift_requires_approval": true,
		"bridge.issuer":                   "bandward",
		"bridge.token_ttl":                "1h",
	}
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}
	if c.Database.Dsn == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.CredentialTTL <= 0 {
		errs = append(errs, errors.New("auth.credential_ttl must be positive"))
	}
	if c.Auth.SecretBytes < 16 {
		errs = append(errs, errors.New("auth.secret_bytes must be at least 16"))
	}
	switch c.Auth.NonceMode {
	case NonceModeCounter:
	case NonceModeWindow:
		if c.Auth.NonceWindow <= 0 {
			errs = append(errs, errors.New("auth.nonce_window must be positive in window mode"))
		}
		if c.Auth.NonceFutureSkew < 0 || c.Auth.ClockJumpTolerance <= 0 {
			errs = append(errs, errors.New("auth.nonce_future_skew must not be negative and auth.clock_jump_tolerance must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.nonce_mode %q is not supported", c.Auth.NonceMode))
	}
	if c.Audit.AppendTimeout <= 0 {
		errs = append(errs, errors.New("audit.append_timeout must be positive"))
	}
	if c.Audit.AppendRetries < 0 {
		errs = append(errs, errors.New("audit.append_retries must not be negative"))
	}
	if c.Audit.DefaultQueryLimit <= 0 || c.Audit.MaxQueryLimit < c.Audit.DefaultQueryLimit {
		errs = append(errs, errors.New("audit query limits must satisfy 0 < default <= max"))
	}
	return errors.Join(errs...)
}

// ValidateServing adds the checks that only matter when the HTTP adapter runs.
func (c Config) ValidateServing() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Bridge.JWTSecret) < 32 {
		return errors.New("bridge.jwt_secret must be at least 32 characters when serving")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	return nil
}
