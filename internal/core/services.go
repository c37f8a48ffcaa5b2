// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core wires the Bandward components together from configuration.
// UI layers (CLI, HTTP server) build one Services value and use its fields;
// they never construct components on their own.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/auth"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/config"
	"github.com/toeirei/bandward/internal/credential"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/device"
	"github.com/toeirei/bandward/internal/forensic"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/metrics"
	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/nonce"
)

// ActionClockJump is the ledger action recorded when the sliding nonce
// window sees the wall clock jump.
const ActionClockJump = "nonce.clock_jump"

// Services holds every component of a running Bandward instance.
type Services struct {
	Config  config.Config
	Clock   clock.Clock
	Store   *db.Store
	Metrics *metrics.Metrics
	Ledger  *audit.Ledger
	Lock    *forensic.Lock
	Issuer  *credential.Issuer
	Devices *device.Registry
	Window  nonce.Window
	Auth    *auth.Authenticator
	// Bridge is nil when no JWT secret is configured.
	Bridge *bridge.JWTBridge

	logger *log.Logger
}

type options struct {
	clock  clock.Clock
	logger *log.Logger
}

// Option customizes Open.
type Option func(*options)

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// Open connects to the configured database, runs migrations and builds the
// component graph. The ledger and the forensic lock depend on each other:
// the ledger is built first, then the lock is installed as its guard.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	logger := logging.Or(o.logger)

	store, err := db.New(cfg.Database.Type, cfg.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Services{Config: cfg, Clock: o.clock, Store: store, Metrics: metrics.New(), logger: logger}

	s.Ledger = audit.NewLedger(store, audit.Options{
		Clock:         o.clock,
		AppendTimeout: cfg.Audit.AppendTimeout,
		AppendRetries: cfg.Audit.AppendRetries,
		DefaultLimit:  cfg.Audit.DefaultQueryLimit,
		MaxLimit:      cfg.Audit.MaxQueryLimit,
		Policy:        audit.FourEyesPolicy{AllowSelfApproval: cfg.Audit.AllowSelfApproval},
		Metrics:       s.Metrics,
		Logger:        logger,
	})
	s.Lock, err = forensic.New(ctx, store, s.Ledger, forensic.Options{
		Clock:                o.clock,
		LiftRequiresApproval: cfg.Forensic.LiftRequiresApproval,
		Metrics:              s.Metrics,
		Logger:               logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.Ledger.SetGuard(s.Lock)

	s.Issuer = credential.NewIssuer(store, s.Ledger, s.Lock, credential.Options{
		Clock:       o.clock,
		TTL:         cfg.Auth.CredentialTTL,
		SecretBytes: cfg.Auth.SecretBytes,
		Logger:      logger,
	})
	s.Devices = device.NewRegistry(store, s.Issuer, s.Ledger, s.Lock, device.Options{Clock: o.clock, Logger: logger})

	s.Window, err = nonce.New(cfg.Auth.NonceMode, store, nonce.Options{
		Clock:         o.clock,
		Window:        cfg.Auth.NonceWindow,
		FutureSkew:    cfg.Auth.NonceFutureSkew,
		JumpTolerance: cfg.Auth.ClockJumpTolerance,
		OnClockJump:   s.recordClockJump,
		Logger:        logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.Auth = auth.New(store, s.Devices, s.Window, auth.Options{Clock: o.clock, Metrics: s.Metrics, Logger: logger})

	if cfg.Bridge.JWTSecret != "" {
		s.Bridge, err = bridge.NewJWTBridge([]byte(cfg.Bridge.JWTSecret), cfg.Bridge.Issuer, cfg.Bridge.TokenTTL, o.clock)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("configure bridge: %w", err)
		}
	}
	return s, nil
}

// recordClockJump turns a clock discontinuity into a ledger entry. While the
// forensic lock is engaged the entry cannot be written and only the log keeps
// it.
func (s *Services) recordClockJump(ctx context.Context, j nonce.ClockJump) {
	s.Metrics.ClockJump()
	_, err := s.Ledger.Append(ctx, audit.Record{
		Action:       ActionClockJump,
		ResourceType: "clock",
		ResourceID:   "wall",
		Severity:     model.SeverityWarning,
		Details:      fmt.Sprintf("previous %s observed %s delta %s", j.Previous.Format(time.RFC3339Nano), j.Observed.Format(time.RFC3339Nano), j.Delta),
	})
	if err != nil {
		s.logger.Error("could not record clock jump", "delta", j.Delta, "err", err)
	}
}

// Close releases the database.
func (s *Services) Close() error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// RequireBridge returns the bridge or an error explaining how to enable it.
func (s *Services) RequireBridge() (*bridge.JWTBridge, error) {
	if s.Bridge == nil {
		return nil, errors.New("bridge.jwt_secret is not configured")
	}
	return s.Bridge, nil
}

// DBMaintenanceOptions controls RunDBMaintenance.
type DBMaintenanceOptions struct {
	Timeout time.Duration
}

// RunDBMaintenance runs engine-specific maintenance on the configured database.
func RunDBMaintenance(ctx context.Context, cfg config.Config, opts DBMaintenanceOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return db.RunDBMaintenance(ctx, cfg.Database.Type, cfg.Database.Dsn)
}
