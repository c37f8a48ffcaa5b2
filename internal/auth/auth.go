// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package auth authenticates devices presenting (uid, secret, nonce).
//
// Every failure leaves the package as ErrAuthenticationFailed. The precise
// reason is kept in *Failure for logs and metrics only; callers that answer
// a device must not reveal it.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/device"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/metrics"
	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/nonce"
	"github.com/toeirei/bandward/internal/security"
)

// Kind is the internal reason an authentication failed.
type Kind string

const (
	UnknownDevice      Kind = "UnknownDevice"
	BadSecret          Kind = "BadSecret"
	Expired            Kind = "Expired"
	ReplayOrStale      Kind = "ReplayOrStale"
	NotBoundOrInactive Kind = "NotBoundOrInactive"
	// Unavailable means storage could not answer; the request fails closed.
	Unavailable Kind = "Unavailable"
)

// ErrAuthenticationFailed is the only error callers may surface.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Failure carries the internal kind. Its message is the uniform one.
type Failure struct {
	Kind Kind
}

func (f *Failure) Error() string { return ErrAuthenticationFailed.Error() }
func (f *Failure) Unwrap() error { return ErrAuthenticationFailed }

// KindOf extracts the internal kind of an authentication error.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// Context is the authenticated identity of a device request.
type Context struct {
	DeviceUID  string `json:"deviceUid"`
	DeviceID   string `json:"deviceId"`
	FacilityID string `json:"facilityId"`
}

// Credentials looks up stored credentials, implemented by *db.Store.
type Credentials interface {
	GetCredential(ctx context.Context, uid string) (model.Credential, error)
}

// Devices is the binding lookup, implemented by *device.Registry.
type Devices interface {
	Resolve(ctx context.Context, uid string) (model.Device, model.Binding, error)
	Touch(ctx context.Context, uid string, at time.Time) error
}

type Options struct {
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

type Authenticator struct {
	creds   Credentials
	devices Devices
	window  nonce.Window
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *log.Logger
	// dummy and dummySeed stand in for the credential of an unknown device
	// so the secret comparison and the nonce step cost the same.
	dummy     security.Secret
	dummySeed security.Secret
}

func New(creds Credentials, devices Devices, window nonce.Window, opts Options) *Authenticator {
	a := &Authenticator{
		creds:   creds,
		devices: devices,
		window:  window,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  logging.Or(opts.Logger),
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	a.dummy, _ = security.NewSecret(32)
	if a.dummy == nil {
		a.dummy = make(security.Secret, 32)
	}
	a.dummySeed, _ = security.NewSecret(32)
	if a.dummySeed == nil {
		a.dummySeed = make(security.Secret, 32)
	}
	return a
}

// Authenticate runs every check for every request. The first failing check
// in the order lookup, secret, expiry, nonce, binding decides the kind. The
// nonce is only consumed when all other checks passed, so a rejected request
// never burns a nonce.
func (a *Authenticator) Authenticate(ctx context.Context, uid string, secret, presented []byte) (Context, error) {
	now := a.clock.Now()
	var kind Kind
	var detail error

	cred, err := a.creds.GetCredential(ctx, uid)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		kind = UnknownDevice
	default:
		kind, detail = Unavailable, err
	}
	if kind != "" {
		// Generation -1 never matches stored state; the result is discarded.
		cred = model.Credential{DeviceUID: uid, Secret: a.dummy, NonceSeed: a.dummySeed, Generation: -1}
	}

	if !security.Equal(cred.Secret, secret) && kind == "" {
		kind = BadSecret
	}
	if kind == "" && cred.Expired(now) {
		kind = Expired
	}

	dev, binding, rerr := a.devices.Resolve(ctx, uid)
	bound := rerr == nil && dev.Status == model.DeviceActive && binding.Status == model.BindingBound

	var nerr error
	if kind == "" && bound {
		nerr = a.window.Admit(ctx, cred, presented)
	} else {
		nerr = a.window.Check(ctx, cred, presented)
	}
	if kind == "" && nerr != nil {
		kind, detail = ReplayOrStale, nerr
		if !errors.Is(nerr, nonce.ErrRejected) {
			kind = Unavailable
		}
	}

	if kind == "" && !bound {
		kind, detail = NotBoundOrInactive, rerr
		if rerr != nil && !errors.Is(rerr, device.ErrUnknownDevice) && !errors.Is(rerr, device.ErrNotBound) {
			kind = Unavailable
		}
	}

	if kind != "" {
		a.metrics.AuthOutcome(string(kind))
		a.logger.Warn("device authentication failed", "device", uid, "kind", kind, "err", detail)
		return Context{}, &Failure{Kind: kind}
	}

	if err := a.devices.Touch(ctx, uid, now); err != nil {
		a.logger.Warn("could not record last seen", "device", uid, "err", err)
	}
	a.metrics.AuthOutcome("success")
	a.logger.Debug("device authenticated", "device", uid, "facility", binding.FacilityID)
	return Context{DeviceUID: uid, DeviceID: dev.ID, FacilityID: binding.FacilityID}, nil
}
