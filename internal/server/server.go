// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package server is the HTTP boundary of Bandward: the device authentication
// endpoint, the operator API behind bearer tokens, metrics and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/core"
	"github.com/toeirei/bandward/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	// maxBodyBytes caps every request body.
	maxBodyBytes = 64 << 10
)

type Options struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *log.Logger
}

type Server struct {
	svc    *core.Services
	bridge *bridge.JWTBridge
	logger *log.Logger
	http   *http.Server
}

// New builds the router. The services must have a bridge configured.
func New(svc *core.Services, opts Options) (*Server, error) {
	b, err := svc.RequireBridge()
	if err != nil {
		return nil, err
	}
	s := &Server{svc: svc, bridge: b, logger: logging.Or(opts.Logger)}
	s.http = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.HandleMethodNotAllowed = true

	r.POST("/v1/device/authenticate", s.handleAuthenticate)

	r.GET("/v1/audit", s.operator(bridge.RoleAuditor, s.handleAuditQuery))
	r.GET("/v1/audit/pending", s.operator(bridge.RoleAuditor, s.handleAuditPending))
	r.POST("/v1/audit/verify", s.operator(bridge.RoleAuditor, s.handleAuditVerify))
	r.POST("/v1/audit/approve/:sequence", s.operator(bridge.RoleOperator, s.handleAuditApprove))

	r.GET("/v1/forensic", s.operator(bridge.RoleAuditor, s.handleForensicState))
	r.POST("/v1/forensic", s.operator(bridge.RoleAdmin, s.handleForensicSet))
	r.POST("/v1/forensic/approve/:sequence", s.operator(bridge.RoleAdmin, s.handleForensicApprove))

	r.GET("/v1/devices", s.operator(bridge.RoleAuditor, s.handleDeviceList))
	r.POST("/v1/devices", s.operator(bridge.RoleOperator, s.handleDeviceRegister))
	r.POST("/v1/devices/:uid/bind", s.operator(bridge.RoleOperator, s.handleDeviceBind))
	r.POST("/v1/devices/:uid/unbind", s.operator(bridge.RoleOperator, s.handleDeviceUnbind))
	r.POST("/v1/devices/:uid/rotate", s.operator(bridge.RoleOperator, s.handleDeviceRotate))
	r.POST("/v1/devices/:uid/status", s.operator(bridge.RoleOperator, s.handleDeviceStatus))

	r.Handler(http.MethodGet, "/metrics", s.svc.Metrics.Handler())
	r.GET("/healthz", s.handleHealth)

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	return s.logRequests(r)
}

// ListenAndServe serves until ctx ends and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("bandward listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.logger.Info("bandward stopped")
		return nil
	})
	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}
