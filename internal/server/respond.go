// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/credential"
	"github.com/toeirei/bandward/internal/device"
	"github.com/toeirei/bandward/internal/forensic"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errBadRequest marks malformed input detected by the handlers themselves.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	return nil
}

// statusOf maps a domain error to its HTTP status. Anything unrecognised is a
// 500 whose message is not shown to the caller.
func statusOf(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, bridge.ErrForbidden),
		errors.Is(err, audit.ErrSelfApproval),
		errors.Is(err, audit.ErrFacilityMismatch):
		return http.StatusForbidden
	case errors.Is(err, forensic.ErrLockActive):
		return http.StatusLocked
	case errors.Is(err, audit.ErrAuditWriteFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, device.ErrUnknownDevice),
		errors.Is(err, credential.ErrUnknownDevice),
		errors.Is(err, audit.ErrUnknownEntry):
		return http.StatusNotFound
	case errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, device.ErrInvalidTransition),
		errors.Is(err, device.ErrNotBindable),
		errors.Is(err, device.ErrNotBound),
		errors.Is(err, credential.ErrNoCredential),
		errors.Is(err, audit.ErrAlreadyApproved),
		errors.Is(err, audit.ErrApprovalNotRequired),
		errors.Is(err, forensic.ErrNotEnabled),
		errors.Is(err, forensic.ErrLiftPending),
		errors.Is(err, forensic.ErrNoPendingLift):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, audit.ErrInvalidQuery),
		errors.Is(err, audit.ErrInvalidRecord),
		errors.Is(err, audit.ErrApproverRequired),
		errors.Is(err, device.ErrInvalidUID),
		errors.Is(err, device.ErrInvalidFacility),
		errors.Is(err, credential.ErrInvalidDevice),
		errors.Is(err, forensic.ErrReasonRequired),
		errors.Is(err, forensic.ErrActorRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}
