// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/auth"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/credential"
	"github.com/toeirei/bandward/internal/device"
	"github.com/toeirei/bandward/internal/model"
)

type operatorHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal)

// operator authenticates the bearer token and enforces the minimum role.
func (s *Server) operator(role bridge.Role, next operatorHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		h := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			s.writeError(w, r, bridge.ErrUnauthenticated)
			return
		}
		p, err := s.bridge.Verify(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := p.Require(role); err != nil {
			s.logger.Warn("operator request refused", "actor", p.ActorID, "role", p.Role, "path", r.URL.Path)
			s.writeError(w, r, err)
			return
		}
		next(w, r, ps, p)
	}
}

type authenticateRequest struct {
	DeviceUID string `json:"deviceUid"`
	Secret    string `json:"secret"`
	Nonce     string `json:"nonce"`
}

var errAuthBody = errorBody{Error: auth.ErrAuthenticationFailed.Error()}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	secret, serr := base64.StdEncoding.DecodeString(req.Secret)
	nonce, nerr := base64.StdEncoding.DecodeString(req.Nonce)
	if serr != nil || nerr != nil {
		writeJSON(w, http.StatusUnauthorized, errAuthBody)
		return
	}
	actx, err := s.svc.Auth.Authenticate(r.Context(), req.DeviceUID, secret, nonce)
	if err != nil {
		if kind, _ := auth.KindOf(err); kind == auth.Unavailable {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "authentication unavailable"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, errAuthBody)
		return
	}
	writeJSON(w, http.StatusOK, actx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "forensicLock": s.svc.Lock.Enabled()})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, badRequest("invalid time %q", v)
	}
	return t, nil
}

func parseSequence(ps httprouter.Params) (int64, error) {
	seq, err := strconv.ParseInt(ps.ByName("sequence"), 10, 64)
	if err != nil || seq <= 0 {
		return 0, badRequest("invalid sequence %q", ps.ByName("sequence"))
	}
	return seq, nil
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p bridge.Principal) {
	q := r.URL.Query()
	facility, err := bridge.FacilityScope(p, q.Get("facility"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := model.AuditFilter{
		FacilityID:   facility,
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
		Severity:     model.Severity(q.Get("severity")),
	}
	if f.Start, err = parseTime(q.Get("start")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.End, err = parseTime(q.Get("end")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if l := q.Get("limit"); l != "" {
		if f.Limit, err = strconv.Atoi(l); err != nil {
			s.writeError(w, r, badRequest("invalid limit %q", l))
			return
		}
	}
	entries, err := s.svc.Ledger.Query(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAuditPending(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p bridge.Principal) {
	facility, err := bridge.FacilityScope(p, r.URL.Query().Get("facility"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pending, err := s.svc.Ledger.Pending(r.Context(), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]model.AuditEntry, 0, len(pending))
	for _, e := range pending {
		if facility == "" || e.FacilityID == facility {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type verifyRequest struct {
	FromSequence int64  `json:"fromSequence"`
	ToSequence   int64  `json:"toSequence"`
	Start        string `json:"start"`
	End          string `json:"end"`
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ bridge.Principal) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	rng := audit.Range{FromSequence: req.FromSequence, ToSequence: req.ToSequence}
	var err error
	if rng.Start, err = parseTime(req.Start); err != nil {
		s.writeError(w, r, err)
		return
	}
	if rng.End, err = parseTime(req.End); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Ledger.VerifyIntegrity(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditApprove(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	seq, err := parseSequence(ps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Ledger.Approve(r.Context(), audit.Approver{ActorID: p.ActorID, FacilityID: p.FacilityID}, seq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleForensicState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params, _ bridge.Principal) {
	writeJSON(w, http.StatusOK, s.svc.Lock.State())
}

type forensicRequest struct {
	Enable bool   `json:"enable"`
	Reason string `json:"reason"`
}

type forensicResponse struct {
	State         model.ForensicLockState `json:"state"`
	EntrySequence int64                   `json:"entrySequence,omitempty"`
	Pending       bool                    `json:"pending"`
}

func (s *Server) handleForensicSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p bridge.Principal) {
	var req forensicRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enable {
		st, err := s.svc.Lock.Enable(r.Context(), p.ActorID, req.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, forensicResponse{State: st})
		return
	}
	out, err := s.svc.Lock.Disable(r.Context(), p.ActorID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if out.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, forensicResponse{State: out.State, EntrySequence: out.Entry.Sequence, Pending: out.Pending})
}

func (s *Server) handleForensicApprove(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	seq, err := parseSequence(ps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.svc.Lock.ApproveLift(r.Context(), audit.Approver{ActorID: p.ActorID, FacilityID: p.FacilityID}, seq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forensicResponse{State: st})
}

type deviceResponse struct {
	ID           string             `json:"id"`
	UID          string             `json:"uid"`
	Status       model.DeviceStatus `json:"status"`
	RegisteredAt time.Time          `json:"registeredAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	FacilityID   string             `json:"facilityId,omitempty"`
}

func toDeviceResponse(d model.Device, facilityID string) deviceResponse {
	return deviceResponse{ID: d.ID, UID: d.UID, Status: d.Status, RegisteredAt: d.RegisteredAt, UpdatedAt: d.UpdatedAt, FacilityID: facilityID}
}

// credentialResponse hands the provisioning material to the caller. It is
// the only place secrets leave the process.
type credentialResponse struct {
	Secret     string    `json:"secret"`
	NonceSeed  string    `json:"nonceSeed"`
	Generation int64     `json:"generation"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func toCredentialResponse(iss credential.Issued) credentialResponse {
	return credentialResponse{
		Secret:     base64.StdEncoding.EncodeToString(iss.Credential.Secret.Bytes()),
		NonceSeed:  base64.StdEncoding.EncodeToString(iss.Credential.NonceSeed.Bytes()),
		Generation: iss.Credential.Generation,
		ExpiresAt:  iss.Credential.ExpiresAt,
	}
}

// deviceScope resolves the device and checks p may act on its current
// facility. Unbound devices belong to no facility.
func (s *Server) deviceScope(r *http.Request, p bridge.Principal, uid string) (model.Device, model.Binding, error) {
	d, b, err := s.svc.Devices.Resolve(r.Context(), uid)
	if err != nil && !errors.Is(err, device.ErrNotBound) {
		return d, b, err
	}
	if b.FacilityID != "" {
		if _, err := bridge.FacilityScope(p, b.FacilityID); err != nil {
			return d, b, err
		}
	}
	return d, b, nil
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p bridge.Principal) {
	facility, err := bridge.FacilityScope(p, r.URL.Query().Get("facility"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	devices, err := s.svc.Devices.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		_, b, err := s.svc.Devices.Resolve(r.Context(), d.UID)
		if err != nil && !errors.Is(err, device.ErrNotBound) {
			s.writeError(w, r, err)
			return
		}
		if facility != "" && b.FacilityID != facility {
			continue
		}
		out = append(out, toDeviceResponse(d, b.FacilityID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

type registerRequest struct {
	UID string `json:"uid"`
}

func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p bridge.Principal) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.Devices.Register(r.Context(), p.ActorID, req.UID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceResponse(d, ""))
}

type bindRequest struct {
	FacilityID string `json:"facilityId"`
}

func (s *Server) handleDeviceBind(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	var req bindRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FacilityID == "" {
		s.writeError(w, r, device.ErrInvalidFacility)
		return
	}
	if _, err := bridge.FacilityScope(p, req.FacilityID); err != nil {
		s.writeError(w, r, err)
		return
	}
	uid := ps.ByName("uid")
	if _, _, err := s.deviceScope(r, p, uid); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, iss, err := s.svc.Devices.Bind(r.Context(), p.ActorID, uid, req.FacilityID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceUid":  b.DeviceUID,
		"facilityId": b.FacilityID,
		"credential": toCredentialResponse(iss),
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeviceUnbind(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	uid := ps.ByName("uid")
	if _, _, err := s.deviceScope(r, p, uid); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Devices.Unbind(r.Context(), p.ActorID, uid, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeviceRotate(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	uid := ps.ByName("uid")
	_, b, err := s.deviceScope(r, p, uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if b.FacilityID == "" {
		s.writeError(w, r, device.ErrNotBound)
		return
	}
	iss, err := s.svc.Issuer.Rotate(r.Context(), p.ActorID, uid, b.FacilityID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceUid":  uid,
		"facilityId": b.FacilityID,
		"credential": toCredentialResponse(iss),
	})
}

type statusRequest struct {
	Status model.DeviceStatus `json:"status"`
	Reason string             `json:"reason"`
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p bridge.Principal) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		s.writeError(w, r, badRequest("unknown status %q", req.Status))
		return
	}
	uid := ps.ByName("uid")
	if _, _, err := s.deviceScope(r, p, uid); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.Devices.SetStatus(r.Context(), p.ActorID, uid, req.Status, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(d, ""))
}
