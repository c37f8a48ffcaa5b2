// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bridge supplies the acting principal for operator requests. The
// facility/session layer is not part of Bandward; this bridge accepts the
// signed JWTs that layer hands out and turns them into Principals.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the coarse permission level of a principal.
type Role string

const (
	RoleAuditor  Role = "auditor"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleAuditor || r == RoleOperator || r == RoleAdmin
}

// rank orders roles so that a higher role includes the lower ones.
func (r Role) rank() int {
	switch r {
	case RoleAuditor:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Principal is the acting operator. FacilityID is empty only for principals
// that are not tied to one facility.
type Principal struct {
	ActorID    string `json:"actorId"`
	FacilityID string `json:"facilityId,omitempty"`
	Role       Role   `json:"role"`
}

// Require fails with ErrForbidden unless p holds at least role.
func (p Principal) Require(role Role) error {
	if p.Role.rank() < role.rank() {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, p.Role, role)
	}
	return nil
}

// FacilityScope returns the facility a request by p for requested must be
// restricted to. Admins may look at any facility, or all of them with an
// empty request. Everyone else is confined to their own facility.
func FacilityScope(p Principal, requested string) (string, error) {
	if p.Role == RoleAdmin {
		return requested, nil
	}
	if p.FacilityID == "" {
		return "", fmt.Errorf("%w: principal has no facility", ErrForbidden)
	}
	if requested != "" && requested != p.FacilityID {
		return "", fmt.Errorf("%w: facility %s", ErrForbidden, requested)
	}
	return p.FacilityID, nil
}

type claims struct {
	jwt.RegisteredClaims
	FacilityID string `json:"facility_id,omitempty"`
	Role       Role   `json:"role"`
}

// JWTBridge issues and verifies HS256 operator tokens.
type JWTBridge struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewJWTBridge(key []byte, issuer string, ttl time.Duration, clk clock.Clock) (*JWTBridge, error) {
	if len(key) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &JWTBridge{key: key, issuer: issuer, ttl: ttl, clock: clk}, nil
}

// Issue signs a token for p.
func (b *JWTBridge) Issue(p Principal) (string, error) {
	if strings.TrimSpace(p.ActorID) == "" {
		return "", errors.New("principal actor id is required")
	}
	if !p.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", p.Role)
	}
	now := b.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   p.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
		},
		FacilityID: p.FacilityID,
		Role:       p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(b.key)
}

// Verify checks signature, issuer and expiry of token and returns its
// principal. Every failure is ErrUnauthenticated.
func (b *JWTBridge) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return b.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(b.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.clock.Now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if parsed.Subject == "" || !parsed.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}
	return Principal{ActorID: parsed.Subject, FacilityID: parsed.FacilityID, Role: parsed.Role}, nil
}
