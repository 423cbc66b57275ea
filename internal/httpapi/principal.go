package httpapi

import (
	"errors"
	"net/http"
)

// ErrUnauthorized is returned by principal providers when the request
// carries no usable kiosk identity.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated caller identity. Verification itself lives
// outside this module; the API only consumes the result.
type Principal struct {
	KioskID string
	Role    string
}

// PrincipalProvider extracts the authenticated principal from a request.
type PrincipalProvider interface {
	Authenticate(r *http.Request) (*Principal, error)
}

// HeaderPrincipals trusts identity headers set by the auth layer in front of
// this service.
type HeaderPrincipals struct{}

func (HeaderPrincipals) Authenticate(r *http.Request) (*Principal, error) {
	kioskID := r.Header.Get("X-Kiosk-ID")
	if kioskID == "" {
		return nil, ErrUnauthorized
	}
	role := r.Header.Get("X-Kiosk-Role")
	if role == "" {
		role = "kiosk"
	}
	return &Principal{KioskID: kioskID, Role: role}, nil
}

// StaticPrincipals authenticates every request as one fixed kiosk. Meant for
// single-kiosk deployments where the device itself is the trust boundary.
type StaticPrincipals struct {
	KioskID string
}

func (s StaticPrincipals) Authenticate(*http.Request) (*Principal, error) {
	if s.KioskID == "" {
		return nil, ErrUnauthorized
	}
	return &Principal{KioskID: s.KioskID, Role: "kiosk"}, nil
}
