package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Role     string // admin, dispatcher, driver
	DriverID string
}

// getPrincipal extracts the caller's role from a bearer token, falling back
// to X-Role/X-Driver-Id headers in dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Role: pr.Role, DriverID: pr.DriverID}
		}
	}
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "admin"
	}
	return Principal{Role: role, DriverID: r.Header.Get("X-Driver-Id")}
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanDispatch reports whether the principal may run assignments and mutate
// orders.
func (p Principal) CanDispatch() bool { return p.Role == "admin" || p.Role == "dispatcher" }
