// Package auth provides token verification for the dispatch API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Verifier validates bearer tokens and extracts role claims.
// Modes: dev (token is "role" or "role:driverId", no verification) and
// hmac (HS256 JWT against a shared secret).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	RoleClaim   string
	DriverClaim string
}

type Principal struct {
	Role     string
	DriverID string
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(os.Getenv("AUTH_HMAC_SECRET")),
		RoleClaim:   envOr("AUTH_ROLE_CLAIM", "role"),
		DriverClaim: envOr("AUTH_DRIVER_CLAIM", "sub"),
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		parts := strings.Split(token, ":")
		if parts[0] == "" {
			return Principal{}, errors.New("invalid dev token; expected role[:driverId]")
		}
		p := Principal{Role: parts[0]}
		if len(parts) > 1 {
			p.DriverID = parts[1]
		}
		return p, nil
	}

	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	hb, err := base64.RawURLEncoding.DecodeString(segs[0])
	if err != nil {
		return Principal{}, errors.New("invalid JWT header")
	}
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return Principal{}, errors.New("invalid JWT header")
	}
	if hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg")
	}
	if len(v.HMACSecret) == 0 {
		return Principal{}, errors.New("hmac secret not configured")
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil || !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("signature mismatch")
	}

	pb, err := base64.RawURLEncoding.DecodeString(segs[1])
	if err != nil {
		return Principal{}, errors.New("invalid JWT payload")
	}
	var claims map[string]any
	if err := json.Unmarshal(pb, &claims); err != nil {
		return Principal{}, errors.New("invalid JWT payload")
	}
	p := Principal{}
	if role, ok := claims[v.RoleClaim].(string); ok {
		p.Role = role
	}
	if id, ok := claims[v.DriverClaim].(string); ok {
		p.DriverID = id
	}
	if p.Role == "" {
		return Principal{}, errors.New("missing role claim")
	}
	return p, nil
}
