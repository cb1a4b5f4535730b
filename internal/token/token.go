// Package token inspects bearer tokens without verifying them. The backend
// is the authority; this only lets the CLI warn before a long run starts
// with a token that has already expired.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotJWT is returned for opaque tokens such as session keys.
	ErrNotJWT = errors.New("token is not a JWT")
	// ErrExpired is returned by Check when exp is in the past.
	ErrExpired = errors.New("token expired")
)

// Info is the subset of claims worth showing an operator.
type Info struct {
	Subject   string         `json:"subject,omitempty"`
	Issuer    string         `json:"issuer,omitempty"`
	Audience  []string       `json:"audience,omitempty"`
	IssuedAt  *time.Time     `json:"issued_at,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Claims    map[string]any `json:"claims"`
}

// Expired reports whether the token's exp is at or before now. Tokens
// without exp never expire.
func (i *Info) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Remaining is the time left before expiry, or zero when there is no exp.
func (i *Info) Remaining(now time.Time) time.Duration {
	if i.ExpiresAt == nil {
		return 0
	}
	return i.ExpiresAt.Sub(now)
}

// Inspect decodes raw's claims without checking the signature.
func Inspect(raw string) (*Info, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	info := &Info{Claims: claims}
	info.Subject, _ = claims.GetSubject()
	info.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		info.Audience = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		info.IssuedAt = &t
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
	}
	return info, nil
}

// Check returns ErrExpired for an expired JWT. Opaque tokens pass.
func Check(raw string, now time.Time) error {
	info, err := Inspect(raw)
	if errors.Is(err, ErrNotJWT) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Expired(now) {
		return fmt.Errorf("%w at %s", ErrExpired, info.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
