package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/podgenhq/podgen-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Identity is the caller's verified identity as asserted by the external
// identity provider. The API does not mint these tokens; it only verifies
// them.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// IdentityClaims represents the typed JWT the identity provider issues.
type IdentityClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// ParseIdentityToken validates the token signature and returns the caller's identity.
func ParseIdentityToken(cfg config.IdentityConfig, tokenString string) (*Identity, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("identity secret is required")
	}

	claims := &IdentityClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("identity token missing subject")
	}

	return &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// MintIdentityToken issues a signed identity token. Production tokens come
// from the identity provider; this exists for local development and tests.
func MintIdentityToken(cfg config.IdentityConfig, now time.Time, identity Identity, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("identity secret is required")
	}
	if identity.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}

	claims := IdentityClaims{
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing identity token: %w", err)
	}
	return signed, nil
}
