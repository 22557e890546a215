package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
)

// TokenVerifier validates HS256 bearer tokens issued by the platform auth service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

type settlementClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify returns the subject and role carried by a valid token.
func (v *TokenVerifier) Verify(raw string) (string, string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &settlementClaims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", "", err
	}
	claims, ok := parsed.Claims.(*settlementClaims)
	if !ok || !parsed.Valid {
		return "", "", errors.New("invalid token claims")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", "", errors.New("token has no subject")
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case application.RoleAdmin, application.RoleSystem, application.RoleBrand, application.RoleInfluencer:
	default:
		return "", "", fmt.Errorf("unsupported role %q", claims.Role)
	}
	return subject, role, nil
}
