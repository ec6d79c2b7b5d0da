// Package auth issues and validates the bearer tokens that carry the caller's identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims of an actor. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 tokens
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWTService creates a JWTService. An empty issuer is neither set nor checked.
func NewJWTService(secret, issuer string, ttl time.Duration) (*JWTService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// GenerateToken issues a token for actor
func (j *JWTService) GenerateToken(actor domain.Actor) (string, error) {
	if !actor.IsAuthenticated() {
		return "", fmt.Errorf("%w: actor id is required", domain.ErrValidation)
	}
	role, err := ParseRole(string(actor.Role))
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken verifies tokenString and returns the actor it names
func (j *JWTService) ValidateToken(tokenString string) (domain.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Actor{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

// ParseRole accepts the known role names, case-insensitively
func ParseRole(s string) (domain.Role, error) {
	switch role := domain.Role(strings.ToLower(strings.TrimSpace(s))); role {
	case domain.RoleMember, domain.RoleEditor, domain.RoleSteward, domain.RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrValidation, s)
	}
}
