// Package auth issues and validates bearer tokens and carries the resulting
// identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

const issuer = "jal-rakshak"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by every bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts the claims to the identity seen by the rest of the system.
func (c *Claims) Identity() *ontology.Identity {
	return &ontology.Identity{ID: c.UserID, Email: c.Email, Name: c.Name, Role: c.Role}
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue creates a signed token for the identity.
func (s *TokenService) Issue(id ontology.Identity) (string, time.Time, error) {
	if id.ID == "" {
		return "", time.Time{}, fmt.Errorf("issue token: user id is required")
	}
	if !ontology.ValidRole(id.Role) {
		return "", time.Time{}, fmt.Errorf("issue token: unknown role %q", id.Role)
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)
	claims := &Claims{
		UserID: id.ID,
		Email:  id.Email,
		Name:   id.Name,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate checks signature, expiry and issuer and returns the claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate validates a raw token and returns the identity it carries.
func (s *TokenService) Authenticate(tokenString string) (*ontology.Identity, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Identity(), nil
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *ontology.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the identity stored in ctx, or nil.
func FromContext(ctx context.Context) *ontology.Identity {
	id, _ := ctx.Value(identityContextKey).(*ontology.Identity)
	return id
}

// ContextProvider resolves the current user from the request context.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (*ontology.Identity, error) {
	return FromContext(ctx), nil
}
