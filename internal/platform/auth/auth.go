// Package auth verifies bearer tokens and carries the caller's identity
// through request contexts.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoUser       = errors.New("no authenticated user in context")
)

// UserContext is the authenticated caller.
type UserContext struct {
	UserID string
	Email  string
}

// Claims are the JWT claims this service understands. The subject is the
// caller's user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// GetUserContext returns the caller stored in ctx.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(ctxKey{}).(UserContext)
	if !ok || uc.UserID == "" {
		return UserContext{}, ErrNoUser
	}
	return uc, nil
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier builds a verifier. Empty issuer/audience disable those checks.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

// ParseAndValidate verifies tokenStr and returns the caller it names.
func (v *Verifier) ParseAndValidate(tokenStr string) (UserContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := new(Claims)
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return UserContext{}, ErrInvalidToken
	}
	return UserContext{UserID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (v *Verifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		uc, err := v.ParseAndValidate(token)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uc)))
	})
}
