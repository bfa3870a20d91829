// Package auth verifies staff identity tokens and carries the resulting
// claims through the request context. Guests are unauthenticated and act in
// the client scope; staff surfaces require a signed token naming the
// employee and the scope the request operates in.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mesaops/models"
)

type contextKey string

const (
	contextKeyClaims contextKey = "claims"
)

const issuer = "mesaops"

// Claims is the verified identity of a staff request.
type Claims struct {
	EmployeeID uint
	Scope      models.Scope
}

// tokenClaims is the JWT payload shape.
type tokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens minted by IssueToken.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a verifier over the shared HMAC secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// IssueToken mints a token for an employee acting in the given scope.
func (v *Verifier) IssueToken(employeeID uint, scope models.Scope, ttl time.Duration) (string, error) {
	now := v.now()
	claims := tokenClaims{
		Scope: string(scope),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatUint(uint64(employeeID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates a compact token string.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	var payload tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &payload, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	employeeID, err := strconv.ParseUint(payload.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth: bad subject: %w", err)
	}
	scope, err := models.ParseScope(payload.Scope)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return &Claims{EmployeeID: uint(employeeID), Scope: scope}, nil
}

// WithClaims stores verified claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// FromContext returns the claims of an authenticated request, or nil for a
// guest request.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKeyClaims).(*Claims)
	return claims
}

// BearerToken extracts the compact token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware verifies the bearer token when present. Requests without a
// token continue as guests; scope enforcement happens per route.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := v.Verify(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireScope rejects requests whose claims do not carry one of the given
// scopes. Admin passes everywhere.
func RequireScope(scopes ...models.Scope) func(http.Handler) http.Handler {
	allowed := make(map[models.Scope]struct{}, len(scopes)+1)
	for _, s := range scopes {
		allowed[s] = struct{}{}
	}
	allowed[models.ScopeAdmin] = struct{}{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := FromContext(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Scope]; !ok {
				http.Error(w, `{"error":"scope not allowed"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestScope resolves the effective scope of a request: the token's scope
// for staff, client for guests.
func RequestScope(ctx context.Context) models.Scope {
	if claims := FromContext(ctx); claims != nil {
		return claims.Scope
	}
	return models.ScopeClient
}

// ActorID returns the employee ID of an authenticated request, or nil.
func ActorID(ctx context.Context) *uint {
	claims := FromContext(ctx)
	if claims == nil {
		return nil
	}
	id := claims.EmployeeID
	return &id
}
