// Package auth guards the render API with HS256 bearer tokens.
//
// Authentication is optional: with no JWT secret configured every request
// passes. Tokens can be revoked before they expire; revocations live in
// Redis when a client is available.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"laminate/internal/common/errors"
	"laminate/internal/common/logging"
	"laminate/internal/config"
)

const (
	// Issuer is the iss claim of every token minted here
	Issuer = "laminate"
	// DefaultTokenTTL is used when GenerateJWT is given no lifetime
	DefaultTokenTTL = 24 * time.Hour

	revokedPrefix = "jwt:revoked:"
)

// RedisClient is the subset of the Redis client used for revocations
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Claims identify the caller of the render API
type Claims struct {
	// Scopes limit what the token may do; "write" allows storing templates
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type Auth struct {
	secret []byte
	redis  RedisClient
	logger logging.Logger
}

// New creates the authenticator. redisClient may be nil, in which case
// revocation is unavailable.
func New(cfg *config.Config, redisClient RedisClient) *Auth {
	return &Auth{
		secret: []byte(cfg.JWTSecret),
		redis:  redisClient,
		logger: logging.ForComponent("auth"),
	}
}

// Enabled reports whether a secret is configured
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateJWT mints a token for subject
func (a *Auth) GenerateJWT(subject string, scopes []string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.ConfigError("JWT_SECRET is not set")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT parses and verifies a token. Only HS256 is accepted.
func (a *Auth) ValidateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid token")
	}

	if a.isRevoked(ctx, tokenString) {
		return nil, errors.AuthError("token has been revoked")
	}
	return claims, nil
}

// Revoke blocks a token until it would have expired anyway
func (a *Auth) Revoke(ctx context.Context, tokenString string) error {
	if a.redis == nil {
		return errors.ConfigError("token revocation requires Redis")
	}

	claims, err := a.ValidateJWT(ctx, tokenString)
	if err != nil {
		// already unusable
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := a.redis.Set(ctx, revokedPrefix+tokenString, "1", ttl); err != nil {
		return errors.ConnectionError("failed to revoke token", err)
	}
	return nil
}

func (a *Auth) isRevoked(ctx context.Context, tokenString string) bool {
	if a.redis == nil {
		return false
	}
	value, err := a.redis.Get(ctx, revokedPrefix+tokenString)
	return err == nil && value != ""
}

type claimsKey struct{}

// ClaimsFromContext returns the claims RequireAuth attached to a request
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// RequireAuth rejects requests without a valid bearer token. When auth is
// disabled it passes every request through.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(r.Context(), tokenString)
		if err != nil {
			a.logger.WithContext(r.Context()).Warn("Rejected token", logging.Field{Key: "reason", Value: err.Error()})
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = logging.ContextWithSubject(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated requests whose token lacks scope
func (a *Auth) RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.HasScope(scope) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "Token lacks scope " + scope})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="laminate"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
