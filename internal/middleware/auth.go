package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type principalKey struct{}

// Principal is the authenticated operator behind a request.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           Role
	Permissions    PermissionSet
}

// Claims are the operator token claims issued by the login service.
type Claims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Middleware verifies the bearer token and stores the Principal in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header format")
			return
		}

		principal, err := a.Authenticate(parts[1])
		if err != nil {
			a.logger.Debug("rejected token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Authenticate validates a raw token and resolves its principal.
func (a *Authenticator) Authenticate(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	if claims.UserID == "" || claims.OrganizationID == "" {
		return nil, errors.New("token is missing user_id or organization_id")
	}
	// Both claims are stored in UUID columns.
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	if _, err := uuid.Parse(claims.OrganizationID); err != nil {
		return nil, fmt.Errorf("organization_id: %w", err)
	}

	role := Role(strings.ToLower(claims.Role))
	perms, ok := PermissionsFor(role)
	if !ok {
		return nil, errors.New("unknown role " + claims.Role)
	}

	return &Principal{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Role:           role,
		Permissions:    perms,
	}, nil
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"kind":  kind,
	})
}
