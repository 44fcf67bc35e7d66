package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testUserID = "7e6d5c4b-3a29-4188-9776-655443322171"
	testOrgID  = "6f1c2a44-6a8e-4c44-9c55-0d7e3c9a1b01"
)

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(role string) Claims {
	return Claims{
		UserID:         testUserID,
		OrganizationID: testOrgID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	auth := NewAuthenticator(testSecret, zap.NewNop())

	var seen *Principal
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, "other", validClaims("operator")), http.StatusUnauthorized},
		{"unknown role", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("guest")), http.StatusUnauthorized},
		{"non-uuid user", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, Claims{UserID: "op-1", OrganizationID: testOrgID, Role: "operator"}), http.StatusUnauthorized},
		{"valid operator", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("operator")), http.StatusNoContent},
		{"case-insensitive scheme and role", "bearer " + signToken(t, jwt.SigningMethodHS512, testSecret, validClaims("Admin")), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Nil(t, seen)
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "UNAUTHORIZED", body["kind"])
			} else {
				require.NotNil(t, seen)
				assert.Equal(t, testUserID, seen.UserID)
				assert.Equal(t, testOrgID, seen.OrganizationID)
				assert.True(t, seen.Permissions.Has(PermPurchase))
			}
		})
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	auth := NewAuthenticator(testSecret, zap.NewNop())

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims("operator")
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := auth.Authenticate(signToken(t, jwt.SigningMethodHS256, testSecret, claims))
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("missing organization", func(t *testing.T) {
		claims := validClaims("operator")
		claims.OrganizationID = ""
		_, err := auth.Authenticate(signToken(t, jwt.SigningMethodHS256, testSecret, claims))
		assert.Error(t, err)
	})

	t.Run("ids must be uuids", func(t *testing.T) {
		claims := validClaims("operator")
		claims.UserID = "op-1"
		_, err := auth.Authenticate(signToken(t, jwt.SigningMethodHS256, testSecret, claims))
		assert.ErrorContains(t, err, "user_id")

		claims = validClaims("operator")
		claims.OrganizationID = "org-1"
		_, err = auth.Authenticate(signToken(t, jwt.SigningMethodHS256, testSecret, claims))
		assert.ErrorContains(t, err, "organization_id")
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("operator")).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.Authenticate(token)
		assert.Error(t, err)
	})

	t.Run("superadmin", func(t *testing.T) {
		p, err := auth.Authenticate(signToken(t, jwt.SigningMethodHS384, testSecret, validClaims("superadmin")))
		require.NoError(t, err)
		assert.Equal(t, RoleSuperAdmin, p.Role)
	})
}
