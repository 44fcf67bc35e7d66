package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPermissionsFor(t *testing.T) {
	for _, role := range []Role{RoleOperator, RoleAdmin, RoleSuperAdmin} {
		set, ok := PermissionsFor(role)
		assert.True(t, ok, role)
		for _, p := range []Permission{PermPurchase, PermTopUp, PermViewTransactions, PermViewStats, PermScan, PermViewCustomers} {
			assert.True(t, set.Has(p), "%s should have %s", role, p)
		}
	}

	operator, _ := PermissionsFor(RoleOperator)
	assert.False(t, operator.Has(PermManageCustomers))
	for _, role := range []Role{RoleAdmin, RoleSuperAdmin} {
		set, _ := PermissionsFor(role)
		assert.True(t, set.Has(PermManageCustomers), role)
	}

	_, ok := PermissionsFor("guest")
	assert.False(t, ok)
}

func TestRequire(t *testing.T) {
	r := chi.NewRouter()
	r.With(Require(PermTopUp, zap.NewNop())).Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{
			UserID:      "op-1",
			Permissions: NewPermissionSet(PermScan),
		}))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "FORBIDDEN")
	})

	t.Run("granted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{
			UserID:      "op-1",
			Permissions: NewPermissionSet(PermTopUp),
		}))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
