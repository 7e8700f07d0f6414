package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-portal/helios/internal/shared"
)

func middlewareFixture(t *testing.T) (Middleware, *mockStore) {
	t.Helper()
	store := newMockStore()
	store.users[1] = true
	store.permissions["content.view"] = 10
	store.permissions["content.edit"] = 11
	store.addTarget(KindRolePermission, 10)
	store.addTarget(KindRolePermission, 11)
	store.assignRole(1, 100)
	store.roleGrant(1, KindRolePermission, 100, 10, 0, PolarityGrant)
	return Middleware{Service: newTestService(t, store)}, store
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(t *testing.T, h http.Handler, principal int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if principal > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: principal}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAnyAllowsHolder(t *testing.T) {
	mw, _ := middlewareFixture(t)
	h := mw.RequireAny(shared.PermContentView)(okHandler())
	assert.Equal(t, http.StatusNoContent, serve(t, h, 1).Code)
}

func TestRequireAnyDeniesWithGenericForbidden(t *testing.T) {
	mw, _ := middlewareFixture(t)
	h := mw.RequireAny(shared.PermContentEdit)(okHandler())

	rec := serve(t, h, 1)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusForbidden)+"\n", rec.Body.String(), "body reveals no rule detail")
}

func TestRequireAnyWithoutPrincipal(t *testing.T) {
	mw, _ := middlewareFixture(t)
	h := mw.RequireAny(shared.PermContentView)(okHandler())
	assert.Equal(t, http.StatusForbidden, serve(t, h, 0).Code)
}

func TestRequireAnyAcceptsAlternative(t *testing.T) {
	mw, _ := middlewareFixture(t)
	h := mw.RequireAny(shared.PermContentEdit, shared.PermContentView)(okHandler())
	assert.Equal(t, http.StatusNoContent, serve(t, h, 1).Code)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	mw, store := middlewareFixture(t)
	h := mw.RequireAll(shared.PermContentView, shared.PermContentEdit)(okHandler())

	assert.Equal(t, http.StatusForbidden, serve(t, h, 1).Code)

	store.roleGrant(2, KindRolePermission, 100, 11, 0, PolarityGrant)
	assert.Equal(t, http.StatusNoContent, serve(t, h, 1).Code)
}

func TestRequireNoPermissionsPassesThrough(t *testing.T) {
	mw, _ := middlewareFixture(t)
	h := mw.RequireAny()(okHandler())
	assert.Equal(t, http.StatusNoContent, serve(t, h, 0).Code)
}
