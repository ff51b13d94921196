package iam_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve routes one request through the IAM routes as caller. A nil caller
// sends an anonymous request.
func serve(t *testing.T, f *fixture, caller *iam.Identity, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	router := mux.NewRouter()
	iam.NewHandlers(f.svc, nil).RegisterRoutes(router)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(iam.WithIdentity(req.Context(), caller))
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) caller() *iam.Identity {
	return &iam.Identity{UserID: f.user, RestaurantID: f.restaurant}
}

func (f *fixture) superadmin() *iam.Identity {
	return &iam.Identity{UserID: f.admin, RestaurantID: f.restaurant, IsSuperadmin: true}
}

// addGuardFeature registers a catalog feature the admin routes guard on
func (f *fixture) addGuardFeature(t *testing.T, key string) iam.Feature {
	t.Helper()
	feature := iam.Feature{SubmoduleID: f.submodule.ID, Key: key, Name: key, SortOrder: 10}
	require.NoError(t, f.store.UpsertFeature(context.Background(), &feature))
	return feature
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHandlersRequireIdentity(t *testing.T) {
	f := newFixture(t)

	for _, route := range []struct{ method, path string }{
		{"GET", "/iam/tree"},
		{"POST", "/iam/check"},
		{"GET", "/iam/features"},
		{"GET", "/iam/roles"},
		{"POST", "/iam/entitlements/bulk"},
	} {
		rr := serve(t, f, nil, route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, route.path)
	}
}

func TestGetPermissionTree(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "marketer", iam.Grant{FeatureID: f.email.ID, ActionID: f.read.ID, Allowed: true})

	rr := serve(t, f, f.caller(), "GET", "/iam/tree", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")

	var snapshot iam.Snapshot
	decode(t, rr, &snapshot)
	assert.Equal(t, f.user, snapshot.UserID)
	node, ok := snapshot.Find("campaigns.email", "read")
	require.True(t, ok)
	assert.True(t, node.Allowed)
}

func TestGetPermissionTreeSuperadminTargetsRestaurant(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	rr := serve(t, f, f.superadmin(), "GET", "/iam/tree?restaurantId="+other.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snapshot iam.Snapshot
	decode(t, rr, &snapshot)
	assert.Equal(t, other, snapshot.RestaurantID)

	// Non-superadmins cannot switch tenants
	rr = serve(t, f, f.caller(), "GET", "/iam/tree?restaurantId="+other.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &snapshot)
	assert.Equal(t, f.restaurant, snapshot.RestaurantID)

	rr = serve(t, f, f.caller(), "GET", "/iam/tree?restaurantId=abc", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, f, f.superadmin(), "GET", "/iam/tree?restaurantId=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckPermissionHandler(t *testing.T) {
	f := newFixture(t)

	rr := serve(t, f, f.caller(), "POST", "/iam/check", map[string]string{"featureKey": "campaigns.email", "actionKey": "read"})
	require.Equal(t, http.StatusOK, rr.Code)
	var d iam.Decision
	decode(t, rr, &d)
	assert.False(t, d.Allowed)
	assert.Equal(t, iam.ReasonDefaultDenied, d.Reason)

	rr = serve(t, f, f.caller(), "POST", "/iam/check", map[string]string{"featureKey": "campaigns.email"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, f, &iam.Identity{UserID: f.user}, "POST", "/iam/check", map[string]string{"featureKey": "a", "actionKey": "b"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGuardDeniesWithReason(t *testing.T) {
	f := newFixture(t)
	f.addGuardFeature(t, "roles.manage")

	rr := serve(t, f, f.caller(), "GET", "/iam/roles", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var denied iam.DeniedResponse
	decode(t, rr, &denied)
	assert.False(t, denied.Locked)
	assert.Equal(t, iam.ReasonDefaultDenied, denied.Reason)
}

func TestGuardReportsEntitlementLock(t *testing.T) {
	f := newFixture(t)
	guard := f.addGuardFeature(t, "roles.manage")
	f.grantRole(t, "admin", iam.Grant{FeatureID: guard.ID, ActionID: f.read.ID, Allowed: true})

	rr := serve(t, f, f.caller(), "GET", "/iam/roles", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := f.svc.SetRestaurantEntitlements(f.ctx(), f.restaurant, []iam.Entitlement{
		{EntityType: iam.EntityFeature, EntityID: guard.ID, Status: iam.StatusLocked},
	})
	require.NoError(t, err)

	rr = serve(t, f, f.caller(), "GET", "/iam/roles", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var denied iam.DeniedResponse
	decode(t, rr, &denied)
	assert.True(t, denied.Locked)
	assert.Equal(t, iam.ReasonLocked, denied.Reason)
}

func TestRoleRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.superadmin()

	rr := serve(t, f, admin, "POST", "/iam/roles", map[string]interface{}{"key": "manager", "name": "Manager"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var role iam.Role
	decode(t, rr, &role)
	assert.Equal(t, f.restaurant, role.RestaurantID)

	rr = serve(t, f, admin, "POST", "/iam/roles", map[string]interface{}{"key": "manager", "name": "Dup"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, f, admin, "PATCH", "/iam/roles/"+role.ID.String(), map[string]string{"name": "Boss"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, f, admin, "PATCH", "/iam/roles/not-a-uuid", map[string]string{"name": "Boss"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, f, admin, "PATCH", "/iam/roles/"+uuid.NewString(), map[string]string{"name": "Boss"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, f, admin, "POST", "/iam/roles/"+role.ID.String()+"/permissions", map[string]interface{}{
		"permissions": []iam.Grant{{FeatureID: f.email.ID, ActionID: f.write.ID, Allowed: true}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, f, admin, "GET", "/iam/roles/"+role.ID.String()+"/permissions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var grants []iam.GrantView
	decode(t, rr, &grants)
	require.Len(t, grants, 1)
	assert.Equal(t, "write", grants[0].ActionKey)

	rr = serve(t, f, admin, "POST", "/iam/users/"+f.user.String()+"/roles", map[string]interface{}{"roleId": role.ID})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, f.check(t, "campaigns.email", "write").Allowed)

	rr = serve(t, f, admin, "DELETE", "/iam/users/"+f.user.String()+"/roles", map[string]interface{}{"roleId": role.ID})
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, f.check(t, "campaigns.email", "write").Allowed)

	rr = serve(t, f, admin, "GET", "/iam/roles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var roles []iam.Role
	decode(t, rr, &roles)
	assert.Len(t, roles, 1)

	rr = serve(t, f, admin, "DELETE", "/iam/roles/"+role.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestOverrideRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.superadmin()
	base := "/iam/users/" + f.user.String() + "/overrides"

	rr := serve(t, f, admin, "POST", base, map[string]interface{}{
		"overrides": []iam.Grant{{FeatureID: f.sms.ID, ActionID: f.read.ID, Allowed: true}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, f, admin, "GET", base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var overrides []iam.GrantView
	decode(t, rr, &overrides)
	require.Len(t, overrides, 1)

	rr = serve(t, f, admin, "DELETE", base+"/"+f.sms.ID.String()+"/1", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, f, admin, "DELETE", base+"/"+f.sms.ID.String()+"/one", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEntitlementRoutes(t *testing.T) {
	f := newFixture(t)
	admin := f.superadmin()
	other := uuid.New()

	rr := serve(t, f, admin, "POST", "/iam/entitlements", map[string]interface{}{
		"entitlements": []map[string]interface{}{
			{"entityType": "module", "entityId": f.module.ID, "status": "locked"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var result map[string]int
	decode(t, rr, &result)
	assert.Equal(t, 1, result["createdCount"])
	assert.Equal(t, 0, result["updatedCount"])

	rr = serve(t, f, admin, "POST", "/iam/entitlements", map[string]interface{}{
		"entitlements": []map[string]interface{}{
			{"entityType": "feature", "entityId": uuid.New(), "status": "locked"},
		},
	})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var errBody map[string]string
	decode(t, rr, &errBody)
	assert.Equal(t, "Error bulk setting restaurant entitlements", errBody["error"])

	rr = serve(t, f, admin, "GET", "/iam/restaurants/"+f.restaurant.String()+"/entitlements", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var entitlements []iam.Entitlement
	decode(t, rr, &entitlements)
	require.Len(t, entitlements, 1)

	rr = serve(t, f, f.caller(), "DELETE", "/iam/entitlements", map[string]interface{}{"entityType": "module", "entityId": f.module.ID})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	systemWide := &iam.Identity{UserID: f.admin, IsSuperadmin: true}
	rr = serve(t, f, systemWide, "POST", "/iam/entitlements/bulk", map[string]interface{}{
		"entitlements": []map[string]interface{}{
			{"restaurantId": other, "entityType": "module", "entityId": f.module.ID, "status": "hidden"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, f, systemWide, "DELETE", "/iam/entitlements", map[string]interface{}{"entityType": "module", "entityId": f.module.ID})
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, int64(2), f.version(t, f.restaurant))
	assert.Equal(t, int64(2), f.version(t, other))

	rr = serve(t, f, systemWide, "DELETE", "/iam/entitlements", map[string]interface{}{"entityType": "menu", "entityId": f.module.ID})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadingAnotherRestaurantsEntitlementsIsForbidden(t *testing.T) {
	f := newFixture(t)
	guard := f.addGuardFeature(t, "entitlements.manage")
	f.grantRole(t, "billing", iam.Grant{FeatureID: guard.ID, ActionID: f.read.ID, Allowed: true})

	rr := serve(t, f, f.caller(), "GET", "/iam/restaurants/"+uuid.NewString()+"/entitlements", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, f, f.caller(), "GET", "/iam/restaurants/"+f.restaurant.String()+"/entitlements", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCatalogRoutes(t *testing.T) {
	f := newFixture(t)

	rr := serve(t, f, f.caller(), "GET", "/iam/features", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var features []iam.CatalogFeature
	decode(t, rr, &features)
	assert.Len(t, features, 2)

	rr = serve(t, f, f.caller(), "GET", "/iam/actions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var actions []iam.Action
	decode(t, rr, &actions)
	assert.Len(t, actions, 2)
}

func TestRequireRejectsMalformedPermission(t *testing.T) {
	f := newFixture(t)
	guard := iam.NewPermissionMiddleware(f.svc)

	assert.Panics(t, func() { guard.Require("nocolon") })
	assert.Panics(t, func() { guard.Require("trailing:") })
	assert.NotPanics(t, func() { guard.Require("admin:users:update") })
}
