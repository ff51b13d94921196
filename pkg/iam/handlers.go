package iam

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/restaurant-iam/pkg/httputil"
	"github.com/platinummonkey/restaurant-iam/pkg/observability"
)

// Handlers provides the admin HTTP API over a Service
type Handlers struct {
	service *Service
	guard   *PermissionMiddleware
	logger  *observability.Logger
}

// NewHandlers creates new IAM handlers
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{
		service: service,
		guard:   NewPermissionMiddleware(service),
		logger:  logger,
	}
}

// Guard returns the permission middleware, for mounting domain routes
func (h *Handlers) Guard() *PermissionMiddleware {
	return h.guard
}

// RegisterRoutes registers all IAM routes under /iam
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/iam").Subrouter()

	identity := h.guard.RequireIdentity
	superadmin := h.guard.RequireSuperadmin
	perm := h.guard.Require

	// Caller's own view
	r.Handle("/tree", identity(http.HandlerFunc(h.GetPermissionTree))).Methods("GET")
	r.Handle("/check", identity(http.HandlerFunc(h.CheckPermission))).Methods("POST")
	r.Handle("/features", identity(http.HandlerFunc(h.ListFeatures))).Methods("GET")
	r.Handle("/actions", identity(http.HandlerFunc(h.ListActions))).Methods("GET")

	// Roles
	r.Handle("/roles", perm("roles.manage:read")(http.HandlerFunc(h.ListRoles))).Methods("GET")
	r.Handle("/roles", perm("roles.manage:create")(http.HandlerFunc(h.CreateRole))).Methods("POST")
	r.Handle("/roles/{id}", perm("roles.manage:update")(http.HandlerFunc(h.UpdateRole))).Methods("PATCH")
	r.Handle("/roles/{id}", perm("roles.manage:delete")(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")
	r.Handle("/roles/{id}/permissions", perm("roles.manage:read")(http.HandlerFunc(h.GetRolePermissions))).Methods("GET")
	r.Handle("/roles/{id}/permissions", perm("roles.manage:update")(http.HandlerFunc(h.SetRolePermissions))).Methods("POST")

	// User roles and overrides
	r.Handle("/users/{id}/roles", perm("admin:users:update")(http.HandlerFunc(h.AssignUserRole))).Methods("POST")
	r.Handle("/users/{id}/roles", perm("admin:users:update")(http.HandlerFunc(h.RemoveUserRole))).Methods("DELETE")
	r.Handle("/users/{id}/overrides", perm("users.manage:read")(http.HandlerFunc(h.GetUserOverrides))).Methods("GET")
	r.Handle("/users/{id}/overrides", perm("admin:users:update")(http.HandlerFunc(h.SetUserOverrides))).Methods("POST")
	r.Handle("/users/{id}/overrides/{featureId}/{actionId}", perm("admin:users:update")(http.HandlerFunc(h.DeleteUserOverride))).Methods("DELETE")

	// Entitlements
	r.Handle("/restaurants/{restaurantId}/entitlements", perm("entitlements.manage:read")(http.HandlerFunc(h.GetRestaurantEntitlements))).Methods("GET")
	r.Handle("/entitlements", perm("entitlements.manage:update")(http.HandlerFunc(h.SetRestaurantEntitlements))).Methods("POST")
	r.Handle("/entitlements/bulk", superadmin(http.HandlerFunc(h.SetEntitlementsBulk))).Methods("POST")
	r.Handle("/entitlements", superadmin(http.HandlerFunc(h.RemoveEntitlement))).Methods("DELETE")
}

// caller returns the identity and target restaurant of the request, writing
// the error response itself when either is unusable
func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (*Identity, uuid.UUID, bool) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		httputil.WriteUnauthorized(w, "Authentication required")
		return nil, uuid.Nil, false
	}
	restaurantID, err := requestTenant(r, id)
	if err != nil {
		h.fail(w, r, err)
		return nil, uuid.Nil, false
	}
	return id, restaurantID, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if StatusCode(err) >= http.StatusInternalServerError {
		observability.UpdateLoggerWithTraceContext(r.Context(), h.logger).WithError(err).
			WithField("path", r.URL.Path).
			Error("iam request failed")
	}
	httputil.WriteServiceError(w, err)
}

// GetPermissionTree returns the caller's full permission snapshot
func (h *Handlers) GetPermissionTree(w http.ResponseWriter, r *http.Request) {
	id, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.BuildSnapshot(r.Context(), restaurantID, id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoStore(w)
	httputil.WriteSuccess(w, snapshot)
}

type checkRequest struct {
	FeatureKey string `json:"featureKey"`
	ActionKey  string `json:"actionKey"`
}

// CheckPermission answers a single permission question for the caller
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	id, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	decision, err := h.service.CheckPermission(r.Context(), restaurantID, id.UserID, req.FeatureKey, req.ActionKey, id.IsSuperadmin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

// ListFeatures returns the catalog features
func (h *Handlers) ListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.service.ListFeatures(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, features)
}

// ListActions returns the catalog actions
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.ListActions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, actions)
}

// ListRoles lists the roles of the caller's restaurant
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	roles, err := h.service.ListRoles(r.Context(), restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

type createRoleRequest struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	IsSystem bool   `json:"isSystem"`
}

// CreateRole creates a role in the caller's restaurant
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), restaurantID, req.Key, req.Name, req.IsSystem)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

type updateRoleRequest struct {
	Name string `json:"name"`
}

// UpdateRole renames a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), roleID, restaurantID, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), roleID, restaurantID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRolePermissions returns a role's grants
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	grants, err := h.service.GetRolePermissions(r.Context(), roleID, restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type rolePermissionsRequest struct {
	Permissions []Grant `json:"permissions"`
}

// SetRolePermissions replaces a role's grants
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req rolePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.SetRolePermissions(r.Context(), roleID, restaurantID, req.Permissions); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roleId":  roleID,
		"message": "Role permissions updated",
	})
}

type userRoleRequest struct {
	RoleID uuid.UUID `json:"roleId"`
}

// AssignUserRole grants a role to the user in the path
func (h *Handlers) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req userRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.AssignUserRole(r.Context(), userID, restaurantID, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, UserRole{UserID: userID, RestaurantID: restaurantID, RoleID: req.RoleID})
}

// RemoveUserRole unlinks a role from the user in the path
func (h *Handlers) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req userRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.RemoveUserRole(r.Context(), userID, restaurantID, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserOverrides returns the overrides of the user in the path
func (h *Handlers) GetUserOverrides(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	overrides, err := h.service.GetUserPermissionOverrides(r.Context(), userID, restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

type overridesRequest struct {
	Overrides []Grant `json:"overrides"`
}

// SetUserOverrides replaces the overrides of the user in the path
func (h *Handlers) SetUserOverrides(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req overridesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.SetUserPermissionOverride(r.Context(), userID, restaurantID, req.Overrides); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"userId":  userID,
		"message": "User overrides updated",
	})
}

// DeleteUserOverride removes one override
func (h *Handlers) DeleteUserOverride(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	featureID, ok := httputil.ParsePathUUIDOrError(w, r, "featureId")
	if !ok {
		return
	}
	actionID, ok := httputil.ParsePathInt64OrError(w, r, "actionId")
	if !ok {
		return
	}

	if err := h.service.DeleteUserPermissionOverride(r.Context(), userID, restaurantID, featureID, actionID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetRestaurantEntitlements returns the entitlements of the restaurant in
// the path. Only superadmins may read another restaurant's.
func (h *Handlers) GetRestaurantEntitlements(w http.ResponseWriter, r *http.Request) {
	id, callerRestaurant, ok := h.caller(w, r)
	if !ok {
		return
	}
	restaurantID, ok := httputil.ParsePathUUIDOrError(w, r, "restaurantId")
	if !ok {
		return
	}
	if !id.IsSuperadmin && restaurantID != callerRestaurant {
		h.fail(w, r, Forbiddenf("Cannot read entitlements of another restaurant"))
		return
	}

	entitlements, err := h.service.GetRestaurantEntitlements(r.Context(), restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entitlements)
}

type entitlementsRequest struct {
	Entitlements []Entitlement `json:"entitlements"`
}

// SetRestaurantEntitlements upserts entitlements of the caller's restaurant
func (h *Handlers) SetRestaurantEntitlements(w http.ResponseWriter, r *http.Request) {
	_, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req entitlementsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.SetRestaurantEntitlements(r.Context(), restaurantID, req.Entitlements)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// SetEntitlementsBulk upserts entitlements across restaurants
func (h *Handlers) SetEntitlementsBulk(w http.ResponseWriter, r *http.Request) {
	id, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req entitlementsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.SetEntitlementsBulk(r.Context(), restaurantID, req.Entitlements, id.IsSuperadmin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type removeEntitlementRequest struct {
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
}

// RemoveEntitlement deletes an entitlement from the target restaurant, or
// from every restaurant when the superadmin caller has none
func (h *Handlers) RemoveEntitlement(w http.ResponseWriter, r *http.Request) {
	id, restaurantID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req removeEntitlementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	entityType, err := ParseEntityType(req.EntityType)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if _, err := h.service.RemoveEntitlement(r.Context(), restaurantID, entityType, req.EntityID, id.IsSuperadmin); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
