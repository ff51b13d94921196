package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/contextkeys"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(m *IdentityMiddleware, headers map[string]string) (*httptest.ResponseRecorder, *iam.Identity, bool) {
	var seen *iam.Identity
	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/iam/tree", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen, called
}

func TestIdentityMiddleware_ValidHeaders(t *testing.T) {
	user, restaurant := uuid.New(), uuid.New()

	rr, id, called := run(NewIdentityMiddleware(false), map[string]string{
		HeaderUserID:       user.String(),
		HeaderRestaurantID: restaurant.String(),
		HeaderSuperadmin:   "true",
	})

	require.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, id)
	assert.Equal(t, user, id.UserID)
	assert.Equal(t, restaurant, id.RestaurantID)
	assert.True(t, id.IsSuperadmin)
}

func TestIdentityMiddleware_UserOnly(t *testing.T) {
	user := uuid.New()

	_, id, called := run(NewIdentityMiddleware(false), map[string]string{HeaderUserID: user.String()})

	require.True(t, called)
	require.NotNil(t, id)
	assert.Equal(t, uuid.Nil, id.RestaurantID)
	assert.False(t, id.IsSuperadmin)
}

func TestIdentityMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing user", map[string]string{}, http.StatusUnauthorized},
		{"bad user", map[string]string{HeaderUserID: "bob"}, http.StatusUnauthorized},
		{"nil user", map[string]string{HeaderUserID: uuid.Nil.String()}, http.StatusUnauthorized},
		{"bad restaurant", map[string]string{HeaderUserID: uuid.NewString(), HeaderRestaurantID: "42"}, http.StatusBadRequest},
		{"bad superadmin", map[string]string{HeaderUserID: uuid.NewString(), HeaderSuperadmin: "sure"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _, called := run(NewIdentityMiddleware(false), tt.headers)
			assert.False(t, called)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
		})
	}
}

func TestIdentityMiddleware_Optional(t *testing.T) {
	rr, id, called := run(NewIdentityMiddleware(true), map[string]string{})

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, id)
}

func TestIdentityMiddleware_SetsUserIDForLogging(t *testing.T) {
	user := uuid.New()
	var logged string

	handler := NewIdentityMiddleware(false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logged = contextkeys.GetUserID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderUserID, user.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, user.String(), logged)
}
