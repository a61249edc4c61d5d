package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"school-copilot/internal/auth"
	"school-copilot/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator map[string]error

func (f fakeValidator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	if err, ok := f[token]; ok && err != nil {
		return nil, err
	}
	if _, ok := f[token]; !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: "u-" + token, Role: token}, nil
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) {
		p := GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "role": p.Role, "request_id": GetRequestID(c)})
	})
	return r
}

func get(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newEngine(RequestIDMiddleware())

	w := get(r, map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"req-42"`)

	w = get(r, nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	w = get(r, map[string]string{RequestIDHeader: "bad id\twith spaces"})
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRequireAuth(t *testing.T) {
	validator := fakeValidator{
		models.RoleTeacher: nil,
		"revoked":          auth.ErrRevokedToken,
	}
	r := newEngine(NewAuthMiddleware(validator).RequireAuth())

	w := get(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, map[string]string{"Authorization": "Bearer unknown"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid or expired token")

	w = get(r, map[string]string{"Authorization": "Bearer revoked"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")

	w = get(r, map[string]string{"Authorization": "Bearer teacher"})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u-teacher", body["user_id"])
	assert.Equal(t, models.RoleTeacher, body["role"])
}

func TestRequireRole(t *testing.T) {
	validator := fakeValidator{models.RoleStudent: nil, models.RoleAdmin: nil, models.RoleTeacher: nil}
	authn := NewAuthMiddleware(validator).RequireAuth()

	w := get(newEngine(StaffGuard()), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	staff := newEngine(authn, StaffGuard())
	w = get(staff, map[string]string{"Authorization": "Bearer student"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "required_roles")

	for _, role := range []string{models.RoleTeacher, models.RoleAdmin} {
		w = get(staff, map[string]string{"Authorization": "Bearer " + role})
		assert.Equal(t, http.StatusOK, w.Code, role)
	}

	admin := newEngine(authn, AdminGuard())
	w = get(admin, map[string]string{"Authorization": "Bearer teacher"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestObservabilityMiddlewareWithoutMetrics(t *testing.T) {
	r := newEngine(RequestIDMiddleware(), MetricsMiddleware(nil), RequestLogger())
	w := get(r, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
