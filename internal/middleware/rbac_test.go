package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kentpulse/kentpulse-api/internal/models"
)

func serveWithClaims(t *testing.T, mw gin.HandlerFunc, claims *models.JWTClaims, path string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
	})
	router.GET("/resource/:id", mw, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(recorder, req)
	return recorder.Code
}

func TestRBACAllowsListedRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin}
	code := serveWithClaims(t, RBAC(string(models.RoleAdmin)), claims, "/resource/x")
	if code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", code)
	}
}

func TestRBACRejectsMissingClaims(t *testing.T) {
	code := serveWithClaims(t, RBAC(string(models.RoleAdmin)), nil, "/resource/x")
	if code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", code)
	}
}

func TestRBACRejectsUnlistedRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleCitizen}
	code := serveWithClaims(t, RBAC(string(models.RoleAdmin)), claims, "/resource/x")
	if code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", code)
	}
}

func TestRBACSelfMatchesPathParam(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleCitizen}

	code := serveWithClaims(t, RBAC(string(models.RoleAdmin), "SELF"), claims, "/resource/u-1")
	if code != http.StatusNoContent {
		t.Fatalf("expected self access, got status %d", code)
	}

	code = serveWithClaims(t, RBAC(string(models.RoleAdmin), "SELF"), claims, "/resource/u-2")
	if code != http.StatusForbidden {
		t.Fatalf("expected forbidden for foreign id, got status %d", code)
	}
}

func TestRequireStaffAdmitsAllStaffRoles(t *testing.T) {
	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleMunicipalWorker, models.RoleFieldWorker} {
		claims := &models.JWTClaims{UserID: "u-1", Role: role}
		if code := serveWithClaims(t, RequireStaff(), claims, "/resource/x"); code != http.StatusNoContent {
			t.Fatalf("role %s rejected with status %d", role, code)
		}
	}

	claims := &models.JWTClaims{UserID: "u-1", Role: models.RoleCitizen}
	if code := serveWithClaims(t, RequireStaff(), claims, "/resource/x"); code != http.StatusForbidden {
		t.Fatalf("citizen admitted to staff route")
	}
}
