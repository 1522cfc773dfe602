package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/siteinsight/siteinsight-backend/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func adminRouterForTest(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	am := NewAdminAuthMiddleware(log, secret)
	r := gin.New()
	r.GET("/admin/ping", am.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRequireAdmin(t *testing.T) {
	r := adminRouterForTest(t, "test-secret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", jwt.MapClaims{"role": "admin"}), http.StatusUnauthorized},
		{"wrong role", "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"role": "viewer"}), http.StatusUnauthorized},
		{"admin role", "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"role": "admin"}), http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}
