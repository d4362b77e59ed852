package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callbridge/internal/config"

	"github.com/gin-gonic/gin"
)

func newAuthRouter(t *testing.T, m *Manager, rev Revocations) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAccessToken(m, rev))
	r.GET("/me", func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		role, _ := Role(c.Request.Context())
		tok, ok := Token(c.Request.Context())
		if !ok || tok.ExpiresAt == 0 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
	})
	return r
}

func TestRequireAccessToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour})
	rev := NewMemoryRevocations()
	r := newAuthRouter(t, m, rev)

	tok, exp, err := m.IssueAccess(time.Now(), "callee-1", "callee")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := do("Bearer garbage"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", code)
	}
	if code := do("Bearer " + tok); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	if err := rev.Revoke(context.Background(), tok, exp); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if code := do("Bearer " + tok); code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be refused, got %d", code)
	}
}
