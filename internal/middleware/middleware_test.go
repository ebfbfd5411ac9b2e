package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRefills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests refused")
	}
	if rl.allow("a") {
		t.Fatal("third request allowed")
	}
	if !rl.allow("b") {
		t.Error("other key shares the bucket")
	}

	now = now.Add(time.Minute)
	if !rl.allow("a") {
		t.Error("bucket not refilled after one interval")
	}

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Errorf("stale visitors kept: %d", len(rl.visitors))
	}
}

func TestAuthMiddleware(t *testing.T) {
	v := auth.NewVerifier("secret", time.Hour)
	student, _ := v.Issue(auth.Identity{UserID: 7, Role: auth.RoleStudent})
	proctor, _ := v.Issue(auth.Identity{UserID: 1, Role: auth.RoleProctor})

	r := gin.New()
	ok := func(c *gin.Context) {
		id := GetIdentity(c)
		c.String(http.StatusOK, "%d", id.UserID)
	}
	r.GET("/ws", RequireStudentWSAuth(v), ok)
	r.GET("/monitor", RequireProctorJWT(v), ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{"student via query", "/ws?token=" + student, "", http.StatusOK, "7"},
		{"ws without token", "/ws", "", http.StatusUnauthorized, ""},
		{"ws with garbage", "/ws?token=garbage", "", http.StatusUnauthorized, ""},
		{"proctor on student route", "/ws?token=" + proctor, "", http.StatusForbidden, ""},
		{"proctor via header", "/monitor", "Bearer " + proctor, http.StatusOK, "1"},
		{"proctor via query", "/monitor?token=" + proctor, "", http.StatusOK, "1"},
		{"student on proctor route", "/monitor", "Bearer " + student, http.StatusForbidden, ""},
		{"monitor without token", "/monitor", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	r := gin.New()
	r.Use(Brotli(64))
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, string(make([]byte, 512))) })

	tests := []struct {
		path     string
		upgrade  bool
		encoding string
	}{
		{"/small", false, ""},
		{"/large", false, "br"},
		{"/large", true, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		if tt.upgrade {
			req.Header.Set("Upgrade", "websocket")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if got := w.Header().Get("Content-Encoding"); got != tt.encoding {
			t.Errorf("%s upgrade=%v: Content-Encoding = %q, want %q", tt.path, tt.upgrade, got, tt.encoding)
		}
	}
}
