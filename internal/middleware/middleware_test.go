package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type fakeValidator struct {
	claims *service.Claims
	err    error
}

func (f fakeValidator) ValidateToken(string) (*service.Claims, error) { return f.claims, f.err }

type fakeSessions struct{ err error }

func (f fakeSessions) ValidateSession(context.Context, *service.Claims) error { return f.err }

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func TestRequireJWT(t *testing.T) {
	student := &service.Claims{UserID: 7, Role: model.RoleStudent}
	tests := []struct {
		name     string
		header   string
		query    string
		v        fakeValidator
		roles    []model.Role
		wantCode int
		wantErr  response.ErrCode
	}{
		{"missing token", "", "", fakeValidator{claims: student}, nil, http.StatusUnauthorized, response.ErrTokenRequired},
		{"invalid token", "Bearer x", "", fakeValidator{err: errors.New("bad")}, nil, http.StatusUnauthorized, response.ErrTokenInvalid},
		{"expired token", "Bearer x", "", fakeValidator{err: fmt.Errorf("parse token: %w", jwt.ErrTokenExpired)}, nil, http.StatusUnauthorized, response.ErrTokenExpired},
		{"wrong role", "Bearer x", "", fakeValidator{claims: student}, []model.Role{model.RoleTeacher, model.RoleAdmin}, http.StatusForbidden, response.ErrTeacherAccessOnly},
		{"header ok", "Bearer x", "", fakeValidator{claims: student}, []model.Role{model.RoleStudent}, http.StatusOK, ""},
		{"query fallback", "", "x", fakeValidator{claims: student}, nil, http.StatusOK, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", RequireJWT(tc.v, tc.roles...), func(c *gin.Context) {
				if GetClaims(c) == nil {
					t.Fatalf("claims missing in handler")
				}
				c.Status(http.StatusOK)
			})

			url := "/x"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status: want=%d got=%d", tc.wantCode, w.Code)
			}
			if tc.wantErr != "" {
				if got := errorCode(t, w); got != tc.wantErr {
					t.Fatalf("code: want=%s got=%s", tc.wantErr, got)
				}
			}
		})
	}
}

func TestRequireWSAuthIgnoresHeader(t *testing.T) {
	r := gin.New()
	r.GET("/ws", RequireWSAuth(fakeValidator{claims: &service.Claims{Role: model.RoleStudent}}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: want=401 got=%d", w.Code)
	}
}

func TestRequireRoleAndSession(t *testing.T) {
	withClaims := func(role model.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(ContextKeyClaims, &service.Claims{UserID: 1, Role: role})
			c.Next()
		}
	}

	r := gin.New()
	r.GET("/admin", withClaims(model.RoleTeacher), RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/live", withClaims(model.RoleStudent), CheckSingleDeviceSession(fakeSessions{err: service.ErrSessionInvalidated}), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ok", withClaims(model.RoleStudent), CheckSingleDeviceSession(fakeSessions{}), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusForbidden || errorCode(t, w) != response.ErrAdminAccessOnly {
		t.Fatalf("admin route: status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != response.ErrSessionInvalidated {
		t.Fatalf("reset session: status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("valid session: want=200 got=%d", w.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(2, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatalf("request beyond burst allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatalf("other visitor should have its own bucket")
	}

	now = now.Add(500 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Fatalf("one token should refill after 500ms at 2/s")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatalf("only one token should have refilled")
	}

	now = now.Add(10 * time.Minute)
	rl.Cleanup(3 * time.Minute)
	if len(rl.visitors) != 0 {
		t.Fatalf("idle visitors: want=0 got=%d", len(rl.visitors))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes: want=[200 429] got=%v", codes)
	}
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("proctored ", 500)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/image", func(c *gin.Context) { c.Data(http.StatusOK, "image/png", []byte(big)) })

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/big")
	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("large body should be compressed")
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(plain) != big {
		t.Fatalf("round trip mismatch: got %d bytes", len(plain))
	}

	w = get("/small")
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("small body: encoding=%q body=%q", w.Header().Get("Content-Encoding"), w.Body.String())
	}

	w = get("/image")
	if w.Header().Get("Content-Encoding") != "" || w.Body.Len() != len(big) {
		t.Fatalf("media should pass through uncompressed")
	}
}
