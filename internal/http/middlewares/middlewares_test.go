package middlewares_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/geocoder89/userhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newManager(t *testing.T) *auth.Manager {
	t.Helper()

	m, err := auth.NewManager(auth.Options{
		Secret:     "middleware-test-secret-0123456789abcdef",
		Issuer:     "userhub",
		Audience:   "userhub-clients",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func accessToken(t *testing.T, m *auth.Manager, role string) (string, string) {
	t.Helper()

	id := uuid.NewString()
	tok, _, err := m.GenerateAccessToken(id, "alice@example.com", "Alice", "Smith", role)
	require.NoError(t, err)
	return tok, id
}

func protectedRouter(m *auth.Manager, tokens *transport.Transport, p auth.Policy) *gin.Engine {
	am := middlewares.NewAuthMiddleware(m, tokens)

	r := gin.New()
	r.Use(middlewares.RequestID())
	r.GET("/p", am.RequireAuth(), middlewares.RequirePolicy(p), func(c *gin.Context) {
		pr, ok := actorctx.PrincipalFrom(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, pr.UserID)
	})
	return r
}

func TestRequireAuth_HeaderToken(t *testing.T) {
	m := newManager(t)
	tok, id := accessToken(t, m, "User")
	r := protectedRouter(m, transport.New(transport.Config{}), auth.PolicyAuthenticated)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, w.Body.String())
}

func TestRequireAuth_MissingOrBadToken(t *testing.T) {
	m := newManager(t)
	r := protectedRouter(m, transport.New(transport.Config{}), auth.PolicyAuthenticated)

	for _, header := range []string{"", "Bearer", "Bearer not-a-jwt", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		assert.Contains(t, w.Body.String(), `"requestId"`)
	}
}

func TestRequireAuth_CookieOnlyWhenEnabled(t *testing.T) {
	m := newManager(t)
	tok, _ := accessToken(t, m, "User")

	cookieReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.AddCookie(&http.Cookie{Name: transport.AccessCookie, Value: tok})
		return req
	}

	w := httptest.NewRecorder()
	protectedRouter(m, transport.New(transport.Config{UseCookies: true}), auth.PolicyAuthenticated).ServeHTTP(w, cookieReq())
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	protectedRouter(m, transport.New(transport.Config{}), auth.PolicyAuthenticated).ServeHTTP(w, cookieReq())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePolicy_AdminOnly(t *testing.T) {
	m := newManager(t)
	r := protectedRouter(m, transport.New(transport.Config{}), auth.PolicyAdminOnly)

	userTok, _ := accessToken(t, m, "User")
	adminTok, _ := accessToken(t, m, "Admin")

	cases := map[string]int{
		userTok:  http.StatusForbidden,
		adminTok: http.StatusOK,
	}
	for tok, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}

func TestRequirePolicy_WithoutAuthIsUnauthorized(t *testing.T) {
	r := gin.New()
	r.GET("/p", middlewares.RequirePolicy(auth.PolicyUserOrAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	var hits []string
	r := gin.New()
	r.POST("/auth/login",
		middlewares.RateLimit(ratelimit.NewMemoryLimiter(2, time.Minute), middlewares.KeyByIP, func(route string) { hits = append(hits, route) }, nil),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"/auth/login"}, hits)

	// a different client has its own window
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.POST("/x", middlewares.RateLimit(failingLimiter{}, middlewares.KeyByIP, nil, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	// empty body is allowed
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/merge-patch+json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMaxBodyBytes_RejectsDeclaredOversize(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.MaxBodyBytes(8))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"a":"0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID_EchoesOrGenerates(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(middlewares.CtxRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "abc-123", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	_, err := uuid.Parse(w.Header().Get("X-Request-Id"))
	assert.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "has spaces in it")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	_, err = uuid.Parse(w.Header().Get("X-Request-Id"))
	assert.NoError(t, err, "ids with spaces are replaced")
}

func TestSecurityHeaders_NoStoreOnAuth(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.SecurityHeaders(false))
	r.POST("/auth/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestCORS_AllowedOriginOnly(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.CORSMiddleware([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
