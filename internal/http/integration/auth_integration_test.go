package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/authz"
	"github.com/geocoder89/userhub/internal/db"
	apphttp "github.com/geocoder89/userhub/internal/http"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/transport"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/ratelimit"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/geocoder89/userhub/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "Adm1nPassword"
)

type testApp struct {
	router *gin.Engine
	store  *memory.UsersRepo
	prom   *observability.Prom
}

type appOptions struct {
	useCookies bool
	authLimit  int
}

func setupApp(t *testing.T, opts appOptions) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	jwt, err := auth.NewManager(auth.Options{
		Secret:     "integration-test-secret-0123456789abcdef",
		Issuer:     "userhub",
		Audience:   "userhub-clients",
		AccessTTL:  60 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	store := memory.NewUsersRepo()
	hasher := security.NewHasher()
	prom := observability.NewProm(prometheus.NewRegistry())

	require.NoError(t, db.EnsureAdminUser(context.Background(), store, hasher, db.AdminSeed{
		Email:     adminEmail,
		Password:  adminPassword,
		FirstName: "Ada",
		LastName:  "Admin",
	}, logger))

	if opts.authLimit == 0 {
		opts.authLimit = 100
	}

	router := apphttp.NewRouter(apphttp.RouterDeps{
		Log:          logger,
		Env:          "test",
		CORSOrigins:  []string{"http://localhost:3000"},
		MaxBodyBytes: 1 << 20,
		JWT:          jwt,
		Tokens:       transport.New(transport.Config{UseCookies: opts.useCookies, Path: "/"}),
		Flows:        authz.NewService(store, hasher, jwt, logger, prom),
		Users:        users.NewService(store, hasher, logger),
		Checks: []handlers.Check{
			{Name: "store", Ping: store.Ping},
		},
		Limiter: ratelimit.NewMemoryLimiter(opts.authLimit, time.Minute),
		Prom:    prom,
	})

	return testApp{router: router, store: store, prom: prom}
}

func doRequest(router http.Handler, method, path, body, bearer string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func login(t *testing.T, router http.Handler, email, password string) authz.TokenPair {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pair authz.TokenPair
	mustReadJSON(t, w, &pair)
	return pair
}

func TestAuthIntegration_Register_Login_Refresh_Logout(t *testing.T) {
	app := setupApp(t, appOptions{})
	r := app.router

	// register
	w := doRequest(r, http.MethodPost, "/auth/register",
		`{"email":"Alice@Example.com","password":"Secur3Pass!","firstName":"Alice","lastName":"Smith"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"email":"alice@example.com"`)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	// duplicate email
	w = doRequest(r, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"Secur3Pass!","firstName":"Alice","lastName":"Again"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// login
	pair := login(t, r, "alice@example.com", "Secur3Pass!")
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshTokenExpiresAt.After(pair.ExpiresAt))

	// who am I
	w = doRequest(r, http.MethodGet, "/users/me", "", pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me map[string]any
	mustReadJSON(t, w, &me)
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "User", me["role"])

	// refresh rotates
	w = doRequest(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated authz.TokenPair
	mustReadJSON(t, w, &rotated)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// the old refresh token is dead
	w = doRequest(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// logout with the new access token
	w = doRequest(r, http.MethodPost, "/auth/logout", "", rotated.AccessToken)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// refresh after logout fails
	w = doRequest(r, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+rotated.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(app.prom.AuthEventsTotal.WithLabelValues("login", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.prom.AuthEventsTotal.WithLabelValues("refresh", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.prom.AuthEventsTotal.WithLabelValues("logout", "ok")))
}

func TestAuthIntegration_LoginFailuresLookAlike(t *testing.T) {
	app := setupApp(t, appOptions{})

	unknown := doRequest(app.router, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"Whatever1"}`, "")
	wrong := doRequest(app.router, http.MethodPost, "/auth/login", `{"email":"`+adminEmail+`","password":"Wr0ngPassword"}`, "")

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)

	var a, b struct {
		Error handlers.APIError `json:"error"`
	}
	mustReadJSON(t, unknown, &a)
	mustReadJSON(t, wrong, &b)
	assert.Equal(t, a.Error.Code, b.Error.Code)
	assert.Equal(t, a.Error.Message, b.Error.Message)
}

func TestAuthIntegration_Policies(t *testing.T) {
	app := setupApp(t, appOptions{})
	r := app.router

	w := doRequest(r, http.MethodPost, "/auth/register",
		`{"email":"bob@example.com","password":"B0bPassword","firstName":"Bob","lastName":"Stone"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var bob map[string]any
	mustReadJSON(t, w, &bob)
	bobID := bob["id"].(string)

	userTok := login(t, r, "bob@example.com", "B0bPassword").AccessToken
	adminTok := login(t, r, adminEmail, adminPassword).AccessToken

	// no token
	w = doRequest(r, http.MethodGet, "/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// user is not an admin
	w = doRequest(r, http.MethodGet, "/users", "", userTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// admin lists and deactivates bob
	w = doRequest(r, http.MethodGet, "/users?limit=10", "", adminTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list handlers.ListUsersResponse
	mustReadJSON(t, w, &list)
	assert.Len(t, list.Items, 2)

	w = doRequest(r, http.MethodPut, "/users/"+bobID, `{"isActive":false}`, adminTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// inactive accounts cannot log in
	w = doRequest(r, http.MethodPost, "/auth/login", `{"email":"bob@example.com","password":"B0bPassword"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// promote bob
	w = doRequest(r, http.MethodPut, "/users/"+bobID+"/role", `{"role":"admin"}`, adminTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"Admin"`)
}

func TestAuthIntegration_CookieMode(t *testing.T) {
	app := setupApp(t, appOptions{useCookies: true})
	r := app.router

	w := doRequest(r, http.MethodPost, "/auth/login", `{"email":"`+adminEmail+`","password":"`+adminPassword+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	access := findCookie(w, transport.AccessCookie)
	refresh := findCookie(w, transport.RefreshCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)

	// cookie alone authenticates
	w = doRequest(r, http.MethodGet, "/users/me", "", "", access)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// bodyless refresh from the cookie
	w = doRequest(r, http.MethodPost, "/auth/refresh", "", "", refresh)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newAccess := findCookie(w, transport.AccessCookie)
	require.NotNil(t, newAccess)

	// logout clears both cookies
	w = doRequest(r, http.MethodPost, "/auth/logout", "", "", newAccess)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	for _, name := range []string{transport.AccessCookie, transport.RefreshCookie} {
		c := findCookie(w, name)
		require.NotNil(t, c, name)
		assert.True(t, c.MaxAge < 0 || c.Value == "", name)
	}
}

func TestAuthIntegration_RateLimitedLogin(t *testing.T) {
	app := setupApp(t, appOptions{authLimit: 3})

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = doRequest(app.router, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"Whatever1"}`, "")
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(last.Body.String(), "rate_limited"))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.prom.RateLimited.WithLabelValues("/auth/login")))
}

func TestAuthIntegration_Health(t *testing.T) {
	app := setupApp(t, appOptions{})

	w := doRequest(app.router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(app.router, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
