// Package transport moves bearer tokens between HTTP requests and the auth
// layer: the Authorization header, and the HTTP-only access/refresh cookies.
package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessCookie  = "access"
	RefreshCookie = "refresh"
)

type Config struct {
	UseCookies bool
	Path       string
	Domain     string
	Secure     bool
}

type Transport struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Transport {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Transport{cfg: cfg, now: time.Now}
}

func (t *Transport) UseCookies() bool {
	return t.cfg.UseCookies
}

// AccessToken returns the presented access token. With cookies enabled the
// access cookie wins and the header is the fallback; otherwise only the
// header is read.
func (t *Transport) AccessToken(c *gin.Context) string {
	if t.cfg.UseCookies {
		if v, err := c.Cookie(AccessCookie); err == nil && v != "" {
			return v
		}
	}
	return BearerToken(c.GetHeader("Authorization"))
}

// RefreshToken returns the refresh cookie when cookies are enabled and set,
// falling back to the token sent in the request body.
func (t *Transport) RefreshToken(c *gin.Context, fromBody string) string {
	if t.cfg.UseCookies {
		if v, err := c.Cookie(RefreshCookie); err == nil && v != "" {
			return v
		}
	}
	return strings.TrimSpace(fromBody)
}

// SetTokens writes both cookies. It is a no-op unless cookies are enabled.
func (t *Transport) SetTokens(c *gin.Context, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	if !t.cfg.UseCookies {
		return
	}

	t.setCookie(c, AccessCookie, access, maxAge(accessExp, t.now()))
	t.setCookie(c, RefreshCookie, refresh, maxAge(refreshExp, t.now()))
}

// ClearTokens expires both cookies on the client.
func (t *Transport) ClearTokens(c *gin.Context) {
	if !t.cfg.UseCookies {
		return
	}

	t.setCookie(c, AccessCookie, "", -1)
	t.setCookie(c, RefreshCookie, "", -1)
}

func (t *Transport) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		name,
		value,
		maxAge,
		t.cfg.Path,
		t.cfg.Domain,
		t.cfg.Secure,
		true, // HttpOnly.
	)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func maxAge(exp, now time.Time) int {
	secs := int(exp.Sub(now).Seconds())
	if secs <= 0 {
		// 0 would make a session cookie
		return -1
	}
	return secs
}
