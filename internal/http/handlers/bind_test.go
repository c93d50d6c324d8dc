package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindDetails struct {
	JSON   string                `json:"json"`
	Field  string                `json:"field"`
	Fields []handlers.FieldError `json:"fields"`
}

func bindRouter[T any](mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.POST("/bind", func(c *gin.Context) {
		var req T
		if handlers.BindJSON(c, &req) {
			c.Status(http.StatusCreated)
		}
	})
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bindFailure(t *testing.T, w *httptest.ResponseRecorder) bindDetails {
	t.Helper()
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var body struct {
		Error struct {
			Code    string      `json:"code"`
			Details bindDetails `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "invalid_request", body.Error.Code)
	return body.Error.Details
}

func rulesByField(fields []handlers.FieldError) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Field] = f.Rule
	}
	return out
}

func TestBindJSON_ReportsJSONFieldNames(t *testing.T) {
	d := bindFailure(t, postJSON(bindRouter[user.RegisterRequest](), "/bind",
		`{"email":"not-an-email","password":"abcdefgh"}`))

	assert.Equal(t, map[string]string{
		"email":     "email",
		"password":  "password",
		"firstName": "required",
		"lastName":  "required",
	}, rulesByField(d.Fields))

	for _, f := range d.Fields {
		assert.NotEmpty(t, f.Message, f.Field)
	}
}

func TestBindJSON_TypeMismatch(t *testing.T) {
	d := bindFailure(t, postJSON(bindRouter[user.UpdateProfileRequest](), "/bind",
		`{"firstName":"Ada","isActive":"yes"}`))

	assert.Equal(t, "invalid_json_type", d.JSON)
	assert.Equal(t, "isActive", d.Field)
	require.Len(t, d.Fields, 1)
	assert.Equal(t, "type", d.Fields[0].Rule)
}

func TestBindJSON_CustomRules(t *testing.T) {
	cases := []struct {
		name      string
		router    *gin.Engine
		body      string
		wantField string
		wantRule  string
	}{
		{"unknown role", bindRouter[user.ChangeRoleRequest](), `{"role":"Superuser"}`, "role", "role"},
		{"password without digit", bindRouter[user.ChangePasswordRequest](), `{"currentPassword":"old-pass-1","newPassword":"onlyletters"}`, "newPassword", "password"},
		{"new password equals current", bindRouter[user.ChangePasswordRequest](), `{"currentPassword":"s3cretpass","newPassword":"s3cretpass"}`, "newPassword", "nefield"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := bindFailure(t, postJSON(tc.router, "/bind", tc.body))
			assert.Equal(t, map[string]string{tc.wantField: tc.wantRule}, rulesByField(d.Fields))
		})
	}

	w := postJSON(bindRouter[user.ChangeRoleRequest](), "/bind", `{"role":"admin"}`)
	assert.Equal(t, http.StatusCreated, w.Code, "role names are case-insensitive")
}

func TestBindJSON_SyntaxError(t *testing.T) {
	d := bindFailure(t, postJSON(bindRouter[user.LoginRequest](), "/bind", `{"email":}`))
	assert.Equal(t, "invalid_json_syntax", d.JSON)
}

func TestBindJSON_BodyTooLarge(t *testing.T) {
	r := bindRouter[user.LoginRequest](middlewares.MaxBodyBytes(16))

	// chunked, so the cap is only hit while decoding
	req := httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(`{"email":"`+strings.Repeat("a", 64)+`@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "payload_too_large")
}

func TestBindOptionalJSON(t *testing.T) {
	var got user.RefreshRequest
	r := gin.New()
	r.POST("/refresh", func(c *gin.Context) {
		got = user.RefreshRequest{}
		if handlers.BindOptionalJSON(c, &got) {
			c.Status(http.StatusNoContent)
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, got.RefreshToken)

	w = postJSON(r, "/refresh", `{"refreshToken":"abc"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "abc", got.RefreshToken)

	bindFailure(t, postJSON(r, "/refresh", `{"refreshToken":1}`))
}
