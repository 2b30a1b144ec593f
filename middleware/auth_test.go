package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/models"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newApp(t *testing.T, a *Authenticator) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Get("/me", a.AuthRequired(), func(c *fiber.Ctx) error {
		id, ok := UserID(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"id": id})
	})
	return app
}

func setup(t *testing.T) (*Authenticator, models.User) {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	user := models.User{Email: "a@example.com", Auth0ID: "auth0|abc"}
	require.NoError(t, db.Create(&user).Error)
	return NewSecretAuthenticator(db, testSecret), user
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAuthRequiredBearer(t *testing.T) {
	a, user := setup(t)
	app := newApp(t, a)

	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": user.Auth0ID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	code, body := doRequest(t, app, req)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":1}`, body)
}

func TestAuthRequiredCookie(t *testing.T) {
	a, user := setup(t)
	app := newApp(t, a)

	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": user.Auth0ID})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})

	code, _ := doRequest(t, app, req)
	assert.Equal(t, http.StatusOK, code)
}

func TestAuthRequiredRejects(t *testing.T) {
	a, user := setup(t)
	app := newApp(t, a)

	expired := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": user.Auth0ID,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": user.Auth0ID})
	unknown := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "auth0|nobody"})
	noSub := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"name": "x"})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "Missing Authorization header"},
		{"basic", "Basic abc", "Invalid Authorization header format"},
		{"garbage", "Bearer not-a-jwt", "Invalid token"},
		{"expired", "Bearer " + expired, "Invalid token"},
		{"wrong key", "Bearer " + wrongKey, "Invalid token"},
		{"unknown user", "Bearer " + unknown, "User not found"},
		{"no sub", "Bearer " + noSub, "'sub' missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			code, body := doRequest(t, app, req)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestAuthRequiredChecksAudienceAndIssuer(t *testing.T) {
	a, user := setup(t)
	a.audience = "https://api.storytailor"
	a.issuer = "https://tenant.auth0.com/"
	app := newApp(t, a)

	good := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": user.Auth0ID,
		"aud": []any{"https://api.storytailor", "https://tenant.auth0.com/userinfo"},
		"iss": "https://tenant.auth0.com/",
	})
	badAud := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": user.Auth0ID,
		"aud": "https://other",
		"iss": "https://tenant.auth0.com/",
	})
	badIss := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": user.Auth0ID,
		"aud": "https://api.storytailor",
		"iss": "https://evil/",
	})

	for token, want := range map[string]int{good: 200, badAud: 401, badIss: 401} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		code, _ := doRequest(t, app, req)
		assert.Equal(t, want, code)
	}
}

func TestSecretAuthenticatorRejectsNone(t *testing.T) {
	a, user := setup(t)
	app := newApp(t, a)

	token := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": user.Auth0ID})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, _ := doRequest(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestVerifyAudienceFormats(t *testing.T) {
	assert.NoError(t, verifyAudience(jwt.MapClaims{"aud": "x"}, "x"))
	assert.Error(t, verifyAudience(jwt.MapClaims{}, "x"))
	assert.Error(t, verifyAudience(jwt.MapClaims{"aud": 42.0}, "x"))
	assert.Error(t, verifyAudience(jwt.MapClaims{"aud": []interface{}{"y"}}, "x"))
}
