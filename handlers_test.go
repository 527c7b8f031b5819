package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/example/appbase/internal/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &App{
		DB:    NewMemoryDB(),
		store: store,
		codec: NewTokenCodec([]byte("test-secret"), 30*24*time.Hour),
		cfg: &cfg.Config{
			NowPaymentsIPNKey: "test-ipn-key",
			FrontendHost:      "localhost:3000",
			BackendHost:       "localhost:8080",
		},
		rateLimiter: NewRateLimiter(10000),
	}
}

type testEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// doJSON sends a JSON request through the real router and decodes the envelope.
func doJSON(t *testing.T, app *App, method, path, token string, body interface{}) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	req.RemoteAddr = "192.0.2.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	app.router().ServeHTTP(rec, req)

	var env testEnvelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	}
	return rec, env
}

func signupUser(t *testing.T, app *App, email, password string) sessionResponse {
	t.Helper()
	rec, env := doJSON(t, app, "POST", "/auth/signup", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var session sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &session))
	return session
}

func createAdmin(t *testing.T, app *App, email, password string) string {
	t.Helper()
	hashed, err := hashPassword(password)
	require.NoError(t, err)
	_, err = app.DB.CreateUser(email, hashed, "Admin", true)
	require.NoError(t, err)

	rec, env := doJSON(t, app, "POST", "/admin/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var session sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &session))
	return session.AccessToken
}

func TestSignupAndLogin(t *testing.T) {
	app := newTestApp(t)

	session := signupUser(t, app, "alice@example.com", "password123")
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.False(t, session.User.IsAdmin)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "bearer", session.TokenType)

	rec, _ := doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	// unknown email gets the same answer as a wrong password
	rec, env = doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
}

func TestSignupDuplicateEmail(t *testing.T) {
	app := newTestApp(t)

	signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/auth/signup", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password456",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "USER_EXISTS", env.Error.Code)
}

func TestSignupValidation(t *testing.T) {
	app := newTestApp(t)

	for name, body := range map[string]map[string]string{
		"bad email":      {"email": "not-an-email", "password": "password123"},
		"short password": {"email": "a@example.com", "password": "short"},
		"missing email":  {"password": "password123"},
	} {
		rec, env := doJSON(t, app, "POST", "/auth/signup", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.NotNil(t, env.Error, name)
		assert.Equal(t, "INVALID_REQUEST", env.Error.Code, name)
	}
}

func TestSignupRegistrationDisabled(t *testing.T) {
	app := newTestApp(t)

	settings, err := app.DB.GetAdminSettings()
	require.NoError(t, err)
	settings.EnableRegistration = false
	require.NoError(t, app.DB.UpdateAdminSettings(settings))

	rec, env := doJSON(t, app, "POST", "/auth/signup", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "REGISTRATION_DISABLED", env.Error.Code)
}

func TestAdminGateComposition(t *testing.T) {
	app := newTestApp(t)

	session := signupUser(t, app, "alice@example.com", "password123")

	// valid token without admin privileges: identity resolves, privilege fails
	rec, env := doJSON(t, app, "GET", "/admin/settings", session.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	// garbage token never reaches the privilege check
	rec, env = doJSON(t, app, "GET", "/admin/settings", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)

	// expired admin token is still a 401, not a 403
	expired, err := app.codec.Issue("1", true, -time.Second)
	require.NoError(t, err)
	rec, env = doJSON(t, app, "GET", "/admin/settings", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)

	// no token at all
	rec, env = doJSON(t, app, "GET", "/admin/settings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_LOGGED_IN", env.Error.Code)
}

func TestAdminLoginRejectsNonAdmin(t *testing.T) {
	app := newTestApp(t)

	signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/admin/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	app := newTestApp(t)
	token := createAdmin(t, app, "admin@example.com", "password123")

	rec, env := doJSON(t, app, "GET", "/admin/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings AdminSettings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.True(t, settings.EnableRegistration)

	settings.MaintenanceMode = true
	settings.CustomMessage = "Down for maintenance"
	rec, _ = doJSON(t, app, "PUT", "/admin/settings", token, settings)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, app, "GET", "/admin/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.True(t, settings.MaintenanceMode)
	assert.Equal(t, "Down for maintenance", settings.CustomMessage)
}

func TestListUsers(t *testing.T) {
	app := newTestApp(t)
	token := createAdmin(t, app, "admin@example.com", "password123")

	signupUser(t, app, "u1@example.com", "password123")
	signupUser(t, app, "u2@example.com", "password123")

	rec, env := doJSON(t, app, "GET", "/admin/users?count=50", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Users []PublicUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Len(t, resp.Users, 3)

	rec, _ = doJSON(t, app, "GET", "/admin/users?count=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, "GET", "/admin/users?cursor=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/auth/refresh", "", map[string]string{
		"refresh_token": session.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	// replaying the rotated-out token revokes the whole family
	rec, env = doJSON(t, app, "POST", "/auth/refresh", "", map[string]string{
		"refresh_token": session.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOKEN_REUSE_DETECTED", env.Error.Code)

	rec, _ = doJSON(t, app, "POST", "/auth/refresh", "", map[string]string{
		"refresh_token": rotated.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, _ := doJSON(t, app, "POST", "/auth/logout", session.AccessToken, map[string]string{
		"refresh_token": session.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := doJSON(t, app, "POST", "/auth/refresh", "", map[string]string{
		"refresh_token": session.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)

	// a token the server never issued cannot be logged out
	rec, env = doJSON(t, app, "POST", "/auth/logout", session.AccessToken, map[string]string{
		"refresh_token": "never-issued",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestProfile(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "GET", "/user/profile", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user PublicUser
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "alice@example.com", user.Email)

	rec, _ = doJSON(t, app, "GET", "/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserSettingsRoundTrip(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "GET", "/user/settings", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings UserSettings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, "light", settings.Theme)

	settings.Theme = "dark"
	settings.NotificationsEnabled = false
	rec, _ = doJSON(t, app, "PUT", "/user/settings", session.AccessToken, settings)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, app, "GET", "/user/settings", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, "dark", settings.Theme)
	assert.False(t, settings.NotificationsEnabled)
}

func TestChangePassword(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/user/change-password", session.AccessToken, map[string]string{
		"old_password": "wrong-password",
		"new_password": "newpassword456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INCORRECT_PASSWORD", env.Error.Code)

	rec, _ = doJSON(t, app, "POST", "/user/change-password", session.AccessToken, map[string]string{
		"old_password": "password123",
		"new_password": "newpassword456",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "newpassword456",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/auth/forgot-password", "", map[string]string{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	resetToken := resp["reset_token"]
	require.NotEmpty(t, resetToken)

	// unknown emails get the same message and no token
	rec, env = doJSON(t, app, "POST", "/auth/forgot-password", "", map[string]string{
		"email": "nobody@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = map[string]string{}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp["reset_token"])

	// an access token is not a reset token
	rec, _ = doJSON(t, app, "POST", "/auth/reset-password", "", map[string]string{
		"token":        session.AccessToken,
		"new_password": "newpassword456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, app, "POST", "/auth/reset-password", "", map[string]string{
		"token":        resetToken,
		"new_password": "newpassword456",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, app, "POST", "/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "newpassword456",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyEmail(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")
	require.NotEmpty(t, session.VerificationToken)

	rec, _ := doJSON(t, app, "POST", "/auth/verify-email", "", map[string]string{
		"token": session.VerificationToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// an access token is not a verification token
	rec, env := doJSON(t, app, "POST", "/auth/verify-email", "", map[string]string{
		"token": session.AccessToken,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestResetTokenNotASession(t *testing.T) {
	app := newTestApp(t)
	signupUser(t, app, "alice@example.com", "password123")

	reset, err := app.codec.IssuePurpose("1", purposePasswordReset, time.Hour)
	require.NoError(t, err)

	rec, env := doJSON(t, app, "GET", "/user/profile", reset, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestDeleteAccount(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doJSON(t, app, "POST", "/user/delete-account", session.AccessToken, map[string]bool{
		"confirm": false,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFIRMATION_REQUIRED", env.Error.Code)

	rec, _ = doJSON(t, app, "POST", "/user/delete-account", session.AccessToken, map[string]bool{
		"confirm": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// the JWT is still well-signed but its subject is gone
	rec, env = doJSON(t, app, "GET", "/user/profile", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "USER_NOT_FOUND", env.Error.Code)
}

func doMultipart(t *testing.T, app *App, path, token, field, filename string, content []byte) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	app.router().ServeHTTP(rec, req)

	var env testEnvelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestFileUploadDownloadDelete(t *testing.T) {
	app := newTestApp(t)
	owner := signupUser(t, app, "owner@example.com", "password123")
	other := signupUser(t, app, "other@example.com", "password123")

	content := []byte("hello, appbase")
	rec, env := doMultipart(t, app, "/files/upload", owner.AccessToken, "file", "notes.txt", content)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var uploaded struct {
		FileID string `json:"file_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	require.NotEmpty(t, uploaded.FileID)

	req := httptest.NewRequest("GET", "/files/"+uploaded.FileID, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Authorization", "Bearer "+owner.AccessToken)
	dl := httptest.NewRecorder()
	app.router().ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, content, dl.Body.Bytes())

	// only the owner (or an admin) can delete
	rec, env = doJSON(t, app, "DELETE", "/files/"+uploaded.FileID, other.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)

	rec, _ = doJSON(t, app, "DELETE", "/files/"+uploaded.FileID, owner.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, app, "GET", "/files/"+uploaded.FileID, owner.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileUploadDisabled(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	settings, err := app.DB.GetAdminSettings()
	require.NoError(t, err)
	settings.EnableFileUpload = false
	require.NoError(t, app.DB.UpdateAdminSettings(settings))

	rec, env := doMultipart(t, app, "/files/upload", session.AccessToken, "file", "notes.txt", []byte("x"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UPLOADS_DISABLED", env.Error.Code)
}

func TestAvatarUpload(t *testing.T) {
	app := newTestApp(t)
	session := signupUser(t, app, "alice@example.com", "password123")

	rec, env := doMultipart(t, app, "/user/avatar", session.AccessToken, "file", "me.png", []byte("png-bytes"))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp["avatar_id"])

	rec, settingsEnv := doJSON(t, app, "GET", "/user/settings", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings UserSettings
	require.NoError(t, json.Unmarshal(settingsEnv.Data, &settings))
	assert.Equal(t, resp["avatar_id"], settings.AvatarID)

	rec, env = doMultipart(t, app, "/user/avatar", session.AccessToken, "file", "malware.exe", []byte("nope"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_FILE_TYPE", env.Error.Code)
}

func TestPublicAppSettings(t *testing.T) {
	app := newTestApp(t)

	rec, env := doJSON(t, app, "GET", "/app/settings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings PublicAppSettings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, "appbase", settings.AppName)
	assert.Equal(t, "9.99", settings.SubscriptionPrice)

	// the public view must not leak admin-only fields
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.NotContains(t, raw, "admin_email")
	assert.NotContains(t, raw, "debug_mode")
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		app.router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
