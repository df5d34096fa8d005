package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userapp "github.com/vidtube/vidtube-api/internal/application"
	"github.com/vidtube/vidtube-api/internal/domain/entity"
	repo "github.com/vidtube/vidtube-api/internal/domain/repository"
	"github.com/vidtube/vidtube-api/internal/interface/middleware"
	"github.com/vidtube/vidtube-api/pkg/helpers"
	"github.com/vidtube/vidtube-api/pkg/validation"
)

var initValidation sync.Once

type stubRepo struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newStubRepo() *stubRepo { return &stubRepo{users: map[string]*entity.User{}} }

func (s *stubRepo) Create(u *entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.users {
		if ex.Username == u.Username || ex.Email == u.Email {
			return repo.ErrDuplicateUser
		}
	}
	u.ID = uuid.NewString()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *stubRepo) GetByID(id string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (s *stubRepo) GetByUsernameOrEmail(username, email string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *stubRepo) UpdateRefreshToken(id, token string) error {
	return s.patch(id, func(u *entity.User) error { u.RefreshToken = token; return nil })
}

func (s *stubRepo) RotateRefreshToken(id, old, new string) error {
	return s.patch(id, func(u *entity.User) error {
		if u.RefreshToken != old {
			return repo.ErrTokenMismatch
		}
		u.RefreshToken = new
		return nil
	})
}

func (s *stubRepo) ClearRefreshToken(id string) error {
	return s.patch(id, func(u *entity.User) error { u.RefreshToken = ""; return nil })
}

func (s *stubRepo) UpdatePassword(id, hash string) error {
	return s.patch(id, func(u *entity.User) error { u.PasswordHash = hash; return nil })
}

func (s *stubRepo) UpdateDetails(u *entity.User) error {
	return s.patch(u.ID, func(stored *entity.User) error {
		stored.FullName = u.FullName
		stored.Email = u.Email
		return nil
	})
}

func (s *stubRepo) UpdateAvatar(id, url string) error {
	return s.patch(id, func(u *entity.User) error { u.AvatarURL = url; return nil })
}

func (s *stubRepo) patch(id string, fn func(*entity.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	return fn(u)
}

type stubStorage struct {
	mu      sync.Mutex
	uploads int
	fail    bool
}

func (s *stubStorage) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("remote storage unavailable")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	s.uploads++
	return "https://cdn.test/" + objectPath, nil
}

type testApp struct {
	router  *gin.Engine
	repo    *stubRepo
	storage *stubStorage
	jwt     *helpers.JWTManager
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	initValidation.Do(validation.Init)
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r := newStubRepo()
	st := &stubStorage{}
	jwt := helpers.NewJWTManager("access-secret", "refresh-secret", 15*time.Minute, 168*time.Hour)
	svc := userapp.NewService(r, jwt, st, nil, logger, nil, "", nil, false)
	h := NewUserHandler(svc, logger, "localhost", t.TempDir())

	engine := gin.New()
	users := engine.Group("/api/v1/users")
	users.POST("/register", h.Register)
	users.POST("/login", h.Login)
	users.POST("/refresh", h.Refresh)
	auth := users.Group("/")
	auth.Use(middleware.JWTAuth(jwt))
	auth.POST("/logout", h.Logout)
	auth.GET("/profile", h.GetProfile)
	auth.POST("/reset-password", h.ChangePassword)
	auth.PATCH("/update-detail", h.UpdateDetails)

	return &testApp{router: engine, repo: r, storage: st, jwt: jwt}
}

func (a *testApp) do(t *testing.T, req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func multipartForm(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("fake image bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func registerUser(t *testing.T, app *testApp, username string, withCover bool) *httptest.ResponseRecorder {
	t.Helper()
	files := map[string]string{"avatar": "avatar.png"}
	if withCover {
		files["coverImage"] = "cover.jpg"
	}
	body, ct := multipartForm(t, map[string]string{
		"fullname": "Ana Alvarez",
		"username": username,
		"email":    username + "@x.io",
		"password": "correct-horse-battery",
	}, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	return app.do(t, req)
}

func loginUser(t *testing.T, app *testApp, username string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(gin.H{"username": username, "password": "correct-horse-battery"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return app.do(t, req)
}

func cookieByName(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

type envelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestRegister_Created(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	w := registerUser(t, app, "ana", false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	e := decodeEnvelope(t, w)
	assert.True(t, e.Success)
	assert.NotEmpty(t, e.Data["avatar_url"])
	assert.Empty(t, e.Data["cover_image_url"])
	_, hasHash := e.Data["password_hash"]
	assert.False(t, hasHash)
	_, hasRefresh := e.Data["refresh_token"]
	assert.False(t, hasRefresh)
}

func TestRegister_MissingAvatar(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	body, ct := multipartForm(t, map[string]string{
		"fullname": "Ana Alvarez",
		"username": "ana",
		"email":    "ana@x.io",
		"password": "correct-horse-battery",
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	w := app.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, app.storage.uploads, "no upload attempted without the avatar")
}

func TestRegister_DuplicateConflict(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)
	w := registerUser(t, app, "ana", false)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, app.repo.users, 1)
}

func TestRegister_InvalidPayload(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	body, ct := multipartForm(t, map[string]string{
		"fullname": "Ana",
		"username": "ana",
		"email":    "not-an-email",
		"password": "short",
	}, map[string]string{"avatar": "avatar.png"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/register", body)
	req.Header.Set("Content-Type", ct)
	w := app.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, app.storage.uploads)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	// Register with a cover image.
	w := registerUser(t, app, "ana", true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decodeEnvelope(t, w)
	assert.NotEmpty(t, reg.Data["cover_image_url"])
	userID := reg.Data["id"].(string)

	// Login sets both credential cookies, decoding to the account id.
	w = loginUser(t, app, "ana")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	access := cookieByName(t, w, helpers.AccessCookie)
	refresh := cookieByName(t, w, helpers.RefreshCookie)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.True(t, refresh.HttpOnly)
	assert.True(t, refresh.Secure)

	claims, err := app.jwt.ParseAccessToken(access.Value)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	claims, err = app.jwt.ParseRefreshToken(refresh.Value)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	// Refresh rotates the pair.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	w = app.do(t, req, refresh)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newAccess := cookieByName(t, w, helpers.AccessCookie)
	newRefresh := cookieByName(t, w, helpers.RefreshCookie)
	assert.NotEqual(t, access.Value, newAccess.Value)
	assert.NotEqual(t, refresh.Value, newRefresh.Value)

	// The superseded refresh token is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	w = app.do(t, req, refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Logout clears the cookies.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	w = app.do(t, req, newAccess)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, cookieByName(t, w, helpers.AccessCookie).Value)
	assert.Empty(t, cookieByName(t, w, helpers.RefreshCookie).Value)

	// A pre-logout refresh token no longer works.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", nil)
	w = app.do(t, req, newRefresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_BodyFieldFallback(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)
	w := loginUser(t, app, "ana")
	refresh := cookieByName(t, w, helpers.RefreshCookie)

	body, _ := json.Marshal(gin.H{"refreshToken": refresh.Value})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = app.do(t, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)

	body, _ := json.Marshal(gin.H{"username": "ana", "password": "wrong-password"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := app.do(t, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, req).Code)
}

func TestGetProfile(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)
	w := loginUser(t, app, "ana")
	access := cookieByName(t, w, helpers.AccessCookie)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/profile", nil)
	w = app.do(t, req, access)
	require.Equal(t, http.StatusOK, w.Code)

	e := decodeEnvelope(t, w)
	assert.Equal(t, "ana", e.Data["username"])
	_, hasHash := e.Data["password_hash"]
	assert.False(t, hasHash)
}

func TestChangePasswordEndpoint(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)
	w := loginUser(t, app, "ana")
	access := cookieByName(t, w, helpers.AccessCookie)

	body, _ := json.Marshal(gin.H{"old_password": "correct-horse-battery", "new_password": "brand-new-password"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/reset-password", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = app.do(t, req, access)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Old password no longer logs in.
	w = loginUser(t, app, "ana")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateDetailsEndpoint(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	require.Equal(t, http.StatusCreated, registerUser(t, app, "ana", false).Code)
	w := loginUser(t, app, "ana")
	access := cookieByName(t, w, helpers.AccessCookie)

	body, _ := json.Marshal(gin.H{"fullname": "Ana A."})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/update-detail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = app.do(t, req, access)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	e := decodeEnvelope(t, w)
	assert.Equal(t, "Ana A.", e.Data["fullname"])
}
