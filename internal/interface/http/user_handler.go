package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	userapp "github.com/vidtube/vidtube-api/internal/application"
	"github.com/vidtube/vidtube-api/internal/domain/entity"
	"github.com/vidtube/vidtube-api/internal/interface/middleware"
	"github.com/vidtube/vidtube-api/pkg/helpers"
	"github.com/vidtube/vidtube-api/pkg/response"
	"github.com/vidtube/vidtube-api/pkg/validation"
)

type UserHandler struct {
	Svc     *userapp.Service
	Logger  *logrus.Logger
	Cookies *helpers.Manager
	TmpDir  string
}

func NewUserHandler(svc *userapp.Service, logger *logrus.Logger, cookieDomain, tmpDir string) *UserHandler {
	return &UserHandler{Svc: svc, Logger: logger, Cookies: helpers.NewCookie(cookieDomain), TmpDir: tmpDir}
}

type registerRequest struct {
	FullName string `form:"fullname" binding:"required"`
	Username string `form:"username" binding:"required,uname"`
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required,pwd"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,pwd"`
}

type updateDetailsRequest struct {
	FullName string `json:"fullname"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type userPayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FullName      string `json:"fullname"`
	AvatarURL     string `json:"avatar_url"`
	CoverImageURL string `json:"cover_image_url"`
}

func clientIP(c *gin.Context) string {
	if ip := c.GetString("real_ip"); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// Register POST /api/v1/users/register (multipart)
// Files: avatar (required), coverImage (optional).
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	avatar, ok := h.stageFile(c, "avatar")
	if !ok {
		response.Error(c, http.StatusBadRequest, "avatar file is required", nil)
		return
	}
	// Optional; absence is not an error.
	coverImage, _ := h.stageFile(c, "coverImage")

	u, err := h.Svc.Register(c.Request.Context(), userapp.RegisterInput{
		FullName:   req.FullName,
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Avatar:     avatar,
		CoverImage: coverImage,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, toPayload(u), "user registered")
}

// Login POST /api/v1/users/login
// Accepts username or email as the identifier; sets the cookie pair.
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if req.Username == "" && req.Email == "" {
		response.Error(c, http.StatusBadRequest, "username or email is required", nil)
		return
	}

	u, pair, err := h.Svc.Login(c.Request.Context(), req.Username, req.Email, req.Password, clientIP(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success(c, http.StatusOK, toPayload(u), "login successful")
}

// Refresh POST /api/v1/users/refresh
// Reads the refresh token from the cookie, falling back to the body field.
func (h *UserHandler) Refresh(c *gin.Context) {
	token, err := c.Cookie(helpers.RefreshCookie)
	if err != nil || token == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			response.Error(c, http.StatusUnauthorized, "missing refresh token", nil)
			return
		}
		token = req.RefreshToken
	}

	_, pair, err := h.Svc.Refresh(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success(c, http.StatusOK, gin.H{"refreshed": true}, "token refreshed")
}

// Logout POST /api/v1/users/logout (auth)
func (h *UserHandler) Logout(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	if err := h.Svc.Logout(c.Request.Context(), uid); err != nil {
		h.writeError(c, err)
		return
	}
	h.Cookies.Clear(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true}, "logged out")
}

// GetProfile GET /api/v1/users/profile (auth)
func (h *UserHandler) GetProfile(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	u, err := h.Svc.GetProfile(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toPayload(u), "profile")
}

// ChangePassword POST /api/v1/users/reset-password (auth)
func (h *UserHandler) ChangePassword(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if err := h.Svc.ChangePassword(c.Request.Context(), uid, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"changed": true}, "password updated")
}

// UpdateDetails PATCH /api/v1/users/update-detail (auth)
func (h *UserHandler) UpdateDetails(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	var req updateDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	u, err := h.Svc.UpdateDetails(c.Request.Context(), uid, userapp.UpdateDetailsInput{
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toPayload(u), "details updated")
}

// UpdateAvatar PATCH /api/v1/users/update-avatar (auth, multipart)
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	avatar, ok := h.stageFile(c, "avatar")
	if !ok {
		response.Error(c, http.StatusBadRequest, "avatar file is required", nil)
		return
	}
	u, err := h.Svc.UpdateAvatar(c.Request.Context(), uid, avatar)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toPayload(u), "avatar updated")
}

// Search GET /api/v1/users/search?q=&size= (auth)
func (h *UserHandler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		response.Error(c, http.StatusBadRequest, "query is required", nil)
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.Svc.SearchUsers(c.Request.Context(), q, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, hits, "search results")
}

// stageFile writes an uploaded form file into the local tmp dir and
// returns its staged handle. ok is false when the field is absent or
// the file could not be written.
func (h *UserHandler) stageFile(c *gin.Context, field string) (*userapp.StagedFile, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, false
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	dst := filepath.Join(h.TmpDir, name)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		h.Logger.WithError(err).WithField("field", field).Error("staging upload failed")
		return nil, false
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &userapp.StagedFile{Path: dst, ContentType: ct}, true
}

// writeError translates the errors a flow can produce into specific
// responses; anything unrecognized becomes a generic server fault.
func (h *UserHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, userapp.ErrMissingAvatar):
		response.Error(c, http.StatusBadRequest, "avatar file is required", nil)
	case errors.Is(err, userapp.ErrUserExists):
		response.Error(c, http.StatusConflict, "username or email already registered", nil)
	case errors.Is(err, userapp.ErrInvalidCredentials):
		response.Error(c, http.StatusUnauthorized, "invalid credentials", nil)
	case errors.Is(err, userapp.ErrUserNotFound):
		response.Error(c, http.StatusNotFound, "user not found", nil)
	case errors.Is(err, userapp.ErrRefreshInvalid),
		errors.Is(err, userapp.ErrRefreshUserNotFound),
		errors.Is(err, userapp.ErrRefreshStale):
		response.Error(c, http.StatusUnauthorized, "invalid refresh token", nil)
	case errors.Is(err, userapp.ErrAvatarUpload):
		response.Error(c, http.StatusBadGateway, "avatar upload failed", nil)
	default:
		h.Logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		response.Error(c, http.StatusInternalServerError, "internal error", nil)
	}
}

func toPayload(u *entity.User) userPayload {
	return userPayload{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		AvatarURL:     u.AvatarURL,
		CoverImageURL: u.CoverImageURL,
	}
}
