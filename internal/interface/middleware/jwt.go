package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vidtube/vidtube-api/pkg/helpers"
	"github.com/vidtube/vidtube-api/pkg/response"
)

const CtxUserIDKey = "userID"

// JWTAuth resolves the request identity from the access token and
// injects the user ID into the Gin context. The cookie takes precedence
// over the Authorization bearer header. Verification is stateless: no
// store lookup happens here, so a session stays valid for protected
// routes until the access token expires even if the refresh token was
// invalidated in the meantime.
func JWTAuth(jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			response.AbortError(c, http.StatusUnauthorized, "missing access token", nil)
			return
		}
		claims, err := jwt.ParseAccessToken(token)
		if err != nil {
			response.AbortError(c, http.StatusUnauthorized, "invalid access token", err.Error())
			return
		}
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if t, err := c.Cookie(helpers.AccessCookie); err == nil && t != "" {
		return t
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
