package modules

import (
	"github.com/gin-gonic/gin"

	handlers "github.com/vidtube/vidtube-api/internal/interface/http"
	"github.com/vidtube/vidtube-api/internal/interface/middleware"
	"github.com/vidtube/vidtube-api/pkg/helpers"
)

// UserModule wires user HTTP handlers and JWT middleware into routes.
// Public: register, login, refresh.
// Protected: logout, profile, reset-password, update-detail,
// update-avatar, search.
type UserModule struct {
	Handler *handlers.UserHandler
	JWT     *helpers.JWTManager
}

func NewUserModule(h *handlers.UserHandler, jwt *helpers.JWTManager) *UserModule {
	return &UserModule{Handler: h, JWT: jwt}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	users := rg.Group("/users")

	users.POST("/register", m.Handler.Register)
	users.POST("/login", m.Handler.Login)
	users.POST("/refresh", m.Handler.Refresh)

	auth := users.Group("/")
	auth.Use(middleware.JWTAuth(m.JWT))
	{
		auth.POST("/logout", m.Handler.Logout)
		auth.GET("/profile", m.Handler.GetProfile)
		auth.POST("/reset-password", m.Handler.ChangePassword)
		auth.PATCH("/update-detail", m.Handler.UpdateDetails)
		auth.PATCH("/update-avatar", m.Handler.UpdateAvatar)
		auth.GET("/search", m.Handler.Search)
	}
}
