package router

import (
	userapp "github.com/vidtube/vidtube-api/internal/application"
	"github.com/vidtube/vidtube-api/internal/container"
	pginfra "github.com/vidtube/vidtube-api/internal/infrastructure/postgres"
	handlers "github.com/vidtube/vidtube-api/internal/interface/http"
	"github.com/vidtube/vidtube-api/internal/router/modules"
)

// InitModules initializes all application modules and registers them
// with the router registry. Called once during startup after the
// container singletons are set.
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	repo := pginfra.NewUserRepository(container.GetPGPool())

	var pub userapp.EmailPublisher
	if p := container.GetRabbitPub(); p != nil {
		pub = p
	}
	var storage userapp.ObjectStorage
	if g := container.GetGCS(); g != nil {
		storage = g
	}

	service := userapp.NewService(
		repo,
		container.GetJWT(),
		storage,
		container.GetRedis(),
		container.GetLogger(),
		container.GetES(),
		cfg.ESUsersIndex,
		pub,
		cfg.MailSendEnabled,
	)

	handler := handlers.NewUserHandler(
		service,
		container.GetLogger(),
		cfg.CookieDomain,
		cfg.UploadTmpDir,
	)

	r.Add(modules.NewUserModule(handler, container.GetJWT()))
}
