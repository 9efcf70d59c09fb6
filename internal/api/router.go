package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/service"
)

type Deps struct {
	Config    config.Config
	DB        handlers.Pinger
	Posts     service.PostService
	Publisher service.PublisherService
	Platforms service.PlatformService
	Users     service.UserService
	// Tasks is optional; without it publishing runs inline.
	Tasks queue.Enqueuer
	// MediaRoot is served under /media for the local storage driver, so
	// platforms can fetch public copies by URL.
	MediaRoot string
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    600 * 1024 * 1024, // five videos at the upload limit
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				slog.Error(err.Error(), "path", c.Path())
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	health := handlers.NewHealthHandler(d.DB)
	app.Get("/healthz", health.Healthz)
	if d.MediaRoot != "" {
		app.Static("/media", d.MediaRoot)
	}

	authMiddleware := middleware.NewAuthMiddleware(d.Config)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(d.Users)
	api.Get("/user/info", user.GetUserInfo)

	post := handlers.NewPostHandler(d.Posts, d.Publisher, d.Tasks)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Put("/posts/:id/platforms", post.UpdatePlatforms)
	api.Delete("/posts/:id", post.RemovePost)
	api.Post("/posts/:id/publish", post.PublishPost)
	api.Post("/posts/:id/retry", post.RetryPost)

	platform := handlers.NewPlatformHandler(d.Platforms, d.Publisher)
	api.Get("/platforms", platform.ListSocialAccounts)
	api.Get("/platforms/check", platform.CheckConnections)
	api.Post("/platforms", platform.ConnectAccount)
	api.Delete("/platforms/:platform", platform.DeleteSocialAccount)

	return app
}
