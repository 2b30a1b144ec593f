package routes

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/jobs"
	"github.com/storytailor/storytailor/middleware"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/pipeline"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	DB       *gorm.DB
	Pipeline *pipeline.Pipeline
	Jobs     *jobs.Manager
	Sessions *session.Store

	// OAuth is nil when Auth0 login is not configured.
	OAuth         *oauth2.Config
	Auth0Domain   string
	Auth0Audience string
	SecureCookies bool
}

// Register mounts every route on app. auth guards the JSON API.
func Register(app *fiber.App, h *Handler, auth fiber.Handler) {
	// Public routes
	app.Get("/healthz", h.Health)
	app.Get("/", func(c *fiber.Ctx) error { return c.Redirect("/home") })
	app.Get("/home", h.Home)
	app.Get("/login/google", h.LoginWithGoogle)
	app.Get("/callback", h.Callback)
	app.Get("/logout", h.Logout)

	app.Get("/dashboard", middleware.SessionAuthRequired(h.Sessions), h.Dashboard)

	// Protected routes
	api := app.Group("/api", auth)

	api.Post("/stories", h.CreateStory)
	api.Get("/stories", h.ListStories)
	api.Get("/stories/:id", h.GetStory)
	api.Delete("/stories/:id", h.DeleteStory)
	api.Post("/stories/:id/script", h.GenerateScript)
	api.Post("/stories/:id/narration", h.GenerateNarration)
	api.Post("/stories/:id/images", h.GenerateImages)
	api.Post("/stories/:id/video", h.CreateVideoJob)
	api.Get("/stories/:id/video-jobs", h.ListVideoJobs)

	api.Get("/video-jobs/:id", h.GetVideoJob)
	api.Post("/video-jobs/:id/cancel", h.CancelVideoJob)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}
	if err != nil {
		log.Printf("Health check failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func userID(c *fiber.Ctx) (uint, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, fiber.ErrUnauthorized
	}
	return id, nil
}

func storyID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid story id")
	}
	return uint(id), nil
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	status := fiber.StatusInternalServerError
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrJobActive),
		errors.Is(err, models.ErrBusy),
		errors.Is(err, models.ErrInvalidTransition):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal Server Error"})
	}
	msg := err.Error()
	if fe != nil {
		msg = fe.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
