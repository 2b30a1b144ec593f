package routes

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/storytailor/storytailor/middleware"
	"github.com/storytailor/storytailor/models"
)

func (h *Handler) Home(c *fiber.Ctx) error {
	return c.Render("home", fiber.Map{
		"Title":        "StoryTailor",
		"LoginEnabled": h.OAuth != nil,
	})
}

func (h *Handler) Dashboard(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Redirect("/home")
	}

	var user models.User
	if err := h.DB.WithContext(c.UserContext()).First(&user, userID).Error; err != nil {
		log.Printf("Error fetching user: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	stories, err := h.Pipeline.ListStories(c.UserContext(), userID)
	if err != nil {
		log.Printf("Error listing stories for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	log.Printf("User %s accessed the dashboard", user.Email)

	return c.Render("dashboard", fiber.Map{
		"Title":   "Your stories",
		"Name":    user.Name,
		"Email":   user.Email,
		"Picture": user.Picture,
		"Stories": stories,
	})
}
