package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// SessionAuthRequired ensures that the user logged in through the OAuth callback.
// Unauthenticated browsers are redirected to the home page.
func SessionAuthRequired(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			log.Printf("Error retrieving session: %v", err)
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		}

		userID, ok := sess.Get("user_id").(uint)
		if !ok {
			return c.Redirect("/home")
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
