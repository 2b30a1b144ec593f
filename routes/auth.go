package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/config"
	"github.com/storytailor/storytailor/models"
)

// NewOAuthConfig returns the Auth0 authorization-code config, or nil when Auth0 is not configured.
func NewOAuthConfig(cfg *config.Config) *oauth2.Config {
	if !cfg.Auth0Enabled() {
		return nil
	}
	return &oauth2.Config{
		RedirectURL:  cfg.Auth0CallbackURL,
		ClientID:     cfg.Auth0ClientID,
		ClientSecret: cfg.Auth0ClientSecret,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://%s/authorize", cfg.Auth0Domain),
			TokenURL: fmt.Sprintf("https://%s/oauth/token", cfg.Auth0Domain),
		},
	}
}

// UserInfo is the subset of Auth0's /userinfo response we persist.
type UserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
}

// UpsertUser creates the local user for an Auth0 subject or refreshes its profile.
func UpsertUser(db *gorm.DB, info UserInfo) (*models.User, error) {
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo has no subject", models.ErrInvalidInput)
	}

	var user models.User
	err := db.Where("auth0_id = ?", info.Sub).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email:         info.Email,
			Name:          info.Name,
			Picture:       info.Picture,
			Auth0ID:       info.Sub,
			EmailVerified: info.EmailVerified,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		user.Email = info.Email
		user.Name = info.Name
		user.Picture = info.Picture
		user.EmailVerified = info.EmailVerified
		if err := db.Save(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}
	return &user, nil
}

func (h *Handler) LoginWithGoogle(c *fiber.Ctx) error {
	if h.OAuth == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Login is not configured"})
	}

	sess, err := h.Sessions.Get(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error getting session")
	}
	state := uuid.NewString()
	sess.Set("oauth_state", state)
	if err := sess.Save(); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error saving session")
	}

	url := h.OAuth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("connection", "google-oauth2"),
		oauth2.SetAuthURLParam("audience", h.Auth0Audience),
	)
	return c.Redirect(url)
}

func (h *Handler) Callback(c *fiber.Ctx) error {
	if h.OAuth == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Login is not configured"})
	}

	sess, err := h.Sessions.Get(c)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error getting session")
	}
	expected, _ := sess.Get("oauth_state").(string)
	if expected == "" || c.Query("state") != expected {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid oauth state")
	}
	sess.Delete("oauth_state")

	ctx := c.UserContext()
	token, err := h.OAuth.Exchange(ctx, c.Query("code"))
	if err != nil {
		log.Printf("OAuth code exchange failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Code exchange failed")
	}

	client := h.OAuth.Client(ctx, token)
	resp, err := client.Get(fmt.Sprintf("https://%s/userinfo", h.Auth0Domain))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed getting user info")
	}
	defer resp.Body.Close()

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed decoding user info")
	}

	user, err := UpsertUser(h.DB.WithContext(ctx), info)
	if err != nil {
		log.Printf("Error saving user %s: %v", info.Sub, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to save user")
	}

	// The dashboard's scripts call the API with this token.
	c.Cookie(&fiber.Cookie{
		Name:     "jwt",
		Value:    token.AccessToken,
		Expires:  time.Now().Add(time.Hour * 24),
		Secure:   h.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	sess.Set("user_id", user.ID)
	if err := sess.Save(); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Error saving session")
	}

	log.Printf("User %s logged in", user.Email)
	return c.Redirect("/dashboard")
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	sess, err := h.Sessions.Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			log.Printf("Error destroying session: %v", err)
		}
	}
	c.ClearCookie("jwt")
	return c.Redirect("/home")
}
