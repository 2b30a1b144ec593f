package middleware

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/models"
)

// Authenticator validates bearer tokens and resolves them to a local user.
// In Auth0 mode tokens are RS256 and verified against the tenant's JWKS; in
// secret mode (local development) they are HS256 signed with a shared secret.
type Authenticator struct {
	db       *gorm.DB
	keyFunc  jwt.Keyfunc
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
}

// NewAuth0Authenticator fetches the tenant's JWKS and keeps it refreshed.
func NewAuth0Authenticator(db *gorm.DB, domain, audience string) (*Authenticator, error) {
	jwksURL := "https://" + domain + "/.well-known/jwks.json"
	options := keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Printf("JWKS refresh failed: %v", err)
		},
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS from Auth0: %w", err)
	}
	return &Authenticator{
		db:       db,
		keyFunc:  jwks.Keyfunc,
		jwks:     jwks,
		audience: audience,
		issuer:   "https://" + domain + "/",
	}, nil
}

func NewSecretAuthenticator(db *gorm.DB, secret string) *Authenticator {
	key := []byte(secret)
	return &Authenticator{
		db: db,
		keyFunc: func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		},
	}
}

// Close stops the JWKS background refresh.
func (a *Authenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}

// AuthRequired protects API routes. The token comes from the Authorization header
// or, for browser requests, the jwt cookie set by the login callback.
func (a *Authenticator) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ""
		if authHeader := c.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return unauthorized(c, "Invalid Authorization header format")
			}
			tokenString = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		} else {
			tokenString = c.Cookies("jwt")
		}
		if tokenString == "" {
			return unauthorized(c, "Missing Authorization header")
		}

		token, err := jwt.Parse(tokenString, a.keyFunc)
		if err != nil || !token.Valid {
			return unauthorized(c, "Invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c, "Invalid token claims")
		}
		if a.audience != "" {
			if err := verifyAudience(claims, a.audience); err != nil {
				return unauthorized(c, "Invalid audience")
			}
		}
		if a.issuer != "" {
			if err := verifyIssuer(claims, a.issuer); err != nil {
				return unauthorized(c, "Invalid issuer")
			}
		}

		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return unauthorized(c, "Invalid token claims: 'sub' missing")
		}

		var user models.User
		if err := a.db.WithContext(c.UserContext()).Where("auth0_id = ?", sub).First(&user).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("Error looking up user %s: %v", sub, err)
			}
			return unauthorized(c, "User not found")
		}

		c.Locals("user_id", user.ID)
		c.Locals("user", claims)
		return c.Next()
	}
}

// UserID returns the authenticated user's id set by AuthRequired or SessionAuthRequired.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("user_id").(uint)
	return id, ok
}

func verifyAudience(claims jwt.MapClaims, expectedAudience string) error {
	audValue, ok := claims["aud"]
	if !ok {
		return errors.New("audience claim is missing")
	}

	switch aud := audValue.(type) {
	case string:
		if aud != expectedAudience {
			return errors.New("invalid audience")
		}
	case []interface{}:
		for _, a := range aud {
			if aStr, ok := a.(string); ok && aStr == expectedAudience {
				return nil
			}
		}
		return errors.New("invalid audience")
	default:
		return errors.New("invalid audience claim format")
	}

	return nil
}

func verifyIssuer(claims jwt.MapClaims, expectedIssuer string) error {
	iss, ok := claims["iss"].(string)
	if !ok {
		return errors.New("issuer claim is missing or invalid")
	}
	if iss != expectedIssuer {
		return errors.New("invalid issuer")
	}
	return nil
}
