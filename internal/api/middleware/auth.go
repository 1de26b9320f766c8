/**
 * @description
 * Authentication middleware.
 * Protected validates Bearer JWTs against the identity provider's JWKS.
 * JobSecret guards the sweep and admin endpoints with a shared secret header.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 * - github.com/golang-jwt/jwt/v5: JWT parsing
 * - github.com/MicahParks/keyfunc/v2: JWKS fetching and caching
 *
 * @notes
 * - Requires AUTH_JWKS_URL for user routes and JOB_SYNC_SECRET for job routes.
 */

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
)

const (
	JobSecretHeader = "X-Job-Secret"
	authUIDLocal    = "auth_uid"
)

// Authenticator verifies user tokens. A nil keyfunc rejects every request.
type Authenticator struct {
	keyfunc jwt.Keyfunc
}

// NewAuthenticator fetches the JWKS and keeps it refreshed in the background.
func NewAuthenticator(cfg *config.Config) (*Authenticator, error) {
	if cfg.Services.JWKSURL == "" {
		logger.Warn("AUTH_JWKS_URL is empty. Protected routes will reject all requests.")
		return &Authenticator{}, nil
	}

	jwks, err := keyfunc.Get(cfg.Services.JWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error("There was an error with the JWKS refresh: %v", err)
		},
	})
	if err != nil {
		return &Authenticator{}, err
	}
	logger.Info("Auth middleware initialized with JWKS")
	return &Authenticator{keyfunc: jwks.Keyfunc}, nil
}

// NewAuthenticatorWithKeyfunc builds an Authenticator around a fixed key source.
func NewAuthenticatorWithKeyfunc(kf jwt.Keyfunc) *Authenticator {
	return &Authenticator{keyfunc: kf}
}

// Protected protects routes requiring authentication
func (a *Authenticator) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a == nil || a.keyfunc == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Auth configuration not initialized",
			})
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token format"})
		}

		token, err := jwt.Parse(tokenString, a.keyfunc, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token missing subject"})
		}

		c.Locals(authUIDLocal, sub)
		return c.Next()
	}
}

// JobSecret admits requests carrying the configured secret in X-Job-Secret.
func JobSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Job secret not configured"})
		}
		got := strings.TrimSpace(c.Get(JobSecretHeader))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Next()
	}
}

// GetAuthUID returns the authenticated caller's subject from context
func GetAuthUID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(authUIDLocal).(string)
	if !ok || id == "" {
		return "", errors.New("auth uid not found in context")
	}
	return id, nil
}
