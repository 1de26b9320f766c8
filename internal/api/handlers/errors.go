package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/services"
)

// respondError maps a service error to its HTTP status. Storage and unknown errors
// are logged and returned as an opaque message.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusUnauthorized
	case errors.Is(err, services.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrNotActive):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrAdapterUnavailable):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
