// handlers/errors.go
package handlers

import (
	"errors"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders every failure as {"error": message, "code": code}.
func ErrorHandler() fiber.ErrorHandler {
	log := logger.NewSublogger("http")

	return func(c *fiber.Ctx, err error) error {
		var apiErr *services.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status >= fiber.StatusInternalServerError {
				log.WithError(err).WithField("path", c.Path()).Error("❌ [HTTP] request failed")
			}
			return c.Status(apiErr.Status).JSON(fiber.Map{
				"error": apiErr.Message,
				"code":  apiErr.Code,
			})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiberErr.Message,
				"code":  codeForStatus(fiberErr.Code),
			})
		}

		log.WithError(err).WithField("path", c.Path()).Error("❌ [HTTP] unhandled error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
			"code":  "internal_error",
		})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	if status >= fiber.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}

// NotFound is mounted last and answers unknown routes.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Route not found",
		"code":  "not_found",
	})
}
