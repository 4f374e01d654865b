package services

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// APIError is a failure with a stable code and the HTTP status it maps to.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(status int, code, message string, err error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Err: err}
}

func errValidation(message string) *APIError {
	return newAPIError(fiber.StatusBadRequest, "validation_failed", message, nil)
}

func errNotFound(what string) *APIError {
	return newAPIError(fiber.StatusNotFound, "not_found", what+" not found", nil)
}

func errForbidden(message string) *APIError {
	return newAPIError(fiber.StatusForbidden, "forbidden", message, nil)
}

func errConflict(code, message string) *APIError {
	return newAPIError(fiber.StatusConflict, code, message, nil)
}

func errInternal(message string, err error) *APIError {
	return newAPIError(fiber.StatusInternalServerError, "internal_error", message, err)
}

func errUpstream(status int, code, message string, err error) *APIError {
	return newAPIError(status, code, message, err)
}
