package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, app *fiber.App, method, path string) (int, map[string]string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil), -1)
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestErrorHandlerEnvelope(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Get("/api-error", func(c *fiber.Ctx) error {
		return &services.APIError{Status: http.StatusConflict, Code: "bounty_settling", Message: "bounty is being settled"}
	})
	app.Get("/fiber-error", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusForbidden, "nope")
	})
	app.Get("/plain-error", func(c *fiber.Ctx) error {
		return errors.New("connection reset")
	})
	app.Use(NotFound)

	status, out := envelope(t, app, http.MethodGet, "/api-error")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "bounty_settling", out["code"])
	assert.Equal(t, "bounty is being settled", out["error"])

	status, out = envelope(t, app, http.MethodGet, "/fiber-error")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", out["code"])

	status, out = envelope(t, app, http.MethodGet, "/plain-error")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", out["code"])
	assert.NotContains(t, out["error"], "connection reset")

	status, out = envelope(t, app, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", out["code"])
}
