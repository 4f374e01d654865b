package services

import "github.com/gofiber/fiber/v2"

// currentUser returns the identity the auth middleware attached to the request.
func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
