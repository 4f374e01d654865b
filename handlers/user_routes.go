// handlers/user_routes.go
package handlers

import (
	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupUserRoutes(api fiber.Router, users *services.UserService, wallet *services.WalletService) {
	api.Get("/users/profile", users.GetProfile)
	api.Patch("/users/wallet", users.UpdateWallet)
	api.Get("/users/gtk-balance", wallet.GetUserBalance)

	api.Get("/wallet/balance", wallet.GetOperatorBalance)
}
