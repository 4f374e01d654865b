// handlers/bounty_routes.go
package handlers

import (
	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupBountyRoutes(api fiber.Router, bounties *services.BountyService) {
	api.Post("/bounties", bounties.CreateBounty)
	api.Get("/bounties", bounties.ListActiveBounties)
	api.Get("/my-bounties", bounties.ListMyBounties)
	api.Get("/bounties/:id", bounties.GetBounty)
	api.Patch("/bounties/:id/status", bounties.UpdateBountyStatus)
	api.Delete("/bounties/:id", bounties.DeleteBounty)

	api.Post("/bounties/:id/apply", bounties.ApplyToBounty)
	api.Get("/bounties/:id/contributions", bounties.ListContributions)

	// re-check the escrow deposit without waiting for the funding worker
	api.Post("/bounties/:id/fund", bounties.FundBounty)
}
