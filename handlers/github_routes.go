// handlers/github_routes.go
package handlers

import (
	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGitHubRoutes(api fiber.Router, repos *services.RepositoryService, webhooks *services.WebhookService) {
	api.Get("/repositories", repos.GetRepositories)
	api.Get("/repositories/:owner/:repo/pulls", repos.GetPulls)
	api.Get("/repositories/:owner/:repo/pulls/:number/diff", repos.GetPullDiff)

	api.Post("/repositories/:owner/:repo/webhook", webhooks.CreateRepositoryWebhook)
	api.Get("/webhooks", webhooks.ListUserWebhooks)
}
