// handlers/routes.go
package handlers

import (
	"bounty-settlement-system/middleware"
	"bounty-settlement-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services is everything the router mounts. It is assembled once in cmd.
type Services struct {
	Health       *services.HealthService
	Repositories *services.RepositoryService
	Webhooks     *services.WebhookService
	Ingress      *services.IngressService
	Identity     *services.IdentitySyncService
	Bounties     *services.BountyService
	Users        *services.UserService
	Wallet       *services.WalletService

	Verifier     middleware.TokenVerifier
	Gatherer     prometheus.Gatherer
	MetricsToken string
}

func Setup(app *fiber.App, s Services) {
	// 🔓 Public routes
	app.Get("/health", s.Health.Health)
	if s.Gatherer != nil {
		app.Get("/metrics", middleware.StaticBearer(s.MetricsToken),
			adaptor.HTTPHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	// signed by their senders, not by a user session
	app.Post("/api/webhook/callback", s.Ingress.GitHubCallback)
	app.Post("/api/webhooks/clerk", s.Identity.ClerkWebhook)

	// 🔐 Session routes
	api := app.Group("/api", middleware.RequireAuth(s.Verifier))
	SetupGitHubRoutes(api, s.Repositories, s.Webhooks)
	SetupBountyRoutes(api, s.Bounties)
	SetupUserRoutes(api, s.Users, s.Wallet)

	app.Use(NotFound)
}
