// services/webhook_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bounty-settlement-system/ghclient"
	"bounty-settlement-system/logger"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequiredEvents is the event set every provisioned hook subscribes to.
var RequiredEvents = []string{"push", "pull_request", "issues", "issue_comment"}

// WebhookService keeps exactly one matching hook per repository.
type WebhookService struct {
	DB          *gorm.DB
	Tokens      TokenSource
	GitHub      ghclient.Factory
	CallbackURL string
	Secret      string
	Metrics     *metrics.Metrics
	log         *logrus.Entry
}

func NewWebhookService(db *gorm.DB, tokens TokenSource, gh ghclient.Factory, callbackURL, secret string, m *metrics.Metrics) *WebhookService {
	return &WebhookService{
		DB:          db,
		Tokens:      tokens,
		GitHub:      gh,
		CallbackURL: callbackURL,
		Secret:      secret,
		Metrics:     m,
		log:         logger.NewSublogger("webhooks"),
	}
}

type ProvisionResult struct {
	Record     *models.Webhook
	Hook       ghclient.Hook
	IsExisting bool
}

// sameEventSet compares as sets: order and duplicates are ignored, supersets do not match.
func sameEventSet(a, b []string) bool {
	set := func(events []string) []string {
		seen := make(map[string]struct{}, len(events))
		out := make([]string, 0, len(events))
		for _, e := range events {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
		sort.Strings(out)
		return out
	}
	x, y := set(a), set(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// EnsureWebhook reuses an active hook pointing at our callback with exactly the
// required events, or creates one, then records it locally once.
func (s *WebhookService) EnsureWebhook(ctx context.Context, ownerID, owner, repo string) (*ProvisionResult, error) {
	if owner == "" || repo == "" {
		return nil, errValidation("owner and repo are required")
	}
	entry := s.log.WithFields(logrus.Fields{"user_id": ownerID, "repository": owner + "/" + repo})

	gh, err := githubFor(ctx, s.Tokens, s.GitHub, ownerID)
	if err != nil {
		return nil, err
	}

	hooks, err := gh.ListHooks(ctx, owner, repo)
	if err != nil {
		s.countProvision("error")
		return nil, mapProvisioningError(err)
	}

	var hook *ghclient.Hook
	for i := range hooks {
		h := hooks[i]
		if h.URL == s.CallbackURL && sameEventSet(h.Events, RequiredEvents) && h.Active {
			hook = &h
			break
		}
	}

	isExisting := hook != nil
	if hook == nil {
		hook, err = gh.CreateHook(ctx, owner, repo, ghclient.NewHook{
			URL:    s.CallbackURL,
			Events: RequiredEvents,
			Secret: s.Secret,
		})
		if err != nil {
			s.countProvision("error")
			return nil, mapProvisioningError(err)
		}
		entry.WithField("hook_id", hook.ID).Info("🪝 [WEBHOOK] created repository hook")
	} else {
		entry.WithField("hook_id", hook.ID).Info("♻️ [WEBHOOK] reusing existing hook")
	}

	record, err := s.recordHook(ctx, ownerID, owner, repo, *hook, isExisting)
	if err != nil {
		return nil, errInternal("failed to store webhook", err)
	}

	if isExisting {
		s.countProvision("existing")
	} else {
		s.countProvision("created")
	}
	return &ProvisionResult{Record: record, Hook: *hook, IsExisting: isExisting}, nil
}

// recordHook inserts the local row if absent and never rewrites an existing one.
func (s *WebhookService) recordHook(ctx context.Context, ownerID, owner, repo string, hook ghclient.Hook, isExisting bool) (*models.Webhook, error) {
	repositoryID := owner + "/" + repo
	db := s.DB.WithContext(ctx)

	var record models.Webhook
	err := db.Where("owner_id = ? AND remote_hook_id = ? AND repository_id = ?", ownerID, hook.ID, repositoryID).
		First(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record = models.Webhook{
		OwnerID:      ownerID,
		RemoteHookID: hook.ID,
		RepositoryID: repositoryID,
		Owner:        owner,
		Repo:         repo,
		CallbackURL:  hook.URL,
		Events:       datatypes.JSONSlice[string](hook.Events),
		Active:       hook.Active,
		IsExisting:   isExisting,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return nil, err
	}

	// a concurrent call may have won the insert
	if err := db.Where("owner_id = ? AND remote_hook_id = ? AND repository_id = ?", ownerID, hook.ID, repositoryID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *WebhookService) ListWebhooks(ctx context.Context, ownerID string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc").Find(&hooks).Error; err != nil {
		return nil, errInternal("failed to fetch webhooks", err)
	}
	return hooks, nil
}

func (s *WebhookService) countProvision(result string) {
	if s.Metrics != nil {
		s.Metrics.WebhookProvisions.WithLabelValues(result).Inc()
	}
}

func mapProvisioningError(err error) *APIError {
	switch ghclient.StatusCode(err) {
	case fiber.StatusForbidden:
		return errUpstream(fiber.StatusForbidden, "forbidden", "insufficient permissions to manage webhooks on this repository", err)
	case fiber.StatusUnprocessableEntity:
		return errUpstream(fiber.StatusUnprocessableEntity, "unprocessable", "github rejected the webhook configuration", err)
	case fiber.StatusUnauthorized:
		return errUpstream(fiber.StatusUnauthorized, "github_unauthorized", "github token was rejected", err)
	case fiber.StatusNotFound:
		return errUpstream(fiber.StatusNotFound, "not_found", "repository not found", err)
	}
	return errUpstream(fiber.StatusInternalServerError, "webhook_provisioning_failed", "failed to create webhook", err)
}

// githubFor builds a client acting as the given user.
func githubFor(ctx context.Context, tokens TokenSource, factory ghclient.Factory, userID string) (ghclient.Client, error) {
	token, err := tokens.GitHubToken(ctx, userID)
	if errors.Is(err, ErrNoDelegatedToken) || (err == nil && token == "") {
		return nil, newAPIError(fiber.StatusBadRequest, "github_token_missing",
			"GitHub access token not found. Please connect your GitHub account.", nil)
	}
	if err != nil {
		return nil, errUpstream(fiber.StatusBadGateway, "identity_provider_unavailable",
			fmt.Sprintf("failed to fetch github token for %s", userID), err)
	}
	return factory(token), nil
}

// --- HTTP handlers ---

func (s *WebhookService) CreateRepositoryWebhook(c *fiber.Ctx) error {
	res, err := s.EnsureWebhook(c.UserContext(), currentUser(c), c.Params("owner"), c.Params("repo"))
	if err != nil {
		return err
	}
	message := "Webhook created successfully"
	if res.IsExisting {
		message = "Webhook already exists"
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"isExisting": res.IsExisting,
		"message":    message,
		"webhook": fiber.Map{
			"id":     res.Hook.ID,
			"url":    res.Hook.URL,
			"events": res.Hook.Events,
			"active": res.Hook.Active,
		},
	})
}

func (s *WebhookService) ListUserWebhooks(c *fiber.Ctx) error {
	hooks, err := s.ListWebhooks(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"webhooks": hooks})
}
