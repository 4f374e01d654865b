// services/ingress_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"bounty-settlement-system/archive"
	"bounty-settlement-system/logger"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-github/v57/github"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Settler settles one merged pull request.
type Settler interface {
	Settle(ctx context.Context, event *github.PullRequestEvent) (*SettlementResult, error)
}

// TaskRunner runs work off the request goroutine. *ants.Pool satisfies it.
type TaskRunner interface {
	Submit(task func()) error
}

type DeliveryHeaders struct {
	Event     string // X-GitHub-Event
	ID        string // X-GitHub-Delivery
	Signature string // X-Hub-Signature-256
}

type Ack struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// IngressService is the public GitHub delivery endpoint. Every structurally valid
// delivery is audited before any type specific handling.
type IngressService struct {
	DB            *gorm.DB
	Settlement    Settler
	Runner        TaskRunner
	Archiver      archive.Archiver
	Secret        string
	SettleTimeout time.Duration
	Metrics       *metrics.Metrics
	deliveries    *cache.Cache
	log           *logrus.Entry
}

func NewIngressService(db *gorm.DB, settler Settler, runner TaskRunner, archiver archive.Archiver, secret string, settleTimeout time.Duration, m *metrics.Metrics) *IngressService {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &IngressService{
		DB:            db,
		Settlement:    settler,
		Runner:        runner,
		Archiver:      archiver,
		Secret:        secret,
		SettleTimeout: settleTimeout,
		Metrics:       m,
		deliveries:    cache.New(time.Hour, 10*time.Minute),
		log:           logger.NewSublogger("ingress"),
	}
}

func (s *IngressService) HandleDelivery(ctx context.Context, h DeliveryHeaders, body []byte) (*Ack, error) {
	if h.Event == "" {
		return nil, errValidation("Missing GitHub event header")
	}
	if s.Secret != "" {
		if err := github.ValidateSignature(h.Signature, body, []byte(s.Secret)); err != nil {
			return nil, newAPIError(fiber.StatusBadRequest, "invalid_signature", "Invalid webhook signature", nil)
		}
	}

	delivery, err := ParseDelivery(h.Event, h.ID, body)
	if err != nil {
		return nil, errValidation("Invalid payload structure")
	}

	entry := s.log.WithFields(logrus.Fields{
		"event":       h.Event,
		"delivery_id": h.ID,
		"repository":  delivery.Repository,
	})

	record, err := s.audit(ctx, delivery)
	if err != nil {
		entry.WithError(err).Error("❌ [INGRESS] failed to persist delivery")
		return nil, errInternal("Failed to process webhook", err)
	}
	s.archive(record)

	if s.Metrics != nil {
		s.Metrics.WebhookDeliveries.WithLabelValues(h.Event).Inc()
	}

	if h.ID != "" {
		if err := s.deliveries.Add(h.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			entry.Info("🔁 [INGRESS] duplicate delivery audited, not dispatched")
			if s.Metrics != nil {
				s.Metrics.DuplicateDeliveries.Inc()
			}
			return ack(h.Event), nil
		}
	}

	s.dispatch(delivery, entry)
	return ack(h.Event), nil
}

func (s *IngressService) audit(ctx context.Context, d *Delivery) (*models.WebhookEvent, error) {
	record := &models.WebhookEvent{
		EventType:  d.Type,
		Payload:    datatypes.JSON(d.Raw),
		ReceivedAt: time.Now(),
	}
	if d.ID != "" {
		id := d.ID
		record.DeliveryID = &id
	}
	if d.Repository != "" {
		repo := d.Repository
		record.RepositoryFullName = &repo
	}
	if err := s.DB.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (s *IngressService) archive(record *models.WebhookEvent) {
	if _, ok := s.Archiver.(archive.Nop); ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		key := archive.Key(record.ReceivedAt, record.EventType, record.ID)
		if err := s.Archiver.Archive(ctx, key, record.Payload); err != nil {
			s.log.WithError(err).WithField("event_id", record.ID).Warn("⚠️ [INGRESS] archive failed")
		}
	}()
}

func (s *IngressService) dispatch(d *Delivery, entry *logrus.Entry) {
	switch d.Kind {
	case KindPing:
		entry.WithField("zen", d.Ping.GetZen()).Info("🏓 [INGRESS] ping")
	case KindPush:
		entry.WithField("ref", d.Push.GetRef()).Debug("📦 [INGRESS] push")
	case KindIssues, KindIssueComment:
		entry.Debug("💬 [INGRESS] issue activity")
	case KindPullRequest:
		if !d.IsMergedPullRequest() {
			entry.WithField("action", d.PullRequest.GetAction()).Debug("🔀 [INGRESS] pull request")
			return
		}
		event := d.PullRequest
		entry.WithField("pr", event.GetNumber()).Info("🎉 [INGRESS] merged pull request, dispatching settlement")
		err := s.Runner.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.SettleTimeout)
			defer cancel()
			res, err := s.Settlement.Settle(ctx, event)
			if err != nil {
				entry.WithError(err).Error("❌ [INGRESS] settlement did not complete")
				return
			}
			entry.WithFields(logrus.Fields{"outcome": res.Outcome, "bounty_id": res.BountyID}).Info("🏁 [INGRESS] settlement finished")
		})
		if err != nil {
			// forget the id so a GitHub redelivery is dispatched again
			if d.ID != "" {
				s.deliveries.Delete(d.ID)
			}
			entry.WithError(err).Error("❌ [INGRESS] could not queue settlement, redeliver manually")
		}
	default:
		entry.Debug("📨 [INGRESS] unhandled event type acknowledged")
	}
}

func ack(event string) *Ack {
	return &Ack{
		Success:   true,
		Message:   fmt.Sprintf("%s event processed successfully", event),
		Timestamp: time.Now().UTC(),
	}
}

// --- HTTP handler ---

func (s *IngressService) GitHubCallback(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer once the handler returns
	body := append([]byte(nil), c.Body()...)

	res, err := s.HandleDelivery(c.UserContext(), DeliveryHeaders{
		Event:     c.Get("X-GitHub-Event"),
		ID:        c.Get("X-GitHub-Delivery"),
		Signature: c.Get("X-Hub-Signature-256"),
	}, body)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
