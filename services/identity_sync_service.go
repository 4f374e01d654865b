// services/identity_sync_service.go
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bounty-settlement-system/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SignatureTolerance bounds how old a signed identity webhook may be.
const SignatureTolerance = 5 * time.Minute

var (
	ErrMissingSignatureHeaders = errors.New("missing svix headers")
	ErrSignatureMismatch       = errors.New("no matching signature")
	ErrSignatureExpired        = errors.New("signature timestamp outside tolerance")
)

type SignedHeaders struct {
	ID        string // svix-id
	Timestamp string // svix-timestamp, unix seconds
	Signature string // svix-signature, space separated "v1,<base64>"
}

// VerifySignedWebhook checks a Svix style signature over "id.timestamp.body".
func VerifySignedWebhook(secret string, h SignedHeaders, body []byte, now time.Time) error {
	if h.ID == "" || h.Timestamp == "" || h.Signature == "" {
		return ErrMissingSignatureHeaders
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid svix-timestamp: %w", err)
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > SignatureTolerance || sent.Sub(now) > SignatureTolerance {
		return ErrSignatureExpired
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return fmt.Errorf("invalid signing secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(h.ID + "." + h.Timestamp + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(h.Signature) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

type identityEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IdentitySyncService keeps the user directory in step with the identity provider.
type IdentitySyncService struct {
	Users  *UserService
	Secret string
	now    func() time.Time
	log    *logrus.Entry
}

func NewIdentitySyncService(users *UserService, secret string) *IdentitySyncService {
	return &IdentitySyncService{
		Users:  users,
		Secret: secret,
		now:    time.Now,
		log:    logger.NewSublogger("identity"),
	}
}

// HandleEvent verifies and applies one lifecycle webhook. It returns the event type.
func (s *IdentitySyncService) HandleEvent(ctx context.Context, h SignedHeaders, body []byte) (string, error) {
	if err := VerifySignedWebhook(s.Secret, h, body, s.now()); err != nil {
		s.log.WithError(err).WithField("svix_id", h.ID).Warn("🚫 [IDENTITY] rejected webhook")
		return "", newAPIError(fiber.StatusBadRequest, "invalid_signature", "Invalid webhook signature", err)
	}

	var event identityEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Type == "" {
		return "", errValidation("Invalid payload structure")
	}

	switch event.Type {
	case "user.created", "user.updated":
		var u IdentityUser
		if err := json.Unmarshal(event.Data, &u); err != nil {
			return "", errValidation("Invalid user payload")
		}
		if _, err := s.Users.UpsertIdentity(ctx, u); err != nil {
			return "", err
		}
		s.log.WithFields(logrus.Fields{"type": event.Type, "user_id": u.ID}).Info("👤 [IDENTITY] user synced")
	default:
		s.log.WithField("type", event.Type).Debug("📨 [IDENTITY] event ignored")
	}
	return event.Type, nil
}

// SyncPage upserts a page of users fetched by the backfill worker.
func (s *IdentitySyncService) SyncPage(ctx context.Context, users []IdentityUser) (upserted int, failed int) {
	for _, u := range users {
		if _, err := s.Users.UpsertIdentity(ctx, u); err != nil {
			failed++
			s.log.WithError(err).WithField("user_id", u.ID).Warn("⚠️ [IDENTITY] upsert failed")
			continue
		}
		upserted++
	}
	return upserted, failed
}

// --- HTTP handler ---

func (s *IdentitySyncService) ClerkWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	eventType, err := s.HandleEvent(c.UserContext(), SignedHeaders{
		ID:        c.Get("svix-id"),
		Timestamp: c.Get("svix-timestamp"),
		Signature: c.Get("svix-signature"),
	}, body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "type": eventType})
}
