package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Webhook is the local record of a repository hook we provisioned or adopted.
type Webhook struct {
	ID           string                      `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID      string                      `gorm:"not null;uniqueIndex:idx_webhook_owner_hook_repo" json:"owner_id"`
	RemoteHookID int64                       `gorm:"not null;uniqueIndex:idx_webhook_owner_hook_repo" json:"remote_hook_id"`
	RepositoryID string                      `gorm:"not null;uniqueIndex:idx_webhook_owner_hook_repo" json:"repository_id"` // owner/repo
	Owner        string                      `gorm:"not null" json:"owner"`
	Repo         string                      `gorm:"not null" json:"repo"`
	CallbackURL  string                      `gorm:"not null" json:"callback_url"`
	Events       datatypes.JSONSlice[string] `json:"events"`
	Active       bool                        `gorm:"not null" json:"active"`
	IsExisting   bool                        `gorm:"not null" json:"is_existing"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// WebhookEvent is the append-only audit log of inbound GitHub deliveries.
type WebhookEvent struct {
	ID                 string         `gorm:"primaryKey;type:uuid" json:"id"`
	DeliveryID         *string        `gorm:"index" json:"delivery_id,omitempty"`
	EventType          string         `gorm:"size:64;not null;index" json:"event_type"`
	RepositoryFullName *string        `gorm:"index" json:"repository_full_name,omitempty"`
	Payload            datatypes.JSON `gorm:"not null" json:"payload"`
	ReceivedAt         time.Time      `gorm:"not null;index" json:"received_at"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
