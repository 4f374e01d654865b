package models

import (
	"time"
)

// User is a local snapshot of an identity provider account.
// Populated by the provider's lifecycle webhooks and the backfill worker; PayoutAddress
// is owned by the user and never touched by those upserts.
type User struct {
	ID             string  `gorm:"primaryKey" json:"id"` // identity provider user id
	Email          string  `json:"email,omitempty"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
	Username       string  `gorm:"index" json:"username,omitempty"`
	AvatarURL      string  `json:"avatar_url,omitempty"`
	GitHubUsername *string `gorm:"column:github_username;index" json:"github_username,omitempty"`

	// Empty means not set
	PayoutAddress string `gorm:"size:42;not null;default:''" json:"payout_address"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// All returns every model owned by the service, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Bounty{},
		&BountyApplicant{},
		&Contribution{},
		&Webhook{},
		&WebhookEvent{},
	}
}
