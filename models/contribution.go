package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Contribution = a merged pull request that matched a bounty.
// It is written before any funds move and updated exactly once to a terminal payment status.
type Contribution struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID string `gorm:"type:uuid;not null;index" json:"bounty_id"`

	ContributorUsername string `gorm:"not null;index" json:"contributor_username"`
	ContributorID       int64  `json:"contributor_id"`
	ContributorEmail    string `json:"contributor_email,omitempty"`
	ContributorAvatar   string `json:"contributor_avatar,omitempty"`
	PayoutAddress       string `gorm:"size:42;not null" json:"payout_address"`
	UsedDefaultAddress  bool   `gorm:"not null;default:false" json:"used_default_address"`

	PRNumber    int        `gorm:"not null" json:"pr_number"`
	PRTitle     string     `json:"pr_title"`
	PRURL       string     `json:"pr_url"`
	PRAdditions int        `json:"pr_additions"`
	PRDeletions int        `json:"pr_deletions"`
	PRCommits   int        `json:"pr_commits"`
	MergedAt    *time.Time `json:"merged_at,omitempty"`
	MergedBy    string     `json:"merged_by,omitempty"`

	RepositoryName     string `json:"repository_name"`
	RepositoryFullName string `gorm:"index" json:"repository_full_name"`
	RepositoryURL      string `json:"repository_url"`

	PaymentStatus      PaymentStatus       `gorm:"size:16;not null;index" json:"payment_status"`
	TxHash             *string             `gorm:"size:66" json:"tx_hash,omitempty"`
	PaidAmount         decimal.NullDecimal `gorm:"type:numeric(78,18)" json:"paid_amount"`
	BlockNumber        *uint64             `json:"block_number,omitempty"`
	PaymentCompletedAt *time.Time          `json:"payment_completed_at,omitempty"`
	PaymentFailedAt    *time.Time          `json:"payment_failed_at,omitempty"`
	PaymentError       *string             `gorm:"type:text" json:"payment_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Contribution) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
