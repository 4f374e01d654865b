// models/bounty.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BountyStatus is the lifecycle state owned by the bounty store and the settlement engine.
type BountyStatus string

const (
	BountyStatusActive        BountyStatus = "active"
	BountyStatusSettling      BountyStatus = "settling" // claimed by a merge, release in flight
	BountyStatusCompleted     BountyStatus = "completed"
	BountyStatusCancelled     BountyStatus = "cancelled"
	BountyStatusPaymentFailed BountyStatus = "payment_failed"
	BountyStatusEscrowFailed  BountyStatus = "escrow_failed"
)

func (s BountyStatus) Valid() bool {
	switch s {
	case BountyStatusActive, BountyStatusSettling, BountyStatusCompleted,
		BountyStatusCancelled, BountyStatusPaymentFailed, BountyStatusEscrowFailed:
		return true
	}
	return false
}

// EscrowStatus tracks the funds backing a bounty.
type EscrowStatus string

const (
	EscrowStatusPending        EscrowStatus = "pending"
	EscrowStatusPendingDeposit EscrowStatus = "pending_deposit"
	EscrowStatusActive         EscrowStatus = "active"
	EscrowStatusReleased       EscrowStatus = "released"
	EscrowStatusReleaseFailed  EscrowStatus = "release_failed"
	EscrowStatusFailed         EscrowStatus = "failed"
)

// FundableEscrowStatuses are the states a listed bounty may be in.
var FundableEscrowStatuses = []EscrowStatus{
	EscrowStatusPending,
	EscrowStatusPendingDeposit,
	EscrowStatusActive,
}

// Bounty is a reward posted against one GitHub repository.
// At most one bounty per repository may be active or settling; the partial
// unique index below backs the check done on create.
type Bounty struct {
	ID                 string                      `gorm:"primaryKey;type:uuid" json:"id"`
	Slug               string                      `gorm:"index" json:"slug"`
	Title              string                      `gorm:"not null" json:"title"`
	Description        string                      `gorm:"type:text;not null" json:"description"`
	Amount             decimal.Decimal             `gorm:"type:numeric(78,18);not null" json:"amount"`
	Currency           string                      `gorm:"size:16;not null" json:"currency"`
	RepositoryFullName string                      `gorm:"not null;index;index:idx_bounties_open_repository,unique,where:status = 'active' OR status = 'settling'" json:"repository_full_name"`
	Requirements       datatypes.JSONSlice[string] `json:"requirements"`
	CreatedBy          string                      `gorm:"not null;index" json:"created_by"`

	Status             BountyStatus `gorm:"size:32;not null;index" json:"status"`
	EscrowStatus       EscrowStatus `gorm:"size:32;not null;index" json:"escrow_status"`
	EscrowOwnerAddress string       `gorm:"size:42" json:"escrow_owner_address,omitempty"`
	EscrowError        *string      `gorm:"type:text" json:"escrow_error,omitempty"`
	EscrowCreatedAt    *time.Time   `json:"escrow_created_at,omitempty"`

	Applicants []BountyApplicant `gorm:"foreignKey:BountyID;constraint:OnDelete:CASCADE" json:"applicants"`

	CompletedBy    *string    `json:"completed_by,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ContributionID *string    `gorm:"type:uuid" json:"contribution_id,omitempty"`
	PaymentError   *string    `gorm:"type:text" json:"payment_error,omitempty"`

	// Bumped on every state transition
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *Bounty) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Requirements == nil {
		b.Requirements = datatypes.JSONSlice[string]{}
	}
	return nil
}

// HasApplicant reports whether identity already applied.
func (b *Bounty) HasApplicant(identity string) bool {
	for _, a := range b.Applicants {
		if a.ApplicantID == identity {
			return true
		}
	}
	return false
}

type ApplicantStatus string

const (
	ApplicantStatusPending  ApplicantStatus = "pending"
	ApplicantStatusAccepted ApplicantStatus = "accepted"
	ApplicantStatusRejected ApplicantStatus = "rejected"
)

type BountyApplicant struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID    string          `gorm:"type:uuid;not null;uniqueIndex:idx_bounty_applicant" json:"bounty_id"`
	ApplicantID string          `gorm:"not null;uniqueIndex:idx_bounty_applicant" json:"applicant_id"`
	Status      ApplicantStatus `gorm:"size:16;not null" json:"status"`
	AppliedAt   time.Time       `gorm:"not null" json:"applied_at"`
}

func (a *BountyApplicant) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
