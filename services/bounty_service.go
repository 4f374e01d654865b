// services/bounty_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bounty-settlement-system/escrow"
	"bounty-settlement-system/logger"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var repositoryNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// openStatuses are the bounty states that hold a repository.
var openStatuses = []models.BountyStatus{models.BountyStatusActive, models.BountyStatusSettling}

type BountyService struct {
	DB          *gorm.DB
	Users       *UserService
	Ledger      escrow.Ledger
	TokenSymbol string
	Metrics     *metrics.Metrics
	log         *logrus.Entry
}

func NewBountyService(db *gorm.DB, users *UserService, ledger escrow.Ledger, tokenSymbol string, m *metrics.Metrics) *BountyService {
	return &BountyService{
		DB:          db,
		Users:       users,
		Ledger:      ledger,
		TokenSymbol: tokenSymbol,
		Metrics:     m,
		log:         logger.NewSublogger("bounties"),
	}
}

type CreateBountyInput struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	RepositoryFullName string          `json:"repository_full_name"`
	Requirements       []string        `json:"requirements"`
}

func (in *CreateBountyInput) normalize() {
	// stored in NFC so composed and decomposed input slug the same way
	in.Title = norm.NFC.String(strings.TrimSpace(in.Title))
	in.Description = norm.NFC.String(strings.TrimSpace(in.Description))
	in.RepositoryFullName = strings.TrimSpace(in.RepositoryFullName)
	in.Currency = strings.TrimSpace(in.Currency)

	reqs := make([]string, 0, len(in.Requirements))
	for _, r := range in.Requirements {
		if r = strings.TrimSpace(r); r != "" {
			reqs = append(reqs, r)
		}
	}
	in.Requirements = reqs
}

func (in CreateBountyInput) validate() error {
	switch {
	case in.Title == "":
		return errValidation("title is required")
	case in.Description == "":
		return errValidation("description is required")
	case !in.Amount.IsPositive():
		return errValidation("amount must be positive")
	case in.Amount.Exponent() < -escrow.Decimals:
		return errValidation("amount has too many decimal places")
	case in.RepositoryFullName == "":
		return errValidation("repository_full_name is required")
	case !repositoryNamePattern.MatchString(in.RepositoryFullName):
		return errValidation("repository_full_name must look like owner/repo")
	}
	return nil
}

// Create stores a new active bounty and then provisions its escrow.
func (s *BountyService) Create(ctx context.Context, ownerID string, in CreateBountyInput) (*models.Bounty, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := escrow.ToBaseUnits(in.Amount); err != nil {
		return nil, errValidation(err.Error())
	}

	db := s.DB.WithContext(ctx)
	open, err := s.hasOpenBounty(db, in.RepositoryFullName, "")
	if err != nil {
		return nil, errInternal("failed to check repository", err)
	}
	if open {
		return nil, errConflict("repository_has_open_bounty", "repository already has an open bounty")
	}

	currency := in.Currency
	if currency == "" {
		currency = s.TokenSymbol
	}

	id := uuid.NewString()
	bounty := &models.Bounty{
		ID:                 id,
		Slug:               slug.Make(in.Title) + "-" + id[:8],
		Title:              in.Title,
		Description:        in.Description,
		Amount:             in.Amount,
		Currency:           currency,
		RepositoryFullName: in.RepositoryFullName,
		Requirements:       datatypes.JSONSlice[string](in.Requirements),
		CreatedBy:          ownerID,
		Status:             models.BountyStatusActive,
		EscrowStatus:       models.EscrowStatusPending,
		Applicants:         []models.BountyApplicant{},
		Version:            1,
	}

	if err := db.Create(bounty).Error; err != nil {
		// lost a race against another create on the same repository
		if open, checkErr := s.hasOpenBounty(db, in.RepositoryFullName, ""); checkErr == nil && open {
			return nil, errConflict("repository_has_open_bounty", "repository already has an open bounty")
		}
		return nil, errInternal("failed to create bounty", err)
	}

	s.log.WithFields(logrus.Fields{
		"bounty_id":  bounty.ID,
		"repository": bounty.RepositoryFullName,
		"amount":     bounty.Amount.String(),
	}).Info("🎯 [BOUNTY] created")

	if err := s.provisionEscrow(ctx, bounty); err != nil {
		s.log.WithError(err).WithField("bounty_id", bounty.ID).Error("❌ [BOUNTY] escrow provisioning failed")
	}
	return bounty, nil
}

// provisionEscrow captures the creator's payout address as the escrow owner.
// It runs after the insert; any failure marks the bounty escrow_failed rather
// than undoing it.
func (s *BountyService) provisionEscrow(ctx context.Context, b *models.Bounty) error {
	var owner *models.User
	user, err := s.Users.Get(ctx, b.CreatedBy)
	if err == nil {
		owner = user
	} else {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != fiber.StatusNotFound {
			return s.markEscrowFailed(ctx, b, "failed to load creator payout address", err)
		}
	}

	if owner == nil || owner.PayoutAddress == "" {
		return s.markEscrowFailed(ctx, b, "creator has no payout address on file", nil)
	}

	if err := s.DB.WithContext(ctx).Model(&models.Bounty{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
		"escrow_owner_address": owner.PayoutAddress,
		"escrow_status":        models.EscrowStatusPendingDeposit,
		"version":              gorm.Expr("version + 1"),
	}).Error; err != nil {
		return s.markEscrowFailed(ctx, b, "failed to record escrow owner", err)
	}
	b.EscrowOwnerAddress = owner.PayoutAddress
	b.EscrowStatus = models.EscrowStatusPendingDeposit
	b.Version++

	// the creator may have deposited before posting
	if _, err := s.confirmDeposit(ctx, b); err != nil {
		s.log.WithError(err).WithField("bounty_id", b.ID).Warn("⚠️ [BOUNTY] deposit check failed, left pending")
	}
	return nil
}

// markEscrowFailed moves a bounty out of its open slot with the reason on record.
// cause is returned wrapped so Create can log it; a nil cause returns nil.
func (s *BountyService) markEscrowFailed(ctx context.Context, b *models.Bounty, msg string, cause error) error {
	if err := s.DB.WithContext(context.WithoutCancel(ctx)).Model(&models.Bounty{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
		"status":        models.BountyStatusEscrowFailed,
		"escrow_status": models.EscrowStatusFailed,
		"escrow_error":  msg,
		"version":       gorm.Expr("version + 1"),
	}).Error; err != nil {
		return fmt.Errorf("marking escrow failed (%s): %w", msg, err)
	}
	b.Status = models.BountyStatusEscrowFailed
	b.EscrowStatus = models.EscrowStatusFailed
	b.EscrowError = &msg
	b.Version++

	if cause != nil {
		return fmt.Errorf("%s: %w", msg, cause)
	}
	return nil
}

// confirmDeposit flips escrow to active once the ledger shows the deposit.
func (s *BountyService) confirmDeposit(ctx context.Context, b *models.Bounty) (bool, error) {
	units, err := escrow.ToBaseUnits(b.Amount)
	if err != nil {
		return false, err
	}
	ok, err := s.Ledger.DepositAcknowledged(ctx, b.EscrowOwnerAddress, units)
	if err != nil || !ok {
		return false, err
	}

	now := time.Now()
	res := s.DB.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND escrow_status IN ?", b.ID, []models.EscrowStatus{models.EscrowStatusPending, models.EscrowStatusPendingDeposit}).
		Updates(map[string]interface{}{
			"escrow_status":     models.EscrowStatusActive,
			"escrow_created_at": now,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	b.EscrowStatus = models.EscrowStatusActive
	b.EscrowCreatedAt = &now
	b.Version++
	if s.Metrics != nil {
		s.Metrics.FundingConfirmed.Inc()
	}
	s.log.WithField("bounty_id", b.ID).Info("💰 [BOUNTY] escrow funded")
	return true, nil
}

// ConfirmFunding is the owner-triggered funding check.
func (s *BountyService) ConfirmFunding(ctx context.Context, id, requester string) (*models.Bounty, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CreatedBy != requester {
		return nil, errForbidden("not authorized to fund this bounty")
	}
	if b.EscrowStatus == models.EscrowStatusActive {
		return b, nil
	}
	if b.EscrowStatus != models.EscrowStatusPendingDeposit {
		return nil, errConflict("escrow_not_pending", "bounty escrow is "+string(b.EscrowStatus))
	}

	ok, err := s.confirmDeposit(ctx, b)
	if err != nil {
		return nil, errUpstream(fiber.StatusBadGateway, "ledger_unavailable", "failed to check escrow deposit", err)
	}
	if !ok {
		return nil, errConflict("deposit_not_found", "escrow deposit not found for the bounty amount")
	}
	return b, nil
}

// ConfirmPendingDeposits checks every bounty still waiting on its deposit.
func (s *BountyService) ConfirmPendingDeposits(ctx context.Context) (int, error) {
	var pending []models.Bounty
	err := s.DB.WithContext(ctx).
		Where("status = ? AND escrow_status = ?", models.BountyStatusActive, models.EscrowStatusPendingDeposit).
		Order("created_at asc").
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for i := range pending {
		ok, err := s.confirmDeposit(ctx, &pending[i])
		if err != nil {
			s.log.WithError(err).WithField("bounty_id", pending[i].ID).Warn("⚠️ [FUNDING] deposit check failed")
			continue
		}
		if ok {
			confirmed++
		}
	}
	return confirmed, nil
}

// ListActive returns bounties open for contribution, newest first.
func (s *BountyService) ListActive(ctx context.Context) ([]models.Bounty, error) {
	var bounties []models.Bounty
	err := s.DB.WithContext(ctx).
		Preload("Applicants").
		Where("status NOT IN ?", []models.BountyStatus{
			models.BountyStatusCompleted, models.BountyStatusEscrowFailed, models.BountyStatusCancelled,
		}).
		Where("escrow_status IN ?", models.FundableEscrowStatuses).
		Order("created_at desc").
		Find(&bounties).Error
	if err != nil {
		return nil, errInternal("failed to fetch bounties", err)
	}
	return bounties, nil
}

func (s *BountyService) ListMine(ctx context.Context, ownerID string) ([]models.Bounty, error) {
	var bounties []models.Bounty
	err := s.DB.WithContext(ctx).
		Preload("Applicants").
		Where("created_by = ?", ownerID).
		Order("created_at desc").
		Find(&bounties).Error
	if err != nil {
		return nil, errInternal("failed to fetch your bounties", err)
	}
	return bounties, nil
}

func (s *BountyService) Get(ctx context.Context, id string) (*models.Bounty, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errNotFound("bounty")
	}
	var b models.Bounty
	if err := s.DB.WithContext(ctx).Preload("Applicants").First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("bounty")
		}
		return nil, errInternal("failed to fetch bounty", err)
	}
	return &b, nil
}

// UpdateStatus lets the creator cancel or re-open a bounty.
func (s *BountyService) UpdateStatus(ctx context.Context, id, requester string, status models.BountyStatus) (*models.Bounty, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CreatedBy != requester {
		return nil, errForbidden("not authorized to update this bounty")
	}
	if status != models.BountyStatusActive && status != models.BountyStatusCancelled {
		return nil, errValidation("status must be active or cancelled")
	}
	switch b.Status {
	case models.BountyStatusCompleted:
		return nil, errConflict("bounty_completed", "completed bounties cannot change status")
	case models.BountyStatusSettling:
		return nil, errConflict("bounty_settling", "bounty is being settled")
	}
	if b.Status == status {
		return b, nil
	}

	db := s.DB.WithContext(ctx)
	if status == models.BountyStatusActive {
		if !escrowFundable(b.EscrowStatus) {
			return nil, errConflict("escrow_not_fundable", "bounty escrow is "+string(b.EscrowStatus)+" and cannot be re-opened")
		}
		open, err := s.hasOpenBounty(db, b.RepositoryFullName, b.ID)
		if err != nil {
			return nil, errInternal("failed to check repository", err)
		}
		if open {
			return nil, errConflict("repository_has_open_bounty", "repository already has an open bounty")
		}
	}

	res := db.Model(&models.Bounty{}).
		Where("id = ? AND status = ? AND version = ?", b.ID, b.Status, b.Version).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, errInternal("failed to update bounty status", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errConflict("bounty_changed", "bounty changed concurrently, retry")
	}

	s.log.WithFields(logrus.Fields{"bounty_id": b.ID, "from": b.Status, "to": status}).Info("🔁 [BOUNTY] status updated")
	return s.Get(ctx, id)
}

// Delete soft-deletes a bounty. Completed bounties are kept forever.
func (s *BountyService) Delete(ctx context.Context, id, requester string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.CreatedBy != requester {
		return errForbidden("not authorized to delete this bounty")
	}
	if b.Status == models.BountyStatusCompleted {
		return errValidation("cannot delete completed bounties")
	}
	if b.Status == models.BountyStatusSettling {
		return errConflict("bounty_settling", "bounty is being settled")
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Bounty{}).
			Where("id = ? AND status NOT IN ?", b.ID, []models.BountyStatus{models.BountyStatusCompleted, models.BountyStatusSettling}).
			Updates(map[string]interface{}{
				"status":  models.BountyStatusCancelled,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errConflict("bounty_changed", "bounty changed concurrently, retry")
		}
		return tx.Delete(&models.Bounty{}, "id = ?", b.ID).Error
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return errInternal("failed to delete bounty", err)
	}

	s.log.WithField("bounty_id", b.ID).Info("🗑️ [BOUNTY] deleted")
	return nil
}

// Apply registers interest from someone other than the creator.
func (s *BountyService) Apply(ctx context.Context, id, applicant string) (*models.BountyApplicant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errNotFound("bounty")
	}

	var created models.BountyApplicant
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Bounty
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound("bounty")
			}
			return err
		}
		if err := tx.Where("bounty_id = ?", b.ID).Order("applied_at asc").Find(&b.Applicants).Error; err != nil {
			return err
		}

		if b.CreatedBy == applicant {
			return errValidation("cannot apply to your own bounty")
		}
		if b.HasApplicant(applicant) {
			return errValidation("already applied to this bounty")
		}

		created = models.BountyApplicant{
			BountyID:    b.ID,
			ApplicantID: applicant,
			Status:      models.ApplicantStatusPending,
			AppliedAt:   time.Now(),
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, errInternal("failed to apply for bounty", err)
	}

	s.log.WithFields(logrus.Fields{"bounty_id": id, "applicant": applicant}).Info("🙋 [BOUNTY] new applicant")
	return &created, nil
}

func (s *BountyService) Contributions(ctx context.Context, id string) ([]models.Contribution, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var contributions []models.Contribution
	if err := s.DB.WithContext(ctx).Where("bounty_id = ?", id).Order("created_at desc").Find(&contributions).Error; err != nil {
		return nil, errInternal("failed to fetch contributions", err)
	}
	return contributions, nil
}

func escrowFundable(status models.EscrowStatus) bool {
	for _, st := range models.FundableEscrowStatuses {
		if st == status {
			return true
		}
	}
	return false
}

func (s *BountyService) hasOpenBounty(db *gorm.DB, repository, excludeID string) (bool, error) {
	q := db.Model(&models.Bounty{}).Where("repository_full_name = ? AND status IN ?", repository, openStatuses)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- HTTP handlers ---

func (s *BountyService) CreateBounty(c *fiber.Ctx) error {
	var in CreateBountyInput
	if err := c.BodyParser(&in); err != nil {
		return errValidation("invalid request body")
	}
	bounty, err := s.Create(c.UserContext(), currentUser(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"bounty_id": bounty.ID,
		"bounty":    bounty,
	})
}

func (s *BountyService) ListActiveBounties(c *fiber.Ctx) error {
	bounties, err := s.ListActive(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"bounties": bounties})
}

func (s *BountyService) ListMyBounties(c *fiber.Ctx) error {
	bounties, err := s.ListMine(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"bounties": bounties})
}

func (s *BountyService) GetBounty(c *fiber.Ctx) error {
	bounty, err := s.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"bounty": bounty})
}

func (s *BountyService) UpdateBountyStatus(c *fiber.Ctx) error {
	var req struct {
		Status models.BountyStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errValidation("invalid request body")
	}
	bounty, err := s.UpdateStatus(c.UserContext(), c.Params("id"), currentUser(c), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "bounty": bounty})
}

func (s *BountyService) DeleteBounty(c *fiber.Ctx) error {
	if err := s.Delete(c.UserContext(), c.Params("id"), currentUser(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *BountyService) ApplyToBounty(c *fiber.Ctx) error {
	applicant, err := s.Apply(c.UserContext(), c.Params("id"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "applicant": applicant})
}

func (s *BountyService) ListContributions(c *fiber.Ctx) error {
	contributions, err := s.Contributions(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"contributions": contributions})
}

func (s *BountyService) FundBounty(c *fiber.Ctx) error {
	bounty, err := s.ConfirmFunding(c.UserContext(), c.Params("id"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "bounty": bounty})
}
