// services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bounty-settlement-system/escrow"
	"bounty-settlement-system/logger"
	"bounty-settlement-system/metrics"
	"bounty-settlement-system/models"

	"github.com/google/go-github/v57/github"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SettlementOutcome string

const (
	OutcomeNoMatch        SettlementOutcome = "no_match"
	OutcomeAlreadyClaimed SettlementOutcome = "already_claimed"
	OutcomeReleased       SettlementOutcome = "released"
	OutcomeReleaseFailed  SettlementOutcome = "release_failed"
)

// SettlementResult is what one settlement attempt ended in. Err is the release
// failure recorded on the contribution, not an infrastructure error.
type SettlementResult struct {
	Outcome        SettlementOutcome
	BountyID       string
	ContributionID string
	PayoutAddress  string
	TxHash         string
	Err            error
}

// SettlementService turns a merged pull request into a paid contribution.
type SettlementService struct {
	DB                   *gorm.DB
	Users                *UserService
	Ledger               escrow.Ledger
	DefaultPayoutAddress string
	LedgerTimeout        time.Duration
	Metrics              *metrics.Metrics
	log                  *logrus.Entry
}

func NewSettlementService(db *gorm.DB, users *UserService, ledger escrow.Ledger, defaultPayout string, ledgerTimeout time.Duration, m *metrics.Metrics) *SettlementService {
	return &SettlementService{
		DB:                   db,
		Users:                users,
		Ledger:               ledger,
		DefaultPayoutAddress: defaultPayout,
		LedgerTimeout:        ledgerTimeout,
		Metrics:              m,
		log:                  logger.NewSublogger("settlement"),
	}
}

// Settle runs match -> claim -> resolve -> record -> check -> release. Every terminal
// state is written back; the returned error is only for writes that could not be made.
func (s *SettlementService) Settle(ctx context.Context, event *github.PullRequestEvent) (*SettlementResult, error) {
	repository := event.GetRepo().GetFullName()
	entry := s.log.WithFields(logrus.Fields{"repository": repository, "pr": event.GetNumber()})

	bounty, err := s.findActiveBounty(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("finding bounty for %s: %w", repository, err)
	}
	if bounty == nil {
		entry.Info("🔍 [SETTLE] no active funded bounty for repository")
		return s.finish(&SettlementResult{Outcome: OutcomeNoMatch}), nil
	}
	entry = entry.WithField("bounty_id", bounty.ID)

	claimed, err := s.claim(ctx, bounty)
	if err != nil {
		return nil, fmt.Errorf("claiming bounty %s: %w", bounty.ID, err)
	}
	if !claimed {
		entry.Info("🔒 [SETTLE] bounty already claimed by another settlement")
		return s.finish(&SettlementResult{Outcome: OutcomeAlreadyClaimed, BountyID: bounty.ID}), nil
	}
	entry.Info("🎯 [SETTLE] bounty claimed")

	pr := event.GetPullRequest()
	contributor := pr.GetUser()

	payout, usedDefault, err := s.Users.ResolvePayout(ctx, contributor.GetLogin(), s.DefaultPayoutAddress)
	if err != nil {
		s.unclaim(ctx, bounty, entry)
		return nil, fmt.Errorf("resolving payout for %s: %w", contributor.GetLogin(), err)
	}
	if usedDefault {
		entry.WithField("contributor", contributor.GetLogin()).Warn("⚠️ [SETTLE] contributor has no payout address, using default")
	}

	contribution := &models.Contribution{
		BountyID:            bounty.ID,
		ContributorUsername: contributor.GetLogin(),
		ContributorID:       contributor.GetID(),
		ContributorEmail:    contributor.GetEmail(),
		ContributorAvatar:   contributor.GetAvatarURL(),
		PayoutAddress:       payout,
		UsedDefaultAddress:  usedDefault,
		PRNumber:            pr.GetNumber(),
		PRTitle:             pr.GetTitle(),
		PRURL:               pr.GetHTMLURL(),
		PRAdditions:         pr.GetAdditions(),
		PRDeletions:         pr.GetDeletions(),
		PRCommits:           pr.GetCommits(),
		MergedBy:            pr.GetMergedBy().GetLogin(),
		RepositoryName:      event.GetRepo().GetName(),
		RepositoryFullName:  repository,
		RepositoryURL:       event.GetRepo().GetHTMLURL(),
		PaymentStatus:       models.PaymentStatusPending,
	}
	if pr.MergedAt != nil {
		mergedAt := pr.GetMergedAt().Time
		contribution.MergedAt = &mergedAt
	}
	if err := s.DB.WithContext(ctx).Create(contribution).Error; err != nil {
		s.unclaim(ctx, bounty, entry)
		return nil, fmt.Errorf("recording contribution: %w", err)
	}
	entry = entry.WithFields(logrus.Fields{"contribution_id": contribution.ID, "payout": payout})
	entry.Info("📝 [SETTLE] contribution recorded")

	receipt, releaseErr := s.release(ctx, bounty, payout)
	if releaseErr != nil {
		entry.WithError(releaseErr).Error("❌ [SETTLE] release failed")
		if err := s.recordFailure(ctx, bounty, contribution, releaseErr); err != nil {
			entry.WithError(err).Error("❌ [SETTLE] could not record failure, bounty left settling")
			return nil, fmt.Errorf("recording release failure: %w", err)
		}
		return s.finish(&SettlementResult{
			Outcome:        OutcomeReleaseFailed,
			BountyID:       bounty.ID,
			ContributionID: contribution.ID,
			PayoutAddress:  payout,
			Err:            releaseErr,
		}), nil
	}

	if err := s.recordSuccess(ctx, bounty, contribution, receipt); err != nil {
		// funds moved; the tx hash in this log line is the only trace until fixed by hand
		entry.WithError(err).WithField("tx_hash", receipt.TxHash).Error("❌ [SETTLE] release succeeded but could not be recorded")
		return nil, fmt.Errorf("recording release %s: %w", receipt.TxHash, err)
	}
	entry.WithField("tx_hash", receipt.TxHash).Info("✅ [SETTLE] bounty paid")

	return s.finish(&SettlementResult{
		Outcome:        OutcomeReleased,
		BountyID:       bounty.ID,
		ContributionID: contribution.ID,
		PayoutAddress:  payout,
		TxHash:         receipt.TxHash,
	}), nil
}

func (s *SettlementService) findActiveBounty(ctx context.Context, repository string) (*models.Bounty, error) {
	if repository == "" {
		return nil, nil
	}
	var b models.Bounty
	err := s.DB.WithContext(ctx).
		Where("repository_full_name = ? AND status = ? AND escrow_status = ?",
			repository, models.BountyStatusActive, models.EscrowStatusActive).
		Order("created_at asc").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// claim moves active -> settling. Only one caller can win it.
func (s *SettlementService) claim(ctx context.Context, b *models.Bounty) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Bounty{}).
		Where("id = ? AND status = ? AND escrow_status = ?", b.ID, models.BountyStatusActive, models.EscrowStatusActive).
		Updates(map[string]interface{}{
			"status":  models.BountyStatusSettling,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	b.Status = models.BountyStatusSettling
	b.Version++
	return true, nil
}

// unclaim hands the bounty back when nothing was recorded yet.
func (s *SettlementService) unclaim(ctx context.Context, b *models.Bounty, entry *logrus.Entry) {
	res := s.DB.WithContext(context.WithoutCancel(ctx)).Model(&models.Bounty{}).
		Where("id = ? AND status = ?", b.ID, models.BountyStatusSettling).
		Updates(map[string]interface{}{
			"status":  models.BountyStatusActive,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		entry.WithError(res.Error).Error("❌ [SETTLE] could not release claim, bounty left settling")
		return
	}
	entry.Warn("↩️ [SETTLE] claim rolled back")
}

// release checks the creator's escrow covers the bounty and then moves the funds once.
func (s *SettlementService) release(ctx context.Context, b *models.Bounty, recipient string) (*escrow.Receipt, error) {
	amount, err := escrow.ToBaseUnits(b.Amount)
	if err != nil {
		return nil, err
	}
	if b.EscrowOwnerAddress == "" {
		return nil, errors.New("bounty has no escrow owner address")
	}

	ctx, cancel := context.WithTimeout(ctx, s.LedgerTimeout)
	defer cancel()

	balance, err := s.Ledger.EscrowBalanceOf(ctx, b.EscrowOwnerAddress)
	if err != nil {
		return nil, fmt.Errorf("checking escrow balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", escrow.ErrInsufficientEscrow,
			escrow.FormatUnits(balance), escrow.FormatUnits(amount))
	}

	start := time.Now()
	receipt, err := s.Ledger.ReleaseOnBehalf(ctx, b.EscrowOwnerAddress, recipient, amount)
	if s.Metrics != nil {
		s.Metrics.ReleaseDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *SettlementService) recordSuccess(ctx context.Context, b *models.Bounty, c *models.Contribution, receipt *escrow.Receipt) error {
	now := time.Now()
	paid := escrow.FromBaseUnits(receipt.Amount)
	block := receipt.BlockNumber

	return s.DB.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND payment_status = ?", c.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"payment_status":       models.PaymentStatusCompleted,
				"tx_hash":              receipt.TxHash,
				"paid_amount":          decimal.NewNullDecimal(paid),
				"block_number":         block,
				"payment_completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("contribution %s is no longer pending", c.ID)
		}

		res = tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", b.ID, models.BountyStatusSettling).
			Updates(map[string]interface{}{
				"status":          models.BountyStatusCompleted,
				"escrow_status":   models.EscrowStatusReleased,
				"completed_by":    c.ContributorUsername,
				"completed_at":    now,
				"contribution_id": c.ID,
				"version":         gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("bounty %s is no longer settling", b.ID)
		}
		return nil
	})
}

func (s *SettlementService) recordFailure(ctx context.Context, b *models.Bounty, c *models.Contribution, cause error) error {
	now := time.Now()
	msg := cause.Error()

	return s.DB.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND payment_status = ?", c.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"payment_status":    models.PaymentStatusFailed,
				"payment_error":     msg,
				"payment_failed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("contribution %s is no longer pending", c.ID)
		}

		res = tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", b.ID, models.BountyStatusSettling).
			Updates(map[string]interface{}{
				"status":        models.BountyStatusPaymentFailed,
				"escrow_status": models.EscrowStatusReleaseFailed,
				"payment_error": msg,
				"version":       gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("bounty %s is no longer settling", b.ID)
		}
		return nil
	})
}

func (s *SettlementService) finish(res *SettlementResult) *SettlementResult {
	if s.Metrics != nil {
		s.Metrics.Settlements.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res
}

// StaleSettlements lists bounties claimed more than olderThan ago that never reached
// a terminal state. They need an operator: check the contribution's tx_hash on chain,
// then write the matching terminal state by hand.
func (s *SettlementService) StaleSettlements(ctx context.Context, olderThan time.Duration) ([]models.Bounty, error) {
	var stale []models.Bounty
	err := s.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.BountyStatusSettling, time.Now().Add(-olderThan)).
		Order("updated_at asc").
		Find(&stale).Error
	if err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.StaleSettlements.Set(float64(len(stale)))
	}
	return stale, nil
}
