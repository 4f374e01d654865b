package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bounty-settlement-system/escrow"
	"bounty-settlement-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type settlementFixture struct {
	db      *gorm.DB
	ledger  *fakeLedger
	service *SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	db := newTestDB(t)
	ledger := newFakeLedger()
	users := NewUserService(db)
	return &settlementFixture{
		db:      db,
		ledger:  ledger,
		service: NewSettlementService(db, users, ledger, fallbackAddress, 5*time.Second, testMetrics()),
	}
}

func reloadBounty(t *testing.T, db *gorm.DB, id string) models.Bounty {
	t.Helper()
	var b models.Bounty
	require.NoError(t, db.Unscoped().First(&b, "id = ?", id).Error)
	return b
}

func contributionsFor(t *testing.T, db *gorm.DB, bountyID string) []models.Contribution {
	t.Helper()
	var cs []models.Contribution
	require.NoError(t, db.Where("bounty_id = ?", bountyID).Find(&cs).Error)
	return cs
}

func TestSettleWithoutMatchingBountyIsNoop(t *testing.T) {
	f := newSettlementFixture(t)
	seedBounty(t, f.db, "acme/other", models.BountyStatusActive, models.EscrowStatusActive, 100)

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)

	var count int64
	require.NoError(t, f.db.Model(&models.Contribution{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, f.ledger.Releases())
}

func TestSettleIgnoresUnfundedBounty(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusPendingDeposit, 100)

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Equal(t, models.BountyStatusActive, reloadBounty(t, f.db, b.ID).Status)
}

func TestSettlePaysRegisteredContributor(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 100)
	seedUser(t, f.db, "user_contrib", "octocat", contributorAddress)
	f.ledger.deposit(creatorAddress, wei(150))

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 7))
	require.NoError(t, err)
	require.Equal(t, OutcomeReleased, res.Outcome)
	assert.Equal(t, contributorAddress, res.PayoutAddress)
	assert.NotEmpty(t, res.TxHash)

	releases := f.ledger.Releases()
	require.Len(t, releases, 1)
	assert.Equal(t, creatorAddress, releases[0].Owner)
	assert.Equal(t, contributorAddress, releases[0].Recipient)
	assert.Zero(t, releases[0].Amount.Cmp(wei(100)))

	got := reloadBounty(t, f.db, b.ID)
	assert.Equal(t, models.BountyStatusCompleted, got.Status)
	assert.Equal(t, models.EscrowStatusReleased, got.EscrowStatus)
	require.NotNil(t, got.CompletedBy)
	assert.Equal(t, "octocat", *got.CompletedBy)
	require.NotNil(t, got.ContributionID)
	assert.Equal(t, res.ContributionID, *got.ContributionID)
	assert.NotNil(t, got.CompletedAt)

	cs := contributionsFor(t, f.db, b.ID)
	require.Len(t, cs, 1)
	c := cs[0]
	assert.Equal(t, models.PaymentStatusCompleted, c.PaymentStatus)
	assert.False(t, c.UsedDefaultAddress)
	require.NotNil(t, c.TxHash)
	assert.Equal(t, res.TxHash, *c.TxHash)
	require.True(t, c.PaidAmount.Valid)
	assert.True(t, c.PaidAmount.Decimal.Equal(b.Amount))
	require.NotNil(t, c.BlockNumber)
	assert.NotNil(t, c.PaymentCompletedAt)
	assert.Equal(t, 7, c.PRNumber)
}

func TestSettleFallsBackToDefaultAddress(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 10)
	f.ledger.deposit(creatorAddress, wei(10))

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "stranger", 3))
	require.NoError(t, err)
	require.Equal(t, OutcomeReleased, res.Outcome)
	assert.Equal(t, fallbackAddress, res.PayoutAddress)

	cs := contributionsFor(t, f.db, b.ID)
	require.Len(t, cs, 1)
	assert.True(t, cs[0].UsedDefaultAddress)
	assert.Equal(t, fallbackAddress, cs[0].PayoutAddress)
}

func TestSettleMatchesLoginCaseInsensitively(t *testing.T) {
	f := newSettlementFixture(t)
	seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 10)
	seedUser(t, f.db, "user_contrib", "OctoCat", contributorAddress)
	f.ledger.deposit(creatorAddress, wei(10))

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 3))
	require.NoError(t, err)
	assert.Equal(t, contributorAddress, res.PayoutAddress)
}

func TestSettleInsufficientEscrowNeverReleases(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 100)
	seedUser(t, f.db, "user_contrib", "octocat", contributorAddress)
	f.ledger.deposit(creatorAddress, wei(99))

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleaseFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, escrow.ErrInsufficientEscrow)
	assert.Empty(t, f.ledger.Releases())

	got := reloadBounty(t, f.db, b.ID)
	assert.Equal(t, models.BountyStatusPaymentFailed, got.Status)
	assert.Equal(t, models.EscrowStatusReleaseFailed, got.EscrowStatus)
	require.NotNil(t, got.PaymentError)
	assert.Contains(t, *got.PaymentError, "insufficient escrow")

	cs := contributionsFor(t, f.db, b.ID)
	require.Len(t, cs, 1)
	assert.Equal(t, models.PaymentStatusFailed, cs[0].PaymentStatus)
	assert.NotNil(t, cs[0].PaymentFailedAt)
	assert.Nil(t, cs[0].TxHash)
}

func TestSettleRecordsReleaseError(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 5)
	f.ledger.deposit(creatorAddress, wei(5))
	f.ledger.releaseErr = errors.New("execution reverted")

	res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 9))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleaseFailed, res.Outcome)
	assert.Len(t, f.ledger.Releases(), 1)

	got := reloadBounty(t, f.db, b.ID)
	assert.Equal(t, models.BountyStatusPaymentFailed, got.Status)
	require.NotNil(t, got.PaymentError)
	assert.Contains(t, *got.PaymentError, "execution reverted")

	// a failed bounty is not picked up by a later merge
	res, err = f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Len(t, f.ledger.Releases(), 1)
}

func TestSettlePaysOnlyOnceForConcurrentMerges(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 10)
	f.ledger.deposit(creatorAddress, wei(100))

	const merges = 5
	var wg sync.WaitGroup
	outcomes := make(chan SettlementOutcome, merges)
	for i := 0; i < merges; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := f.service.Settle(context.Background(), mergedPullRequest("acme/widgets", "octocat", n))
			if err == nil {
				outcomes <- res.Outcome
			}
		}(i + 1)
	}
	wg.Wait()
	close(outcomes)

	released := 0
	for o := range outcomes {
		if o == OutcomeReleased {
			released++
		}
	}
	assert.Equal(t, 1, released)
	assert.Len(t, f.ledger.Releases(), 1)
	assert.Len(t, contributionsFor(t, f.db, b.ID), 1)
}

func TestClaimIsExclusive(t *testing.T) {
	f := newSettlementFixture(t)
	b := seedBounty(t, f.db, "acme/widgets", models.BountyStatusActive, models.EscrowStatusActive, 10)

	first := *b
	second := *b
	ok, err := f.service.claim(context.Background(), &first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.claim(context.Background(), &second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.BountyStatusSettling, reloadBounty(t, f.db, b.ID).Status)
}

func TestStaleSettlementsListsOnlyOldSettlingBounties(t *testing.T) {
	f := newSettlementFixture(t)
	old := seedBounty(t, f.db, "acme/stuck", models.BountyStatusSettling, models.EscrowStatusActive, 1)
	fresh := seedBounty(t, f.db, "acme/busy", models.BountyStatusSettling, models.EscrowStatusActive, 1)
	idle := seedBounty(t, f.db, "acme/idle", models.BountyStatusActive, models.EscrowStatusActive, 1)

	past := time.Now().Add(-time.Hour)
	for _, id := range []string{old.ID, idle.ID} {
		require.NoError(t, f.db.Model(&models.Bounty{}).Where("id = ?", id).UpdateColumn("updated_at", past).Error)
	}

	stale, err := f.service.StaleSettlements(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.NotEqual(t, fresh.ID, stale[0].ID)
}
