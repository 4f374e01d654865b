// workers/funding_worker.go
package workers

import (
	"context"
	"time"

	"bounty-settlement-system/logger"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// DepositConfirmer promotes bounties whose escrow deposit has landed.
type DepositConfirmer interface {
	ConfirmPendingDeposits(ctx context.Context) (int, error)
}

// FundingJob polls the ledger for deposits on bounties created before they were funded.
type FundingJob struct {
	bounties DepositConfirmer
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry
}

func NewFundingJob(bounties DepositConfirmer, interval, timeout time.Duration) *FundingJob {
	return &FundingJob{
		bounties: bounties,
		interval: interval,
		timeout:  timeout,
		log:      logger.NewSublogger("funding"),
	}
}

func (j *FundingJob) Name() string { return "escrow_deposit_confirmer" }

func (j *FundingJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *FundingJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	confirmed, err := j.bounties.ConfirmPendingDeposits(ctx)
	if err != nil {
		j.log.WithError(err).Error("❌ [FUNDING] pending deposit scan failed")
		return
	}
	if confirmed > 0 {
		j.log.WithField("confirmed", confirmed).Info("💰 [FUNDING] deposits confirmed")
	}
}
