// workers/stale_settlement_job.go
package workers

import (
	"context"
	"time"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

type StaleSettlementFinder interface {
	StaleSettlements(ctx context.Context, olderThan time.Duration) ([]models.Bounty, error)
}

// StaleSettlementJob reports bounties left in settling, once at startup and then
// on every interval. It never changes them.
type StaleSettlementJob struct {
	finder     StaleSettlementFinder
	interval   time.Duration
	staleAfter time.Duration
	log        *logrus.Entry
}

func NewStaleSettlementJob(finder StaleSettlementFinder, interval, staleAfter time.Duration) *StaleSettlementJob {
	return &StaleSettlementJob{
		finder:     finder,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger.NewSublogger("settlement-sweep"),
	}
}

func (j *StaleSettlementJob) Name() string { return "stale_settlement_reporter" }

func (j *StaleSettlementJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *StaleSettlementJob) RunOnStart() bool { return true }

func (j *StaleSettlementJob) Execute() {
	j.sweep()
}

// sweep returns how many stale bounties it reported.
func (j *StaleSettlementJob) sweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := j.finder.StaleSettlements(ctx, j.staleAfter)
	if err != nil {
		j.log.WithError(err).Error("❌ [SWEEP] stale settlement scan failed")
		return 0
	}
	for _, b := range stale {
		j.log.WithFields(logrus.Fields{
			"bounty_id":  b.ID,
			"repository": b.RepositoryFullName,
			"since":      b.UpdatedAt,
		}).Warn("⚠️ [SWEEP] bounty stuck in settling, check its contribution tx_hash and resolve by hand")
	}
	return len(stale)
}
