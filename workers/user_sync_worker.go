// workers/user_sync_worker.go
package workers

import (
	"context"
	"time"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/services"

	"github.com/sirupsen/logrus"
)

// UserLister pages through the identity provider's users.
type UserLister interface {
	ListUsers(ctx context.Context, limit, offset int) ([]services.IdentityUser, error)
}

// PageSyncer applies one page to the local directory.
type PageSyncer interface {
	SyncPage(ctx context.Context, users []services.IdentityUser) (upserted int, failed int)
}

// UserSyncWorker backfills users the lifecycle webhooks may have missed.
type UserSyncWorker struct {
	source   UserLister
	sink     PageSyncer
	interval time.Duration
	pageSize int
	log      *logrus.Entry
}

func NewUserSyncWorker(source UserLister, sink PageSyncer, interval time.Duration, pageSize int) *UserSyncWorker {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &UserSyncWorker{
		source:   source,
		sink:     sink,
		interval: interval,
		pageSize: pageSize,
		log:      logger.NewSublogger("user_sync"),
	}
}

// Start runs one full pass straight away, then one per interval until ctx ends.
func (w *UserSyncWorker) Start(ctx context.Context) {
	w.log.WithField("interval", w.interval.String()).Info("🔁 [USER_SYNC] starting")
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	w.SyncAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.SyncAll(ctx)
		case <-ctx.Done():
			w.log.Info("⏹️ [USER_SYNC] stopped")
			return
		}
	}
}

// SyncAll walks every page once. A failed page fetch ends the pass early.
func (w *UserSyncWorker) SyncAll(ctx context.Context) (upserted int, failed int) {
	for offset := 0; ctx.Err() == nil; offset += w.pageSize {
		page, err := w.source.ListUsers(ctx, w.pageSize, offset)
		if err != nil {
			w.log.WithError(err).WithField("offset", offset).Error("❌ [USER_SYNC] page fetch failed")
			break
		}
		u, f := w.sink.SyncPage(ctx, page)
		upserted += u
		failed += f
		if len(page) < w.pageSize {
			break
		}
	}

	w.log.WithFields(logrus.Fields{"upserted": upserted, "failed": failed}).Info("✅ [USER_SYNC] pass complete")
	return upserted, failed
}
