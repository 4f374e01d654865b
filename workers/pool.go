// workers/pool.go
package workers

import (
	"fmt"

	"bounty-settlement-system/logger"

	"github.com/panjf2000/ants/v2"
)

// NewSettlementPool bounds how many settlements run at once. Panics inside a
// task are logged and do not take the process down.
func NewSettlementPool(size int) (*ants.Pool, error) {
	log := logger.NewSublogger("pool")
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			log.WithField("panic", fmt.Sprint(p)).Error("💥 [POOL] settlement task panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement pool: %w", err)
	}
	return pool, nil
}
