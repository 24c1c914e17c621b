package aggregator

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/domain/queue"
)

// SweepInterval is how often the sweeper scans for orphaned pending
// lists — conversations whose drain job was lost (process crash between
// Add's enqueue and the job actually running, or a job that silently
// fell off the queue). Matches the crash-recovery cadence named in the
// external interface contract.
const SweepInterval = 60 * time.Second

// Sweeper periodically scans pending:{*} keys and re-enqueues a
// zero-delay drain job for any chat whose pending list is non-empty but
// has no corresponding job scheduled, grounded on pkg/msgworker/pool.go's
// ticker-driven stale-entry GC loop.
type Sweeper struct {
	aggregator *Aggregator
}

// NewSweeper returns a Sweeper for aggregator.
func NewSweeper(aggregator *Aggregator) *Sweeper {
	return &Sweeper{aggregator: aggregator}
}

// Run blocks, sweeping every SweepInterval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	var cursor uint64
	swept := 0
	for {
		page, err := s.aggregator.kv.Scan(ctx, cursor, "wecom:message:pending:*", 200)
		if err != nil {
			logrus.Warnf("[Sweeper] scan failed: %v", err)
			return
		}
		for _, key := range page.Keys {
			chatID := strings.TrimPrefix(key, "wecom:message:pending:")
			length, err := s.aggregator.kv.ListLen(ctx, key)
			if err != nil || length == 0 {
				continue
			}
			state, err := s.aggregator.queue.JobState(ctx, JobName, chatID)
			if err != nil {
				continue
			}
			if state != queue.StateAbsent {
				continue
			}
			if err := s.aggregator.enqueueDrain(ctx, chatID); err == nil {
				swept++
			}
		}
		if page.Done {
			break
		}
		cursor = page.Cursor
	}
	if swept > 0 {
		logrus.Infof("[Sweeper] recovered %d orphaned pending conversations", swept)
	}
}
