package auction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/ledger"
)

// Sweeper is the startup reconciliation pass. It settles every open item
// whose window already ended while the process was down, and re-arms
// scheduler timers for open items still inside their window. Run must
// complete before the service accepts bid traffic.
type Sweeper struct {
	ledger      ledger.Ledger
	settler     *Settler
	scheduler   *Scheduler
	logger      *zap.Logger
	parallelism int
}

// NewSweeper creates a sweeper with the given settlement parallelism.
func NewSweeper(l ledger.Ledger, settler *Settler, scheduler *Scheduler, parallelism int, logger *zap.Logger) *Sweeper {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Sweeper{
		ledger:      l,
		settler:     settler,
		scheduler:   scheduler,
		logger:      logger,
		parallelism: parallelism,
	}
}

// Run executes one reconciliation pass. Each settlement is independent
// and idempotent, so a crash mid-sweep is safe to retry on next startup:
// items already closed are skipped by the settler's guard. Individual
// failures are logged and left for the next pass; Run only fails when the
// ledger cannot be listed at all.
func (s *Sweeper) Run(ctx context.Context) error {
	now := time.Now()

	due, err := s.ledger.ListOpenItemsClosedBy(ctx, now)
	if err != nil {
		return err
	}
	s.logger.Info("reconciliation sweep started",
		zap.Int("overdue_items", len(due)),
		zap.Int("parallelism", s.parallelism))

	sem := make(chan struct{}, s.parallelism)
	var wg sync.WaitGroup
	for _, item := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(itemID string) {
			defer wg.Done()
			defer func() { <-sem }()
			// Settle logs its own failures; the item stays open for
			// the next pass.
			_ = s.settler.Settle(ctx, itemID)
		}(item.ID)
	}
	wg.Wait()

	if s.scheduler != nil {
		open, err := s.ledger.ListOpenItems(ctx)
		if err != nil {
			return err
		}
		rearmed := 0
		for _, item := range open {
			if item.ClosesAt.After(now) {
				s.scheduler.ScheduleClose(item.ID, item.ClosesAt)
				rearmed++
			}
		}
		s.logger.Info("reconciliation sweep finished", zap.Int("timers_rearmed", rearmed))
	}
	return nil
}
