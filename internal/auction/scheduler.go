package auction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler arms one in-memory timer per item that fires the settlement
// at the item's closing time. Timers do not survive a process restart;
// the reconciliation sweep is the durability backstop that re-arms or
// settles anything lost that way. Auctions never close early, so there
// is no cancel path.
type Scheduler struct {
	settle  func(ctx context.Context, itemID string) error
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a scheduler that invokes settle when a timer fires.
func NewScheduler(settle func(ctx context.Context, itemID string) error, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		settle:  settle,
		logger:  logger,
		timeout: 30 * time.Second,
		timers:  make(map[string]*time.Timer),
	}
}

// ScheduleClose arms a one-shot closing action for the item at the given
// time. Scheduling the same item again is a no-op; the first timer wins.
func (s *Scheduler) ScheduleClose(itemID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.timers[itemID]; exists {
		return
	}

	s.timers[itemID] = time.AfterFunc(time.Until(at), func() {
		s.fire(itemID)
	})
	s.logger.Debug("close scheduled",
		zap.String("item_id", itemID),
		zap.Time("at", at))
}

func (s *Scheduler) fire(itemID string) {
	s.mu.Lock()
	delete(s.timers, itemID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.settle(ctx, itemID); err != nil {
		// Already logged by the settler; the item stays open for the
		// next reconciliation pass.
		s.logger.Warn("scheduled close did not settle", zap.String("item_id", itemID), zap.Error(err))
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop drains all armed timers. Used on shutdown; missed closings are
// picked up by the sweep on next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
