package auction

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/ledger"
)

// Settler closes one item exactly once, no matter how many triggers race
// for it. All closing paths (scheduler timer, reconciliation sweep) funnel
// through Settle; the ledger's conditional update on the item's terminal
// state is the only synchronization point.
type Settler struct {
	ledger  ledger.Ledger
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

// NewSettler creates a settler with bounded retry behaviour for transient
// ledger failures.
func NewSettler(l ledger.Ledger, logger *zap.Logger) *Settler {
	return &Settler{
		ledger:  l,
		logger:  logger,
		retries: 3,
		backoff: 200 * time.Millisecond,
	}
}

// Settle drives the item to a terminal state. It is idempotent: settling
// an already-closed item is a success no-op, and losing the conditional
// update race to another trigger is too. Transient ledger errors are
// retried with backoff; on exhaustion the item is left open for the next
// reconciliation pass and the error is returned for logging only.
func (s *Settler) Settle(ctx context.Context, itemID string) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff << (attempt - 1)):
			}
		}

		err := s.settleOnce(ctx, itemID)
		if err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		lastErr = err
		s.logger.Warn("settlement attempt failed",
			zap.String("item_id", itemID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	s.logger.Error("settlement deferred to next reconciliation pass",
		zap.String("item_id", itemID),
		zap.Error(lastErr))
	return lastErr
}

func (s *Settler) settleOnce(ctx context.Context, itemID string) error {
	item, err := s.ledger.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.Open() {
		// Another trigger already settled this item.
		return nil
	}

	winner, err := s.ledger.HighestBid(ctx, itemID)
	if errors.Is(err, ledger.ErrNoBids) {
		applied, err := s.ledger.CloseUnsold(ctx, itemID)
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("auction closed unsold", zap.String("item_id", itemID))
		}
		return nil
	}
	if err != nil {
		return err
	}

	applied, err := s.ledger.SettleItem(ctx, itemID, winner.BidderID, winner.Amount)
	if err != nil {
		return err
	}
	if applied {
		s.logger.Info("auction settled",
			zap.String("item_id", itemID),
			zap.String("winner_id", winner.BidderID),
			zap.Int64("amount", winner.Amount))
	}
	return nil
}
