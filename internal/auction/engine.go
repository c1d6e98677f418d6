package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/ledger"
	"github.com/Yimsu/node-auction/internal/models"
	redisguard "github.com/Yimsu/node-auction/internal/redis"
)

// Window is the fixed bidding window of every auction.
const Window = 24 * time.Hour

// BidGuard is the optional hot-path filter in front of the ledger append.
type BidGuard interface {
	TryBid(ctx context.Context, itemID, bidderID string, amount int64) (*redisguard.GuardResult, error)
	SyncCurrentBid(ctx context.Context, itemID, bidderID string, amount int64) error
}

// EventSink receives accepted-bid events for real-time fan-out and
// archival. Delivery is best effort and must not block the bid path.
type EventSink interface {
	PublishBidAccepted(ctx context.Context, event *models.BidEvent)
}

// Engine handles the business logic for listing items and placing bids:
// validate, conditionally append to the ledger, then publish the accepted
// bid downstream.
type Engine struct {
	ledger    ledger.Ledger
	guard     BidGuard // may be nil
	events    EventSink
	scheduler *Scheduler
	logger    *zap.Logger
	window    time.Duration
}

// NewEngine creates the bidding engine. guard may be nil when no hot-path
// cache is deployed.
func NewEngine(l ledger.Ledger, guard BidGuard, events EventSink, scheduler *Scheduler, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:    l,
		guard:     guard,
		events:    events,
		scheduler: scheduler,
		logger:    logger,
		window:    Window,
	}
}

// CreateItem lists a new item and arms its one-shot closing timer.
func (e *Engine) CreateItem(ctx context.Context, req *models.ItemRequest) (*models.Item, error) {
	if req.Name == "" || req.OwnerID == "" {
		return nil, fmt.Errorf("owner and name are required")
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("starting price must be positive")
	}

	now := time.Now().UTC()
	item := &models.Item{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Price:     req.Price,
		ImageRef:  req.ImageRef,
		Status:    models.ItemStatusOpen,
		CreatedAt: now,
		ClosesAt:  now.Add(e.window),
	}
	if err := e.ledger.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	e.scheduler.ScheduleClose(item.ID, item.ClosesAt)
	e.logger.Info("item listed",
		zap.String("item_id", item.ID),
		zap.Int64("price", item.Price),
		zap.Time("closes_at", item.ClosesAt))
	return item, nil
}

// PlaceBid handles the complete bid placement workflow:
//  1. Validate against the current item state.
//  2. Pre-filter through the Redis guard (fast rejection of losers).
//  3. Conditionally append to the ledger; the append re-checks the
//     committed maximum, so two racing bids can never both win.
//  4. On acceptance, publish the bid event downstream.
func (e *Engine) PlaceBid(ctx context.Context, itemID string, req *models.BidRequest) (*models.BidResponse, error) {
	if req.BidderID == "" {
		return nil, fmt.Errorf("bidder id is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("bid amount must be positive")
	}

	item, err := e.ledger.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	highest, err := e.ledger.HighestBid(ctx, itemID)
	if err != nil && !errors.Is(err, ledger.ErrNoBids) {
		return nil, err
	}

	snap := SnapshotOf(item, highest)
	if reason, ok := ValidateBid(snap, req.Amount, time.Now()); !ok {
		return reject(reason, snap.CurrentMax, req.Amount), nil
	}

	guardSuspect := false
	if e.guard != nil {
		res, gerr := e.guard.TryBid(ctx, itemID, req.BidderID, req.Amount)
		switch {
		case gerr != nil:
			// Guard down: fall through to the authoritative append.
			e.logger.Warn("bid guard unavailable", zap.Error(gerr))
		case !res.Passed:
			// The guard holds something higher than the snapshot we just
			// validated against. Either a bid committed in the meantime,
			// or a failed append left an uncommitted amount behind. Only
			// a committed bid may reject; otherwise the append decides.
			latest, herr := e.ledger.HighestBid(ctx, itemID)
			if herr == nil && req.Amount <= latest.Amount {
				return reject(ReasonBelowCurrentBid, latest.Amount, req.Amount), nil
			}
			guardSuspect = true
		}
	}

	bid, prevBid, err := e.ledger.AppendBid(ctx, itemID, req.BidderID, req.Amount, req.Message)
	switch {
	case errors.Is(err, ledger.ErrBidConditionFailed):
		// Lost a race or the guard was stale; re-read for the response
		// and resync the guard with the committed truth.
		current := snap.CurrentMax
		if latest, herr := e.ledger.HighestBid(ctx, itemID); herr == nil {
			current = latest.Amount
			if e.guard != nil {
				if serr := e.guard.SyncCurrentBid(ctx, itemID, latest.BidderID, latest.Amount); serr != nil {
					e.logger.Warn("failed to resync bid guard", zap.Error(serr))
				}
			}
		}
		return reject(ReasonBelowCurrentBid, current, req.Amount), nil
	case errors.Is(err, ledger.ErrAuctionClosed):
		return reject(ReasonAuctionClosed, snap.CurrentMax, req.Amount), nil
	case err != nil:
		// The guard may have advanced to this uncommitted amount; put it
		// back on the committed truth so later bids are not rejected
		// against a bid that never happened.
		e.resyncGuard(ctx, itemID)
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	if guardSuspect {
		// The append overruled a stale guard value; overwrite it with
		// the bid that actually committed.
		if serr := e.guard.SyncCurrentBid(ctx, itemID, req.BidderID, req.Amount); serr != nil {
			e.logger.Warn("failed to resync bid guard", zap.Error(serr))
		}
	}

	e.logger.Info("bid accepted",
		zap.String("item_id", itemID),
		zap.String("bidder_id", req.BidderID),
		zap.Int64("amount", req.Amount))

	event := &models.BidEvent{
		EventID:     uuid.New().String(),
		ItemID:      itemID,
		BidID:       bid.ID,
		BidderID:    req.BidderID,
		BidderNick:  req.BidderNick,
		Amount:      req.Amount,
		Message:     req.Message,
		PreviousBid: prevBid,
		CreatedAt:   bid.CreatedAt,
	}
	if e.events != nil {
		e.events.PublishBidAccepted(ctx, event)
	}

	return &models.BidResponse{
		Accepted:   true,
		Message:    "bid accepted",
		CurrentBid: req.Amount,
		YourBid:    req.Amount,
	}, nil
}

// resyncGuard overwrites the guard with the committed highest bid, or
// clears it when no bids exist. Called when the guard may have advanced
// past the ledger.
func (e *Engine) resyncGuard(ctx context.Context, itemID string) {
	if e.guard == nil {
		return
	}
	latest, err := e.ledger.HighestBid(ctx, itemID)
	switch {
	case errors.Is(err, ledger.ErrNoBids):
		err = e.guard.SyncCurrentBid(ctx, itemID, "", 0)
	case err == nil:
		err = e.guard.SyncCurrentBid(ctx, itemID, latest.BidderID, latest.Amount)
	}
	if err != nil {
		e.logger.Warn("failed to resync bid guard",
			zap.String("item_id", itemID), zap.Error(err))
	}
}

func reject(reason RejectReason, current, amount int64) *models.BidResponse {
	return &models.BidResponse{
		Accepted:   false,
		Reason:     reason.String(),
		Message:    reason.Message(),
		CurrentBid: current,
		YourBid:    amount,
	}
}

// GetItem returns an item with its bids in acceptance order.
func (e *Engine) GetItem(ctx context.Context, itemID string) (*models.Item, []*models.Bid, error) {
	item, err := e.ledger.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	bids, err := e.ledger.ListBids(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	return item, bids, nil
}

// ListOpenItems returns the items currently under auction.
func (e *Engine) ListOpenItems(ctx context.Context) ([]*models.Item, error) {
	return e.ledger.ListOpenItems(ctx)
}

// ListWonItems returns the settled items the given user won.
func (e *Engine) ListWonItems(ctx context.Context, userID string) ([]*models.Item, error) {
	return e.ledger.ListItemsWonBy(ctx, userID)
}
