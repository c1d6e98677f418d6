// Package ledger defines the durable record store consumed by the auction
// engine. Item, bid and balance records are exclusively owned by the
// ledger; callers re-read state on every decision instead of caching it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Yimsu/node-auction/internal/models"
)

var (
	// ErrNotFound is returned when an item or user does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrNoBids is returned by HighestBid when an item has no bids.
	ErrNoBids = errors.New("ledger: item has no bids")

	// ErrBidConditionFailed is returned by AppendBid when the submitted
	// amount no longer exceeds the stored maximum at commit time.
	ErrBidConditionFailed = errors.New("ledger: bid condition failed")

	// ErrAuctionClosed is returned by AppendBid when the item is no
	// longer open or its bidding window has passed.
	ErrAuctionClosed = errors.New("ledger: auction closed")
)

// Ledger is the narrow storage interface the auction engine depends on.
// Implementations must make AppendBid, SettleItem and CloseUnsold atomic
// conditional updates; they are the only synchronization points in the
// bidding and settlement paths.
type Ledger interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)

	// ListOpenItems returns every item still in the open state.
	ListOpenItems(ctx context.Context) ([]*models.Item, error)

	// ListOpenItemsClosedBy returns open items whose bidding window
	// ended at or before t. Used by the reconciliation sweep.
	ListOpenItemsClosedBy(ctx context.Context, t time.Time) ([]*models.Item, error)

	// ListBids returns all bids for an item in acceptance order.
	ListBids(ctx context.Context, itemID string) ([]*models.Bid, error)

	// HighestBid returns the winning candidate: highest amount, earliest
	// bid id on ties. Returns ErrNoBids when none exist.
	HighestBid(ctx context.Context, itemID string) (*models.Bid, error)

	// AppendBid records a bid only if, at commit time, the item is still
	// open inside its window and amount exceeds both the starting price
	// and the stored maximum. Two racing bids can never both commit
	// non-monotonically. On success it also returns the maximum that was
	// outbid (0 when this is the first bid), read inside the same
	// transaction so it is exact under concurrency.
	AppendBid(ctx context.Context, itemID, bidderID string, amount int64, message string) (*models.Bid, int64, error)

	// SettleItem marks the item sold to winnerID and debits the winner's
	// balance by amount, both in one atomic unit, only if the item is
	// still open. Returns true if this call performed the transition.
	SettleItem(ctx context.Context, itemID, winnerID string, amount int64) (bool, error)

	// CloseUnsold moves an item with no bids to the terminal unsold
	// state, only if it is still open. Returns true if this call
	// performed the transition.
	CloseUnsold(ctx context.Context, itemID string) (bool, error)

	GetUser(ctx context.Context, id string) (*models.User, error)

	// ListItemsWonBy returns settled items won by the given user.
	ListItemsWonBy(ctx context.Context, userID string) ([]*models.Item, error)
}
