// Package auction implements the auction lifecycle engine: bid
// acceptance, one-shot close scheduling, idempotent settlement and the
// startup reconciliation sweep.
package auction

import (
	"time"

	"github.com/Yimsu/node-auction/internal/models"
)

// RejectReason identifies why a candidate bid was refused.
type RejectReason string

const (
	ReasonAuctionClosed      RejectReason = "auction_closed"
	ReasonAuctionExpired     RejectReason = "auction_expired"
	ReasonBelowStartingPrice RejectReason = "below_starting_price"
	ReasonBelowCurrentBid    RejectReason = "below_current_bid"
)

func (r RejectReason) String() string { return string(r) }

// Message returns the bidder-facing description of the rejection.
func (r RejectReason) Message() string {
	switch r {
	case ReasonAuctionClosed:
		return "auction is already closed"
	case ReasonAuctionExpired:
		return "bidding window has ended"
	case ReasonBelowStartingPrice:
		return "bid must exceed the starting price"
	case ReasonBelowCurrentBid:
		return "bid must exceed the current highest bid"
	}
	return "bid rejected"
}

// Snapshot is the item state a bid is judged against.
type Snapshot struct {
	Price      int64
	ClosesAt   time.Time
	Closed     bool // terminal (sold or unsold)
	CurrentMax int64
	HasBids    bool
}

// SnapshotOf builds a Snapshot from an item and its current highest bid
// (nil when no bids exist yet).
func SnapshotOf(item *models.Item, highest *models.Bid) Snapshot {
	snap := Snapshot{
		Price:    item.Price,
		ClosesAt: item.ClosesAt,
		Closed:   !item.Open(),
	}
	if highest != nil {
		snap.CurrentMax = highest.Amount
		snap.HasBids = true
	}
	return snap
}

// ValidateBid decides whether a candidate amount is acceptable against the
// given snapshot at the given time. It returns the empty reason on accept.
// Purely a decision; rules are checked in fixed order and the first
// failing one names the rejection.
func ValidateBid(snap Snapshot, amount int64, now time.Time) (RejectReason, bool) {
	if snap.Closed {
		return ReasonAuctionClosed, false
	}
	if !now.Before(snap.ClosesAt) {
		return ReasonAuctionExpired, false
	}
	if amount <= snap.Price {
		return ReasonBelowStartingPrice, false
	}
	if snap.HasBids && amount <= snap.CurrentMax {
		return ReasonBelowCurrentBid, false
	}
	return "", true
}
