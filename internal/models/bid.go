package models

import "time"

// Bid represents a single accepted bid on an item.
// Bids are immutable once created; the id is assigned by the ledger in
// insertion order, so sorting by id reproduces acceptance order.
type Bid struct {
	ID        int64     `json:"id"`
	ItemID    string    `json:"item_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BidRequest represents the incoming bid request from the API
type BidRequest struct {
	BidderID   string `json:"bidder_id"`
	BidderNick string `json:"bidder_nick"`
	Amount     int64  `json:"amount"`
	Message    string `json:"message,omitempty"`
}

// BidResponse represents the API response after placing a bid
type BidResponse struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`  // reject reason code when not accepted
	Message    string `json:"message,omitempty"` // bidder-facing description
	CurrentBid int64  `json:"current_bid"`
	YourBid    int64  `json:"your_bid"`
}

// BidEvent represents an event that gets published when a bid is accepted.
// This is sent to:
// 1. Redis Pub/Sub (for real-time fan-out to item subscribers)
// 2. NATS JetStream (for archival into the bid history)
type BidEvent struct {
	EventID     string    `json:"event_id"`
	ItemID      string    `json:"item_id"`
	BidID       int64     `json:"bid_id"`
	BidderID    string    `json:"bidder_id"`
	BidderNick  string    `json:"bidder_nick"`
	Amount      int64     `json:"amount"`
	Message     string    `json:"message,omitempty"`
	PreviousBid int64     `json:"previous_bid"`
	CreatedAt   time.Time `json:"created_at"`
}
