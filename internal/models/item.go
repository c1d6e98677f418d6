package models

import "time"

// Item represents a listed good under auction
type Item struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"` // starting price
	ImageRef  string    `json:"image_ref,omitempty"`
	SoldID    string    `json:"sold_id,omitempty"` // winner's user id, set exactly once
	Status    string    `json:"status"`            // "open", "sold", "unsold"
	CreatedAt time.Time `json:"created_at"`
	ClosesAt  time.Time `json:"closes_at"`
}

// ItemStatus constants
const (
	ItemStatusOpen   = "open"
	ItemStatusSold   = "sold"
	ItemStatusUnsold = "unsold"
)

// Open reports whether the auction is still accepting settlement.
// Sold and unsold are both terminal.
func (i *Item) Open() bool {
	return i.Status == ItemStatusOpen
}

// ItemRequest represents the incoming listing request from the API
type ItemRequest struct {
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	ImageRef string `json:"image_ref,omitempty"`
}
