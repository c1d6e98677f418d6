package models

// User represents a registered bidder or seller. Accounts are created by
// the auth layer; this service only reads users and debits winners.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Balance  int64  `json:"balance"`
}
