package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateBid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	open := Snapshot{Price: 1000, ClosesAt: now.Add(time.Hour)}

	tests := []struct {
		name   string
		snap   Snapshot
		amount int64
		want   RejectReason
		accept bool
	}{
		{
			name:   "first bid above starting price accepted",
			snap:   open,
			amount: 1001,
			accept: true,
		},
		{
			name:   "bid equal to starting price rejected",
			snap:   open,
			amount: 1000,
			want:   ReasonBelowStartingPrice,
		},
		{
			name:   "bid below starting price rejected",
			snap:   open,
			amount: 500,
			want:   ReasonBelowStartingPrice,
		},
		{
			name:   "bid above current max accepted",
			snap:   Snapshot{Price: 1000, ClosesAt: now.Add(time.Hour), CurrentMax: 1200, HasBids: true},
			amount: 1300,
			accept: true,
		},
		{
			name:   "bid below current max rejected",
			snap:   Snapshot{Price: 1000, ClosesAt: now.Add(time.Hour), CurrentMax: 1200, HasBids: true},
			amount: 1001,
			want:   ReasonBelowCurrentBid,
		},
		{
			name:   "bid equal to current max rejected",
			snap:   Snapshot{Price: 1000, ClosesAt: now.Add(time.Hour), CurrentMax: 1200, HasBids: true},
			amount: 1200,
			want:   ReasonBelowCurrentBid,
		},
		{
			name:   "expired window rejected regardless of amount",
			snap:   Snapshot{Price: 1000, ClosesAt: now.Add(-time.Second), CurrentMax: 1200, HasBids: true},
			amount: 1_000_000,
			want:   ReasonAuctionExpired,
		},
		{
			name:   "window boundary counts as expired",
			snap:   Snapshot{Price: 1000, ClosesAt: now},
			amount: 2000,
			want:   ReasonAuctionExpired,
		},
		{
			name:   "closed item rejected before any other rule",
			snap:   Snapshot{Price: 1000, ClosesAt: now.Add(-time.Hour), Closed: true, CurrentMax: 1200, HasBids: true},
			amount: 500,
			want:   ReasonAuctionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ValidateBid(tt.snap, tt.amount, now)
			assert.Equal(t, tt.accept, ok)
			if !tt.accept {
				assert.Equal(t, tt.want, reason)
			}
		})
	}
}
