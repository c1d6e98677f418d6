package auction

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/ledger"
	"github.com/Yimsu/node-auction/internal/models"
)

func newTestEngine(f *fakeLedger, sink EventSink) (*Engine, *Scheduler) {
	settler := newTestSettler(f)
	scheduler := NewScheduler(settler.Settle, zap.NewNop())
	return NewEngine(f, nil, sink, scheduler, zap.NewNop()), scheduler
}

func TestCreateItemSchedulesClose(t *testing.T) {
	f := newFakeLedger()
	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	item, err := engine.CreateItem(context.Background(), &models.ItemRequest{
		OwnerID: "seller",
		Name:    "lamp",
		Price:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusOpen, item.Status)
	assert.Equal(t, Window, item.ClosesAt.Sub(item.CreatedAt))
	assert.Equal(t, 1, scheduler.Pending())
}

func TestCreateItemRejectsBadInput(t *testing.T) {
	f := newFakeLedger()
	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	_, err := engine.CreateItem(context.Background(), &models.ItemRequest{OwnerID: "s", Name: "x", Price: 0})
	assert.Error(t, err)
	_, err = engine.CreateItem(context.Background(), &models.ItemRequest{Name: "x", Price: 100})
	assert.Error(t, err)
}

// Full lifecycle: bids 1200 accepted, 1100 rejected, 1300 accepted; at
// close the winner is the 1300 bidder and only their balance is debited.
func TestAuctionLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	f.addUser("user2", "kim", 10_000)
	f.addUser("user3", "lee", 10_000)

	sink := &fakeSink{}
	engine, scheduler := newTestEngine(f, sink)
	defer scheduler.Stop()

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "user1", Name: "lamp", Price: 1000})
	require.NoError(t, err)

	resp, err := engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "user2", BidderNick: "kim", Amount: 1200})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	resp, err = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "user3", BidderNick: "lee", Amount: 1100})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonBelowCurrentBid.String(), resp.Reason)
	assert.Equal(t, int64(1200), resp.CurrentBid)

	resp, err = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "user3", BidderNick: "lee", Amount: 1300})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	assert.Equal(t, 2, sink.count(), "only accepted bids are published")

	settler := newTestSettler(f)
	require.NoError(t, settler.Settle(ctx, item.ID))

	settled, err := f.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusSold, settled.Status)
	assert.Equal(t, "user3", settled.SoldID)

	winner, err := f.GetUser(ctx, "user3")
	require.NoError(t, err)
	assert.Equal(t, int64(8700), winner.Balance)

	loser, err := f.GetUser(ctx, "user2")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), loser.Balance)

	won, err := engine.ListWonItems(ctx, "user3")
	require.NoError(t, err)
	require.Len(t, won, 1)
	assert.Equal(t, item.ID, won[0].ID)
}

func TestPlaceBidUnknownItem(t *testing.T) {
	f := newFakeLedger()
	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	_, err := engine.PlaceBid(context.Background(), "missing", &models.BidRequest{BidderID: "u", Amount: 100})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPlaceBidAfterWindowRejected(t *testing.T) {
	f := newFakeLedger()
	item := closedItem("item1")
	f.addItem(item)

	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	resp, err := engine.PlaceBid(context.Background(), "item1", &models.BidRequest{BidderID: "u", Amount: 999_999})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonAuctionExpired.String(), resp.Reason)
}

func TestPlaceBidOnSoldItemRejected(t *testing.T) {
	f := newFakeLedger()
	item := closedItem("item1")
	item.Status = models.ItemStatusSold
	item.SoldID = "u9"
	f.addItem(item)

	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	resp, err := engine.PlaceBid(context.Background(), "item1", &models.BidRequest{BidderID: "u", Amount: 5000})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonAuctionClosed.String(), resp.Reason)
}

// Concurrent bidders: whatever interleaving happens, the accepted
// sequence must be strictly increasing in acceptance order.
func TestAcceptedBidsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "seller", Name: "lamp", Price: 100})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, _ = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u", Amount: amount})
		}(int64(101 + i*3))
	}
	wg.Wait()

	bids, err := f.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i].Amount, bids[i-1].Amount,
			"accepted amounts must be strictly increasing")
		assert.Greater(t, bids[i].ID, bids[i-1].ID)
	}
}

// Published events must carry the amount each bid actually outbid, even
// when acceptances interleave.
func TestBidEventCarriesCommittedPreviousBid(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	sink := &fakeSink{}
	engine, scheduler := newTestEngine(f, sink)
	defer scheduler.Stop()

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "seller", Name: "lamp", Price: 100})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, _ = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u", Amount: amount})
		}(int64(101 + i*3))
	}
	wg.Wait()

	bids, err := f.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)

	sink.mu.Lock()
	byBidID := make(map[int64]*models.BidEvent, len(sink.events))
	for _, ev := range sink.events {
		byBidID[ev.BidID] = ev
	}
	sink.mu.Unlock()
	require.Len(t, byBidID, len(bids))

	prev := int64(0)
	for _, b := range bids {
		ev := byBidID[b.ID]
		require.NotNil(t, ev)
		assert.Equal(t, prev, ev.PreviousBid,
			"event must name the amount this bid outbid")
		prev = b.Amount
	}
}

// A transient append failure must not leave the guard holding an amount
// that never committed; a later lower bid has to win on an empty book.
func TestGuardClearedAfterTransientAppendFailure(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	guard := newFakeGuard()
	settler := newTestSettler(f)
	scheduler := NewScheduler(settler.Settle, zap.NewNop())
	defer scheduler.Stop()
	engine := NewEngine(f, guard, nil, scheduler, zap.NewNop())

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "seller", Name: "lamp", Price: 100})
	require.NoError(t, err)

	f.failNext("AppendBid", 1)
	_, err = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u1", Amount: 500})
	require.Error(t, err)
	assert.Equal(t, int64(0), guard.current(item.ID),
		"guard must not keep an amount that never committed")

	resp, err := engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u2", Amount: 300})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	bids, err := f.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(300), bids[0].Amount)
	assert.Equal(t, int64(300), guard.current(item.ID))
}

// A guard value with no committed bid behind it is advisory only: the
// append decides, and the guard is rewritten with the committed amount.
func TestGuardRejectionDefersToLedger(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	guard := newFakeGuard()
	settler := newTestSettler(f)
	scheduler := NewScheduler(settler.Settle, zap.NewNop())
	defer scheduler.Stop()
	engine := NewEngine(f, guard, nil, scheduler, zap.NewNop())

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "seller", Name: "lamp", Price: 100})
	require.NoError(t, err)

	// Stale guard state, e.g. left behind by a crashed bid path
	require.NoError(t, guard.SyncCurrentBid(ctx, item.ID, "ghost", 500))

	resp, err := engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u1", Amount: 300})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, int64(300), guard.current(item.ID))
}

func TestPlaceBidRaceReportsCurrentBid(t *testing.T) {
	ctx := context.Background()
	f := newFakeLedger()
	engine, scheduler := newTestEngine(f, nil)
	defer scheduler.Stop()

	item, err := engine.CreateItem(ctx, &models.ItemRequest{OwnerID: "seller", Name: "lamp", Price: 100})
	require.NoError(t, err)

	resp, err := engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u1", Amount: 500})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	// Same amount again: the commit-time condition fails
	resp, err = engine.PlaceBid(ctx, item.ID, &models.BidRequest{BidderID: "u2", Amount: 500})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, int64(500), resp.CurrentBid)
}
