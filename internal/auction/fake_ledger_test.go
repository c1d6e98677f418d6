package auction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Yimsu/node-auction/internal/ledger"
	"github.com/Yimsu/node-auction/internal/models"
	redisguard "github.com/Yimsu/node-auction/internal/redis"
)

var errLedgerDown = errors.New("ledger temporarily unavailable")

// fakeLedger is an in-memory Ledger with the same atomicity guarantees as
// the Postgres implementation: AppendBid, SettleItem and CloseUnsold are
// conditional updates under one lock. failures injects transient errors
// per method for retry tests.
type fakeLedger struct {
	mu        sync.Mutex
	items     map[string]*models.Item
	bids      map[string][]*models.Bid
	users     map[string]*models.User
	nextBidID int64
	failures  map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		items:    make(map[string]*models.Item),
		bids:     make(map[string][]*models.Bid),
		users:    make(map[string]*models.User),
		failures: make(map[string]int),
	}
}

func (f *fakeLedger) failNext(method string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = times
}

func (f *fakeLedger) failing(method string) bool {
	if f.failures[method] > 0 {
		f.failures[method]--
		return true
	}
	if f.failures[method] < 0 {
		// Negative means fail forever
		return true
	}
	return false
}

func (f *fakeLedger) addUser(id, nick string, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &models.User{ID: id, Nickname: nick, Balance: balance}
}

func (f *fakeLedger) addItem(item *models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *item
	f.items[item.ID] = &cp
}

func (f *fakeLedger) CreateItem(ctx context.Context, item *models.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("CreateItem") {
		return errLedgerDown
	}
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeLedger) GetItem(ctx context.Context, id string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("GetItem") {
		return nil, errLedgerDown
	}
	item, ok := f.items[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (f *fakeLedger) ListOpenItems(ctx context.Context) ([]*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Item
	for _, item := range f.items {
		if item.Status == models.ItemStatusOpen {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListOpenItemsClosedBy(ctx context.Context, t time.Time) ([]*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("ListOpenItemsClosedBy") {
		return nil, errLedgerDown
	}
	var out []*models.Item
	for _, item := range f.items {
		if item.Status == models.ItemStatusOpen && !item.ClosesAt.After(t) {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListBids(ctx context.Context, itemID string) ([]*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Bid, 0, len(f.bids[itemID]))
	for _, b := range f.bids[itemID] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLedger) HighestBid(ctx context.Context, itemID string) (*models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("HighestBid") {
		return nil, errLedgerDown
	}
	return f.highestLocked(itemID)
}

func (f *fakeLedger) highestLocked(itemID string) (*models.Bid, error) {
	var best *models.Bid
	for _, b := range f.bids[itemID] {
		if best == nil || b.Amount > best.Amount {
			best = b
		}
	}
	if best == nil {
		return nil, ledger.ErrNoBids
	}
	cp := *best
	return &cp, nil
}

func (f *fakeLedger) AppendBid(ctx context.Context, itemID, bidderID string, amount int64, message string) (*models.Bid, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("AppendBid") {
		return nil, 0, errLedgerDown
	}
	item, ok := f.items[itemID]
	if !ok {
		return nil, 0, ledger.ErrNotFound
	}
	if item.Status != models.ItemStatusOpen || !time.Now().Before(item.ClosesAt) {
		return nil, 0, ledger.ErrAuctionClosed
	}
	max := int64(0)
	if best, err := f.highestLocked(itemID); err == nil {
		max = best.Amount
	}
	if amount <= item.Price || amount <= max {
		return nil, 0, ledger.ErrBidConditionFailed
	}
	f.nextBidID++
	bid := &models.Bid{
		ID:        f.nextBidID,
		ItemID:    itemID,
		BidderID:  bidderID,
		Amount:    amount,
		Message:   message,
		CreatedAt: time.Now(),
	}
	f.bids[itemID] = append(f.bids[itemID], bid)
	cp := *bid
	return &cp, max, nil
}

// appendBidUnchecked seeds bids directly, bypassing the window check, so
// tests can build histories for items that are already past close.
func (f *fakeLedger) appendBidUnchecked(itemID, bidderID string, amount int64) *models.Bid {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextBidID++
	bid := &models.Bid{
		ID:        f.nextBidID,
		ItemID:    itemID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	f.bids[itemID] = append(f.bids[itemID], bid)
	return bid
}

func (f *fakeLedger) SettleItem(ctx context.Context, itemID, winnerID string, amount int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("SettleItem") {
		return false, errLedgerDown
	}
	item, ok := f.items[itemID]
	if !ok {
		return false, ledger.ErrNotFound
	}
	if item.Status != models.ItemStatusOpen {
		return false, nil
	}
	user, ok := f.users[winnerID]
	if !ok {
		return false, ledger.ErrNotFound
	}
	item.Status = models.ItemStatusSold
	item.SoldID = winnerID
	user.Balance -= amount
	return true, nil
}

func (f *fakeLedger) CloseUnsold(ctx context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing("CloseUnsold") {
		return false, errLedgerDown
	}
	item, ok := f.items[itemID]
	if !ok {
		return false, ledger.ErrNotFound
	}
	if item.Status != models.ItemStatusOpen {
		return false, nil
	}
	item.Status = models.ItemStatusUnsold
	return true, nil
}

func (f *fakeLedger) GetUser(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeLedger) ListItemsWonBy(ctx context.Context, userID string) ([]*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Item
	for _, item := range f.items {
		if item.Status == models.ItemStatusSold && item.SoldID == userID {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ ledger.Ledger = (*fakeLedger)(nil)

// fakeSink records published bid events.
type fakeSink struct {
	mu     sync.Mutex
	events []*models.BidEvent
}

func (s *fakeSink) PublishBidAccepted(ctx context.Context, event *models.BidEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeGuard mirrors the Redis compare-and-set guard: TryBid advances the
// stored amount when the incoming bid exceeds it, SyncCurrentBid
// overwrites it unconditionally.
type fakeGuard struct {
	mu      sync.Mutex
	amounts map[string]int64
	bidders map[string]string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{
		amounts: make(map[string]int64),
		bidders: make(map[string]string),
	}
}

func (g *fakeGuard) TryBid(ctx context.Context, itemID, bidderID string, amount int64) (*redisguard.GuardResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.amounts[itemID]
	if amount > prev {
		g.amounts[itemID] = amount
		g.bidders[itemID] = bidderID
		return &redisguard.GuardResult{Passed: true, PreviousBid: prev}, nil
	}
	return &redisguard.GuardResult{Passed: false, PreviousBid: prev}, nil
}

func (g *fakeGuard) SyncCurrentBid(ctx context.Context, itemID, bidderID string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amounts[itemID] = amount
	g.bidders[itemID] = bidderID
	return nil
}

func (g *fakeGuard) current(itemID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amounts[itemID]
}
