package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Yimsu/node-auction/internal/models"
)

// Postgres is the system-of-record Ledger implementation.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against the given DSN and verifies it.
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing database handle. Used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// InitSchema creates the necessary database tables
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		nickname VARCHAR(255) NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		image_ref VARCHAR(512),
		sold_id VARCHAR(255),
		status VARCHAR(16) NOT NULL DEFAULT 'open',
		created_at TIMESTAMPTZ NOT NULL,
		closes_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bids (
		id BIGSERIAL PRIMARY KEY,
		item_id VARCHAR(255) NOT NULL REFERENCES items(id),
		bidder_id VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_items_status_closes_at ON items(status, closes_at);
	CREATE INDEX IF NOT EXISTS idx_bids_item_id ON bids(item_id);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateItem(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (id, owner_id, name, price, image_ref, status, created_at, closes_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.db.ExecContext(ctx, query,
		item.ID, item.OwnerID, item.Name, item.Price, item.ImageRef,
		models.ItemStatusOpen, item.CreatedAt, item.ClosesAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

const itemColumns = `id, owner_id, name, price, COALESCE(image_ref, ''), COALESCE(sold_id, ''), status, created_at, closes_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*models.Item, error) {
	var item models.Item
	err := row.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Price,
		&item.ImageRef, &item.SoldID, &item.Status, &item.CreatedAt, &item.ClosesAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (p *Postgres) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (p *Postgres) ListOpenItems(ctx context.Context) ([]*models.Item, error) {
	return p.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE status = 'open' ORDER BY created_at`)
}

func (p *Postgres) ListOpenItemsClosedBy(ctx context.Context, t time.Time) ([]*models.Item, error) {
	return p.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = 'open' AND closes_at <= $1 ORDER BY closes_at`, t)
}

func (p *Postgres) ListItemsWonBy(ctx context.Context, userID string) ([]*models.Item, error) {
	return p.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = 'sold' AND sold_id = $1 ORDER BY closes_at DESC`, userID)
}

func (p *Postgres) queryItems(ctx context.Context, query string, args ...interface{}) ([]*models.Item, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) ListBids(ctx context.Context, itemID string) ([]*models.Bid, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, item_id, bidder_id, amount, COALESCE(message, ''), created_at
		FROM bids WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.Message, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (p *Postgres) HighestBid(ctx context.Context, itemID string) (*models.Bid, error) {
	var b models.Bid
	err := p.db.QueryRowContext(ctx, `
		SELECT id, item_id, bidder_id, amount, COALESCE(message, ''), created_at
		FROM bids WHERE item_id = $1
		ORDER BY amount DESC, id ASC LIMIT 1`, itemID).
		Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.Message, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoBids
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return &b, nil
}

// AppendBid is the conditional write guarding bid monotonicity. The item
// row is locked for the duration of the transaction, so the maximum read
// here is the committed maximum at the moment this bid commits.
func (p *Postgres) AppendBid(ctx context.Context, itemID, bidderID string, amount int64, message string) (*models.Bid, int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		price    int64
		status   string
		closesAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT price, status, closes_at FROM items WHERE id = $1 FOR UPDATE`, itemID).
		Scan(&price, &status, &closesAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lock item: %w", err)
	}

	if status != models.ItemStatusOpen || !time.Now().Before(closesAt) {
		return nil, 0, ErrAuctionClosed
	}

	var maxBid int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(amount), 0) FROM bids WHERE item_id = $1`, itemID).
		Scan(&maxBid)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read max bid: %w", err)
	}

	if amount <= price || amount <= maxBid {
		return nil, 0, ErrBidConditionFailed
	}

	bid := &models.Bid{
		ItemID:   itemID,
		BidderID: bidderID,
		Amount:   amount,
		Message:  message,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bids (item_id, bidder_id, amount, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		itemID, bidderID, amount, message).
		Scan(&bid.ID, &bid.CreatedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to insert bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit bid: %w", err)
	}
	return bid, maxBid, nil
}

// SettleItem performs the compare-and-set on the item's terminal state and
// the winner debit in a single transaction. The WHERE status = 'open'
// clause is what makes concurrent settlement triggers safe: only one
// caller observes rows affected = 1.
func (p *Postgres) SettleItem(ctx context.Context, itemID, winnerID string, amount int64) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE items SET status = 'sold', sold_id = $2
		WHERE id = $1 AND status = 'open'`,
		itemID, winnerID)
	if err != nil {
		return false, fmt.Errorf("failed to mark item sold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race: another trigger already settled this item.
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1`, winnerID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit winner: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("debit winner %s: %w", winnerID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return true, nil
}

func (p *Postgres) CloseUnsold(ctx context.Context, itemID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE items SET status = 'unsold'
		WHERE id = $1 AND status = 'open'`, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to close unsold item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, nickname, balance FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Nickname, &u.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
