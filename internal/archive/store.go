// Package archive is the durable bid-event history pipeline: a JetStream
// consumer draining the BID_EVENTS stream into Postgres.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Yimsu/node-auction/internal/models"
)

// Store persists bid events into the history table.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool against the given DSN and verifies it.
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// InitSchema creates the history table
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bid_events (
		event_id VARCHAR(255) PRIMARY KEY,
		item_id VARCHAR(255) NOT NULL,
		bid_id BIGINT NOT NULL,
		bidder_id VARCHAR(255) NOT NULL,
		bidder_nick VARCHAR(255),
		amount BIGINT NOT NULL,
		message TEXT,
		previous_bid BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_bid_events_item_id ON bid_events(item_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertEvent records one bid event. Inserting the same event id twice is
// a no-op, which makes redelivery from the stream safe.
func (s *Store) InsertEvent(ctx context.Context, event *models.BidEvent) error {
	query := `
		INSERT INTO bid_events (event_id, item_id, bid_id, bidder_id, bidder_nick, amount, message, previous_bid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.EventID, event.ItemID, event.BidID, event.BidderID, event.BidderNick,
		event.Amount, event.Message, event.PreviousBid, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid event: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
