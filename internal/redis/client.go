// Package redis holds the hot-path bid guard and the pub/sub transport
// used to fan accepted bids out to the broadcaster processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with bidding-specific operations.
//
// The guard keeps the current highest bid per item and rejects lower
// candidates atomically, which shields the ledger from losing-bid load.
// It is an optimization only: the ledger's conditional append remains the
// source of truth, so a flushed or restarted Redis never accepts a bid
// the ledger would refuse.
type Client struct {
	client *redis.Client
	// Lua script for the atomic compare-and-set on the current bid
	bidScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Runs atomically on the Redis server; two racing bids observe each
	// other's writes in script-execution order.
	bidScript := redis.NewScript(`
		-- KEYS[1]: item:{itemID}:current_bid (current highest bid amount)
		-- KEYS[2]: item:{itemID}:highest_bidder (current highest bidder ID)
		-- ARGV[1]: new bid amount
		-- ARGV[2]: bidder user ID

		local current_bid = redis.call('GET', KEYS[1])
		if not current_bid then
			current_bid = 0
		else
			current_bid = tonumber(current_bid)
		end

		local new_bid = tonumber(ARGV[1])

		if new_bid > current_bid then
			redis.call('SET', KEYS[1], new_bid)
			redis.call('SET', KEYS[2], ARGV[2])
			return {1, current_bid}
		else
			return {0, current_bid}
		end
	`)

	return &Client{
		client:    rdb,
		bidScript: bidScript,
	}, nil
}

// GuardResult represents the outcome of the hot-path guard check
type GuardResult struct {
	Passed      bool
	PreviousBid int64
}

// TryBid atomically advances the cached current bid if amount exceeds it.
// A false result means the amount is at or below the highest bid Redis
// has seen for the item.
func (c *Client) TryBid(ctx context.Context, itemID, bidderID string, amount int64) (*GuardResult, error) {
	keys := []string{
		fmt.Sprintf("item:%s:current_bid", itemID),
		fmt.Sprintf("item:%s:highest_bidder", itemID),
	}

	result, err := c.bidScript.Run(ctx, c.client, keys, amount, bidderID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute bid script: %w", err)
	}

	// Result is [success_flag, previous_bid]
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 2 {
		return nil, fmt.Errorf("unexpected script result format")
	}
	passed, ok := resultArray[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected script result format")
	}
	previous, ok := resultArray[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected script result format")
	}

	return &GuardResult{
		Passed:      passed == 1,
		PreviousBid: previous,
	}, nil
}

// SyncCurrentBid overwrites the cached current bid after the ledger has
// committed an authoritative value. Called when the guard and the ledger
// disagree (guard restarted, or the guard passed but the append lost).
func (c *Client) SyncCurrentBid(ctx context.Context, itemID, bidderID string, amount int64) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf("item:%s:current_bid", itemID), amount, 0)
	pipe.Set(ctx, fmt.Sprintf("item:%s:highest_bidder", itemID), bidderID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync current bid: %w", err)
	}
	return nil
}

// PublishBidEvent publishes a bid event to Redis Pub/Sub.
// This is picked up by the broadcaster for real-time subscriber fan-out.
func (c *Client) PublishBidEvent(ctx context.Context, itemID string, event interface{}) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("bid_events:%s", itemID)
	return c.client.Publish(ctx, channel, eventJSON).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
