package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Subscriber wraps Redis Pub/Sub consumption of accepted-bid events.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber creates a new Redis Pub/Sub subscriber
func NewSubscriber(addr, password string, db int) (*Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Subscriber{client: rdb}, nil
}

// Message is a bid event received for one item.
type Message struct {
	ItemID  string
	Payload []byte
}

// SubscribeAll subscribes to bid events for every item.
// Channel pattern: "bid_events:*"
func (s *Subscriber) SubscribeAll(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, "bid_events:*")
	return nil
}

// Listen forwards incoming events to messageChan until ctx is cancelled.
// This is a blocking operation - run in a goroutine.
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			itemID := extractItemIDFromChannel(msg.Channel)
			if itemID == "" {
				continue
			}
			messageChan <- &Message{
				ItemID:  itemID,
				Payload: []byte(msg.Payload),
			}
		}
	}
}

// extractItemIDFromChannel extracts item ID from channel name
// Example: "bid_events:item123" -> "item123"
func extractItemIDFromChannel(channel string) string {
	const prefix = "bid_events:"
	if strings.HasPrefix(channel, prefix) {
		return channel[len(prefix):]
	}
	return ""
}

// Close closes the subscriber
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
