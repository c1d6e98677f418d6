// Package events publishes accepted-bid events to the two downstream
// transports: Redis Pub/Sub for real-time fan-out and NATS JetStream for
// durable archival.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/models"
	redisclient "github.com/Yimsu/node-auction/internal/redis"
)

// StreamName is the JetStream stream holding bid events for archival.
const StreamName = "BID_EVENTS"

// Publisher fans accepted bids out to Redis Pub/Sub and NATS JetStream.
// Both paths are best effort from the bid path's point of view: a
// publish failure is logged, never surfaced to the bidder.
type Publisher struct {
	redis  *redisclient.Client
	js     jetstream.JetStream
	logger *zap.Logger
}

// NewPublisher creates the publisher and ensures the archival stream
// exists.
func NewPublisher(natsConn *nats.Conn, redis *redisclient.Client, logger *zap.Logger) (*Publisher, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Stream for bid events archival",
		Subjects:    []string{"bid.events.*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{redis: redis, js: js, logger: logger}, nil
}

// PublishBidAccepted delivers the event to both transports without
// blocking the caller.
func (p *Publisher) PublishBidAccepted(ctx context.Context, event *models.BidEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal bid event", zap.Error(err))
		return
	}

	go p.publishRealtime(event.ItemID, event)
	go p.publishArchival(event.ItemID, event.EventID, data)
}

func (p *Publisher) publishRealtime(itemID string, event *models.BidEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.redis.PublishBidEvent(ctx, itemID, event); err != nil {
		p.logger.Warn("failed to publish bid event to Redis",
			zap.String("item_id", itemID),
			zap.Error(err))
	}
}

func (p *Publisher) publishArchival(itemID, eventID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subject := fmt.Sprintf("bid.events.%s", itemID)
	// JetStream publish waits for the server ack, so the event is
	// persisted before this returns.
	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		p.logger.Warn("failed to publish bid event to JetStream",
			zap.String("event_id", eventID),
			zap.Error(err))
		return
	}
	p.logger.Debug("bid event archived",
		zap.String("subject", subject),
		zap.Uint64("seq", ack.Sequence))
}
