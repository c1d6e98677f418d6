package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/events"
	"github.com/Yimsu/node-auction/internal/models"
)

// Consumer drains bid events from JetStream and persists them.
type Consumer struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	store  *Store
	logger *zap.Logger
}

// NewConsumer connects to NATS and binds to the archival stream.
func NewConsumer(natsURL string, store *Store, logger *zap.Logger) (*Consumer, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Consumer{conn: conn, js: js, store: store, logger: logger}, nil
}

// Start consumes bid events until ctx is cancelled. Delivery is
// at-least-once; the store's conditional insert absorbs redeliveries.
func (c *Consumer) Start(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, events.StreamName, jetstream.ConsumerConfig{
		Durable:       "archiver",
		FilterSubject: "bid.events.*",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.logger.Info("archiver consuming", zap.String("stream", events.StreamName))
	<-ctx.Done()
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event models.BidEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Error("failed to unmarshal bid event", zap.Error(err))
		// Poison message; acking it keeps the stream moving
		msg.Ack()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.store.InsertEvent(dbCtx, &event); err != nil {
		c.logger.Warn("failed to persist bid event, leaving for redelivery",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		msg.Nak()
		return
	}

	c.logger.Debug("bid event persisted",
		zap.String("event_id", event.EventID),
		zap.String("item_id", event.ItemID),
		zap.Int64("amount", event.Amount))
	msg.Ack()
}

// Close closes the NATS connection
func (c *Consumer) Close() {
	c.conn.Close()
}
