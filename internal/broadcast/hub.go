// Package broadcast fans accepted-bid events out to the live subscribers
// of each auction. Delivery is at-most-once and best effort: there is no
// replay buffer, so a subscriber only sees bids placed after it connected.
package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber is one live connection watching a single item. Send is a
// buffered channel the transport (WebSocket, SSE) drains; it is closed by
// the hub on unsubscribe.
type Subscriber struct {
	ID     string
	ItemID string
	Send   chan []byte
}

// NewSubscriber creates a subscriber handle for an item.
func NewSubscriber(id, itemID string) *Subscriber {
	return &Subscriber{
		ID:     id,
		ItemID: itemID,
		// Buffered so one slow reader never blocks the fan-out
		Send: make(chan []byte, 256),
	}
}

// Hub maintains the item id -> subscriber set registry.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a connection for its item's bid events.
func (h *Hub) Subscribe(sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.subscribers[sub.ItemID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[sub.ItemID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber joined",
		zap.String("subscriber_id", sub.ID),
		zap.String("item_id", sub.ItemID))
}

// Unsubscribe removes a connection and closes its Send channel. Safe to
// call more than once for the same subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	set, ok := h.subscribers[sub.ItemID]
	if ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			close(sub.Send)
			if len(set) == 0 {
				delete(h.subscribers, sub.ItemID)
			}
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug("subscriber left",
			zap.String("subscriber_id", sub.ID),
			zap.String("item_id", sub.ItemID))
	}
}

// Publish delivers payload to every current subscriber of the item.
// Subscribers whose buffer is full are dropped so one slow connection
// cannot stall the rest.
func (h *Hub) Publish(itemID string, payload []byte) {
	// Sends happen under the read lock: Unsubscribe holds the write lock
	// while it closes Send, so a send can never hit a closed channel.
	// Sends are non-blocking, so the lock is never held long.
	h.mu.RLock()
	var slow []*Subscriber
	for sub := range h.subscribers[itemID] {
		select {
		case sub.Send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range slow {
		h.logger.Warn("dropping slow subscriber",
			zap.String("subscriber_id", sub.ID),
			zap.String("item_id", sub.ItemID))
		h.Unsubscribe(sub)
	}
}

// Send enqueues payload for a single subscriber. It reports false when
// the subscriber has already been unsubscribed or its buffer is full.
// The membership check happens under the read lock, so this can never
// write to a channel Unsubscribe has closed.
func (h *Hub) Send(sub *Subscriber, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, member := h.subscribers[sub.ItemID][sub]; !member {
		return false
	}
	select {
	case sub.Send <- payload:
		return true
	default:
		return false
	}
}

// SubscriberCount returns the number of connections watching an item.
func (h *Hub) SubscriberCount(itemID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[itemID])
}
