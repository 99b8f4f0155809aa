// Package events carries auction lifecycle notifications between components
// and out to external subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type identifies a lifecycle notification.
type Type string

const (
	TypeCloseRequested Type = "auction.close_requested"
	TypeClosed         Type = "auction.closed"
	TypeBidPlaced      Type = "auction.bid_placed"
	TypeTimerTick      Type = "auction.timer_tick"
	TypeReloaded       Type = "auction.reloaded"
	TypeListingSynced  Type = "listing.synced"
)

// Event is the envelope every notification travels in.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	AuctionID string          `json:"auction_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id.
func New(t Type, auctionID string, payload interface{}) (Event, error) {
	e := Event{
		ID:        uuid.NewString(),
		Type:      t,
		AuctionID: auctionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		e.Data = data
	}
	return e, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

type subscription struct {
	handler Handler
	types   map[Type]bool
}

func (s subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]subscription)}
}

// Subscribe registers h for the given types, or for all types when none are
// given. The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...Type) func() {
	id := uuid.New()
	sub := subscription{handler: h}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(e.Type) {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(e)
	}

	log.Debug().
		Str("event_type", string(e.Type)).
		Str("auction_id", e.AuctionID).
		Int("subscribers", len(targets)).
		Msg("event published")
}

// Emit builds and publishes an event in one step.
func (b *Bus) Emit(t Type, auctionID string, payload interface{}) {
	e, err := New(t, auctionID, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	b.Publish(e)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
