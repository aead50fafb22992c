// Package events carries auction notifications to the notification
// collaborator: websocket clients, Redis subscribers, or both.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names an event
type Type string

const (
	BidAccepted      Type = "bid_accepted"
	AuctionExtended  Type = "auction_extended"
	AuctionActivated Type = "auction_activated"
	AuctionClosed    Type = "auction_closed"
	AuctionCancelled Type = "auction_cancelled"
)

// Event is one notification. Payload is one of the *Payload types below.
type Event struct {
	Type      Type      `json:"type"`
	AuctionID uuid.UUID `json:"auction_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

type BidAcceptedPayload struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Sequence int64           `json:"sequence"`
}

type AuctionExtendedPayload struct {
	NewEndTime time.Time `json:"new_end_time"`
}

type WinningBid struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Sequence int64           `json:"sequence"`
}

type AuctionClosedPayload struct {
	WinningBid *WinningBid `json:"winning_bid,omitempty"`
	ReserveMet bool        `json:"reserve_met"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans out to several publishers and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broker is an in-process fan-out. A subscriber whose buffer is full misses
// the event rather than stalling the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	buffer int
}

type subscription struct {
	ch     chan Event
	filter func(Event) bool
}

// NewBroker creates a broker with the given per-subscriber buffer
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[int]*subscription), buffer: buffer}
}

// Subscribe registers a receiver. filter may be nil. The returned cancel
// func closes the channel.
func (b *Broker) Subscribe(filter func(Event) bool) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	s := &subscription{ch: make(chan Event, b.buffer), filter: filter}
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish delivers ev to every matching subscriber without blocking
func (b *Broker) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers returns the current subscriber count
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ForAuction is a Subscribe filter matching one auction
func ForAuction(id uuid.UUID) func(Event) bool {
	return func(ev Event) bool { return ev.AuctionID == id }
}
