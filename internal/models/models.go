package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPrecision is the number of decimal places kept for every amount
const MoneyPrecision int32 = 4

// MaxMoney is the exclusive upper bound of a stored amount (NUMERIC(20,4))
var MaxMoney = decimal.New(1, 16)

// Status is the lifecycle state of an auction
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Auction is the authoritative snapshot of one auction
type Auction struct {
	ID           uuid.UUID
	SellerID     string
	Title        string
	Category     string
	StartPrice   decimal.Decimal
	ReservePrice *decimal.Decimal // hidden from bidders
	MinIncrement decimal.Decimal
	CurrentPrice decimal.Decimal // highest accepted amount, or StartPrice
	StartTime    time.Time
	EndTime      time.Time // only moves forward
	Status       Status
	BidCount     int
	Extensions   int
	Version      int64 // bumped on every committed mutation
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// EffectiveStatus is the status as seen at now, regardless of whether the
// sweeper has already persisted the transition.
func (a *Auction) EffectiveStatus(now time.Time) Status {
	switch a.Status {
	case StatusScheduled:
		if now.Before(a.StartTime) {
			return StatusScheduled
		}
		if !now.Before(a.EndTime) {
			return StatusClosed
		}
		return StatusActive
	case StatusActive:
		if !now.Before(a.EndTime) {
			return StatusClosed
		}
	}
	return a.Status
}

// ReserveMet reports whether the current price satisfies the reserve.
// An auction without bids never meets it.
func (a *Auction) ReserveMet() bool {
	if a.BidCount == 0 {
		return false
	}
	if a.ReservePrice == nil {
		return true
	}
	return a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (a *Auction) Clone() *Auction {
	c := *a
	if a.ReservePrice != nil {
		r := *a.ReservePrice
		c.ReservePrice = &r
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Bid is an accepted bid. Rejected bids are never stored.
type Bid struct {
	ID          uuid.UUID       `json:"id"`
	AuctionID   uuid.UUID       `json:"auction_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Sequence    int64           `json:"sequence"` // 1-based, strictly increasing per auction
}

// RoundMoney normalizes an amount to MoneyPrecision
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}
