// Package store defines persistence for auction snapshots and the bid
// ledger, and provides an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/auction/internal/models"
)

var (
	// ErrNotFound is returned for an unknown auction id
	ErrNotFound = errors.New("auction not found")
	// ErrVersionConflict is returned when the stored version no longer
	// matches the version the caller read
	ErrVersionConflict = errors.New("auction version conflict")
	// ErrSequenceConflict is returned when a ledger append does not extend
	// the sequence by exactly one
	ErrSequenceConflict = errors.New("bid sequence conflict")
)

// Filter narrows ListAuctions
type Filter struct {
	Status   models.Status
	Category string
	SellerID string
	Limit    int
	Offset   int
}

// AuctionStore owns auction snapshots
type AuctionStore interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListAuctions(ctx context.Context, f Filter) ([]models.Auction, error)
	// ListDue returns scheduled auctions whose start has passed and active
	// auctions whose end has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	// UpdateAuction replaces the snapshot if the stored version equals
	// expectedVersion, and sets a.Version to expectedVersion+1.
	UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error
}

// BidLedger is the append-only log of accepted bids
type BidLedger interface {
	// ListBids returns bids in sequence order
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	// LatestBid returns the bid with the highest sequence, or nil
	LatestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
}

// Store is both halves plus the commit that spans them
type Store interface {
	AuctionStore
	BidLedger
	// CommitBid appends bid and replaces the snapshot in one atomic step,
	// with the same version check as UpdateAuction.
	CommitBid(ctx context.Context, a *models.Auction, expectedVersion int64, bid models.Bid) error
	Ping(ctx context.Context) error
}
