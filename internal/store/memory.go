package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/auction/internal/models"
)

// Memory keeps auctions and bids in process. Snapshot and ledger share one
// lock so a commit is never half visible.
type Memory struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]models.Bid
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
	}
}

// CreateAuction inserts a new auction
func (m *Memory) CreateAuction(ctx context.Context, a *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	m.auctions[a.ID] = a.Clone()
	return nil
}

// GetAuction returns a copy of the current snapshot
func (m *Memory) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// ListAuctions returns auctions ordered by end time, then id
func (m *Memory) ListAuctions(ctx context.Context, f Filter) ([]models.Auction, error) {
	m.mu.RLock()
	out := make([]models.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.SellerID != "" && a.SellerID != f.SellerID {
			continue
		}
		out = append(out, *a.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return page(out, f.Limit, f.Offset), nil
}

// ListDue returns auctions that need a lifecycle transition at now
func (m *Memory) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	m.mu.RLock()
	var out []models.Auction
	for _, a := range m.auctions {
		switch {
		case a.Status == models.StatusScheduled && !now.Before(a.StartTime):
			out = append(out, *a.Clone())
		case a.Status == models.StatusActive && !now.Before(a.EndTime):
			out = append(out, *a.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return page(out, limit, 0), nil
}

// UpdateAuction replaces the snapshot under a version check
func (m *Memory) UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersion(a.ID, expectedVersion); err != nil {
		return err
	}
	a.Version = expectedVersion + 1
	m.auctions[a.ID] = a.Clone()
	return nil
}

// CommitBid appends to the ledger and replaces the snapshot together
func (m *Memory) CommitBid(ctx context.Context, a *models.Auction, expectedVersion int64, bid models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkVersion(a.ID, expectedVersion); err != nil {
		return err
	}
	ledger := m.bids[a.ID]
	if bid.Sequence != int64(len(ledger))+1 {
		return ErrSequenceConflict
	}
	a.Version = expectedVersion + 1
	m.auctions[a.ID] = a.Clone()
	m.bids[a.ID] = append(ledger, bid)
	return nil
}

// ListBids returns the ledger in sequence order
func (m *Memory) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}
	ledger := m.bids[auctionID]
	out := make([]models.Bid, len(ledger))
	copy(out, ledger)
	return out, nil
}

// LatestBid returns the last accepted bid or nil
func (m *Memory) LatestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}
	ledger := m.bids[auctionID]
	if len(ledger) == 0 {
		return nil, nil
	}
	b := ledger[len(ledger)-1]
	return &b, nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) checkVersion(id uuid.UUID, expected int64) error {
	cur, ok := m.auctions[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrVersionConflict
	}
	return nil
}

func page(in []models.Auction, limit, offset int) []models.Auction {
	if offset > 0 {
		if offset >= len(in) {
			return []models.Auction{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
