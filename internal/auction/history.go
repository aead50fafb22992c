package auction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auction/internal/store"
)

// HistoryEntry is one bid as shown to a viewer
type HistoryEntry struct {
	BidderDisplay string          `json:"bidder_display"`
	Amount        decimal.Decimal `json:"amount"`
	AcceptedAt    time.Time       `json:"accepted_time"`
	Sequence      int64           `json:"sequence"`
}

// ProjectHistory renders the ledger for viewerID: highest amount first,
// earlier sequence first on equal amounts. The seller gets an empty list;
// sellers are not shown granular bid history. Other bidders are masked.
func (s *Service) ProjectHistory(ctx context.Context, auctionID uuid.UUID, viewerID string) ([]HistoryEntry, error) {
	a, err := s.load(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if viewerID == a.SellerID {
		return []HistoryEntry{}, nil
	}

	bids, err := s.store.ListBids(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound()
		}
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}

	out := make([]HistoryEntry, 0, len(bids))
	for _, b := range bids {
		out = append(out, HistoryEntry{
			BidderDisplay: displayBidder(b.BidderID, viewerID),
			Amount:        b.Amount,
			AcceptedAt:    b.SubmittedAt,
			Sequence:      b.Sequence,
		})
	}
	sortHistory(out)
	return out, nil
}

// sortHistory orders by amount descending, then sequence ascending
func sortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Amount.Cmp(entries[j].Amount); c != 0 {
			return c > 0
		}
		return entries[i].Sequence < entries[j].Sequence
	})
}

// displayBidder shows "you" to the bidder and a masked id to everyone else
func displayBidder(bidderID, viewerID string) string {
	if viewerID != "" && bidderID == viewerID {
		return "you"
	}
	r := []rune(bidderID)
	if len(r) <= 2 {
		return "***"
	}
	return string(r[0]) + "***" + string(r[len(r)-1])
}
