package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/events"
	"github.com/xtrntr/auction/internal/metrics"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/policy"
	"github.com/xtrntr/auction/internal/store"
)

// BidRequest is a bid as submitted. There is no timestamp: acceptance time
// always comes from the server clock.
type BidRequest struct {
	AuctionID uuid.UUID
	BidderID  string
	Amount    decimal.Decimal
	// ExpectedVersion is the auction version the bidder based the bid on.
	// When nil, the version read at submission is used.
	ExpectedVersion *int64
}

// Accepted describes a committed bid
type Accepted struct {
	BidID           uuid.UUID       `json:"bid_id"`
	Sequence        int64           `json:"sequence"`
	NewCurrentPrice decimal.Decimal `json:"new_current_price"`
	NewEndTime      time.Time       `json:"new_end_time"`
	Extended        bool            `json:"extended"`
	MinimumNextBid  decimal.Decimal `json:"minimum_next_bid"`
	Version         int64           `json:"version"`
}

// SubmitBid admits or rejects one bid. The snapshot is re-read under the
// auction's gate; a bid based on a version that moved on is rejected as a
// conflict carrying the fresh minimum. On success the ledger append, price
// and end time are committed together.
func (s *Service) SubmitBid(ctx context.Context, req BidRequest) (*Accepted, error) {
	acc, err := s.submitBid(ctx, req)
	metrics.RecordBid(outcome(err))
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Service) submitBid(ctx context.Context, req BidRequest) (*Accepted, error) {
	if req.BidderID == "" {
		return nil, invalid("bidder id required")
	}
	amount, err := money(req.Amount, "amount")
	if err != nil {
		return nil, err
	}

	snap, err := s.load(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	observed := snap.Version
	if req.ExpectedVersion != nil {
		observed = *req.ExpectedVersion
	}

	waitStart := time.Now()
	release, err := s.acquire(ctx, req.AuctionID)
	metrics.ObserveGateWait(time.Since(waitStart))
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.load(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	if err := checkBiddable(cur, req.BidderID, now); err != nil {
		return nil, err
	}
	minimum := policy.MinimumNextBid(cur)
	if cur.Version != observed {
		return nil, withMinimum(KindConflict, ReasonVersionConflict, minimum)
	}
	if !policy.MeetsMinimum(cur, amount) {
		return nil, withMinimum(KindValidation, ReasonBelowMinimum, minimum)
	}

	next := cur.Clone()
	next.Status = models.StatusActive
	next.CurrentPrice = amount
	next.BidCount = cur.BidCount + 1
	endTime, extended := s.cfg.Extension.Apply(cur.EndTime, now, cur.Extensions)
	next.EndTime = endTime
	if extended {
		next.Extensions++
	}

	bid := models.Bid{
		ID:          uuid.New(),
		AuctionID:   cur.ID,
		BidderID:    req.BidderID,
		Amount:      amount,
		SubmittedAt: now,
		Sequence:    int64(next.BidCount),
	}
	if err := s.store.CommitBid(ctx, next, cur.Version, bid); err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrSequenceConflict) {
			return nil, s.conflictFromStore(ctx, req.AuctionID, minimum)
		}
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"auction_id": cur.ID,
		"bidder_id":  req.BidderID,
		"amount":     amount.String(),
		"sequence":   bid.Sequence,
	})
	log.Info("bid accepted")

	s.publish(ctx, events.Event{
		Type:      events.BidAccepted,
		AuctionID: cur.ID,
		At:        now,
		Payload:   events.BidAcceptedPayload{BidderID: bid.BidderID, Amount: amount, Sequence: bid.Sequence},
	})
	if extended {
		metrics.RecordExtension()
		log.WithField("new_end_time", endTime).Info("auction extended")
		s.publish(ctx, events.Event{
			Type:      events.AuctionExtended,
			AuctionID: cur.ID,
			At:        now,
			Payload:   events.AuctionExtendedPayload{NewEndTime: endTime},
		})
	}

	return &Accepted{
		BidID:           bid.ID,
		Sequence:        bid.Sequence,
		NewCurrentPrice: amount,
		NewEndTime:      endTime,
		Extended:        extended,
		MinimumNextBid:  policy.MinimumNextBid(next),
		Version:         next.Version,
	}, nil
}

// checkBiddable applies the state and role preconditions at now
func checkBiddable(a *models.Auction, bidderID string, now time.Time) error {
	if a.Status.Terminal() {
		return reject(KindState, string(a.Status))
	}
	switch a.EffectiveStatus(now) {
	case models.StatusScheduled:
		return reject(KindState, ReasonNotStarted)
	case models.StatusClosed:
		// past the end even if the sweeper has not run yet
		return reject(KindState, ReasonExpired)
	}
	if bidderID == a.SellerID {
		return reject(KindAuthorization, ReasonSellerCannotBid)
	}
	return nil
}

// conflictFromStore builds the conflict rejection after another writer
// sharing the database committed first
func (s *Service) conflictFromStore(ctx context.Context, id uuid.UUID, fallback decimal.Decimal) error {
	fresh, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return withMinimum(KindConflict, ReasonVersionConflict, fallback)
	}
	return withMinimum(KindConflict, ReasonVersionConflict, policy.MinimumNextBid(fresh))
}

func outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	if rej, ok := AsRejection(err); ok {
		return string(rej.Kind)
	}
	return "error"
}
