// Package auction is the bidding and lifecycle engine: admission of bids,
// auction management, the lifecycle sweeper and the bid history view.
package auction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/clock"
	"github.com/xtrntr/auction/internal/events"
	"github.com/xtrntr/auction/internal/gate"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/policy"
	"github.com/xtrntr/auction/internal/store"
)

// Config holds the engine tunables
type Config struct {
	Extension   policy.Extension
	GateTimeout time.Duration
}

// DefaultConfig is 5m/5m uncapped extension and a 250ms gate wait
func DefaultConfig() Config {
	return Config{
		Extension:   policy.DefaultExtension(),
		GateTimeout: 250 * time.Millisecond,
	}
}

// Service is the engine. One instance per process; every mutation of an
// auction goes through its gate.
type Service struct {
	store     store.Store
	clock     clock.Clock
	gate      *gate.Gate
	publisher events.Publisher
	log       logrus.FieldLogger
	cfg       Config
}

// NewService wires the engine. publisher is called while the auction's gate
// is held and must not block; wrap slow publishers in events.Async.
func NewService(st store.Store, clk clock.Clock, pub events.Publisher, log logrus.FieldLogger, cfg Config) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Service{
		store:     st,
		clock:     clk,
		gate:      gate.New(cfg.GateTimeout),
		publisher: pub,
		log:       log,
		cfg:       cfg,
	}
}

// CreateAuctionInput is what a seller supplies
type CreateAuctionInput struct {
	SellerID     string
	Title        string
	Category     string
	StartPrice   decimal.Decimal
	ReservePrice *decimal.Decimal
	MinIncrement decimal.Decimal
	StartTime    time.Time // zero means now
	EndTime      time.Time
}

// TermsUpdate changes pricing terms; nil fields are left alone
type TermsUpdate struct {
	StartPrice   *decimal.Decimal
	MinIncrement *decimal.Decimal
	ReservePrice *decimal.Decimal
	Category     *string
}

// AuctionView is the read model returned to callers
type AuctionView struct {
	ID             uuid.UUID        `json:"id"`
	SellerID       string           `json:"seller_id"`
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	Status         models.Status    `json:"status"`
	StartPrice     decimal.Decimal  `json:"start_price"`
	MinIncrement   decimal.Decimal  `json:"min_increment"`
	CurrentPrice   decimal.Decimal  `json:"current_price"`
	MinimumNextBid decimal.Decimal  `json:"minimum_next_bid"`
	ReservePrice   *decimal.Decimal `json:"reserve_price,omitempty"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	BidCount       int              `json:"bid_count"`
	Extensions     int              `json:"extensions"`
	Version        int64            `json:"version"`
	ServerTime     time.Time        `json:"server_time"`
}

// CreateAuction validates and stores a new auction. It starts active when
// its start time has already passed.
func (s *Service) CreateAuction(ctx context.Context, in CreateAuctionInput) (*models.Auction, error) {
	now := s.clock.Now()
	if in.StartTime.IsZero() {
		in.StartTime = now
	}
	if err := normalizeCreate(&in, now); err != nil {
		return nil, err
	}

	a := &models.Auction{
		ID:           uuid.New(),
		SellerID:     in.SellerID,
		Title:        strings.TrimSpace(in.Title),
		Category:     in.Category,
		StartPrice:   in.StartPrice,
		MinIncrement: in.MinIncrement,
		CurrentPrice: in.StartPrice,
		ReservePrice: in.ReservePrice,
		StartTime:    in.StartTime.UTC(),
		EndTime:      in.EndTime.UTC(),
		Status:       models.StatusScheduled,
		CreatedAt:    now,
	}
	if !now.Before(a.StartTime) {
		a.Status = models.StatusActive
	}

	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"auction_id": a.ID,
		"seller_id":  a.SellerID,
		"status":     a.Status,
		"end_time":   a.EndTime,
	}).Info("auction created")
	return a, nil
}

// normalizeCreate rounds every amount to money precision and validates the
// rounded values, so nothing that rounds to zero is ever stored.
func normalizeCreate(in *CreateAuctionInput, now time.Time) error {
	if in.SellerID == "" {
		return invalid("seller id required")
	}
	var err error
	if in.StartPrice, err = money(in.StartPrice, "start price"); err != nil {
		return err
	}
	if in.MinIncrement, err = money(in.MinIncrement, "minimum increment"); err != nil {
		return err
	}
	if in.ReservePrice != nil {
		r, err := money(*in.ReservePrice, "reserve price")
		if err != nil {
			return err
		}
		in.ReservePrice = &r
	}
	switch {
	case in.ReservePrice != nil && in.ReservePrice.LessThan(in.StartPrice):
		return invalid("reserve price below start price")
	case !in.EndTime.After(in.StartTime):
		return invalid("end time must be after start time")
	case !in.EndTime.After(now):
		return invalid("end time must be in the future")
	}
	return nil
}

// money rounds d to money precision and checks it is positive and storable
func money(d decimal.Decimal, field string) (decimal.Decimal, error) {
	d = models.RoundMoney(d)
	if !d.IsPositive() {
		return decimal.Zero, invalid("%s must be positive", field)
	}
	if d.GreaterThanOrEqual(models.MaxMoney) {
		return decimal.Zero, invalid("%s must be below %s", field, models.MaxMoney)
	}
	return d, nil
}

// GetAuction returns the latest committed snapshot. It never waits on the
// gate. The reserve price is only shown to the seller.
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID, viewerID string) (*AuctionView, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.View(a, viewerID), nil
}

// ListAuctions returns auctions matching f
func (s *Service) ListAuctions(ctx context.Context, f store.Filter, viewerID string) ([]AuctionView, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("unknown status %q", f.Status)
	}
	list, err := s.store.ListAuctions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	out := make([]AuctionView, 0, len(list))
	for i := range list {
		out = append(out, *s.View(&list[i], viewerID))
	}
	return out, nil
}

// CancelAuction cancels an auction that has no accepted bids. Only the
// seller may cancel.
func (s *Service) CancelAuction(ctx context.Context, id uuid.UUID, requesterID string) (*AuctionView, error) {
	var cancelled *models.Auction
	err := s.mutate(ctx, id, func(cur *models.Auction, now time.Time) (*models.Auction, error) {
		if cur.SellerID != requesterID {
			return nil, reject(KindAuthorization, ReasonNotSeller)
		}
		if cur.BidCount > 0 {
			return nil, ErrBidsExist
		}
		if st := cur.EffectiveStatus(now); st.Terminal() {
			return nil, reject(KindState, string(st))
		}
		next := cur.Clone()
		next.Status = models.StatusCancelled
		next.ClosedAt = &now
		cancelled = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("auction_id", id).Info("auction cancelled")
	s.publish(ctx, events.Event{Type: events.AuctionCancelled, AuctionID: id, At: *cancelled.ClosedAt})
	return s.View(cancelled, requesterID), nil
}

// UpdateTerms lets the seller edit pricing terms until the first bid is
// accepted. Afterwards the terms are frozen.
func (s *Service) UpdateTerms(ctx context.Context, id uuid.UUID, requesterID string, upd TermsUpdate) (*AuctionView, error) {
	var updated *models.Auction
	err := s.mutate(ctx, id, func(cur *models.Auction, now time.Time) (*models.Auction, error) {
		if cur.SellerID != requesterID {
			return nil, reject(KindAuthorization, ReasonNotSeller)
		}
		if st := cur.EffectiveStatus(now); st.Terminal() {
			return nil, reject(KindState, string(st))
		}
		if cur.BidCount > 0 {
			return nil, ErrBidsExist
		}

		next := cur.Clone()
		if upd.StartPrice != nil {
			p, err := money(*upd.StartPrice, "start price")
			if err != nil {
				return nil, err
			}
			next.StartPrice = p
			next.CurrentPrice = p
		}
		if upd.MinIncrement != nil {
			inc, err := money(*upd.MinIncrement, "minimum increment")
			if err != nil {
				return nil, err
			}
			next.MinIncrement = inc
		}
		if upd.ReservePrice != nil {
			r, err := money(*upd.ReservePrice, "reserve price")
			if err != nil {
				return nil, err
			}
			next.ReservePrice = &r
		}
		if next.ReservePrice != nil && next.ReservePrice.LessThan(next.StartPrice) {
			return nil, invalid("reserve price below start price")
		}
		if upd.Category != nil {
			next.Category = *upd.Category
		}
		updated = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("auction_id", id).Info("auction terms updated")
	return s.View(updated, requesterID), nil
}

// mutate runs fn under the auction's gate against a fresh snapshot and
// stores the snapshot fn returns.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(cur *models.Auction, now time.Time) (*models.Auction, error)) error {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	cur, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	next, err := fn(cur, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.store.UpdateAuction(ctx, next, cur.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return reject(KindConflict, ReasonVersionConflict)
		}
		return fmt.Errorf("failed to update auction: %w", err)
	}
	return nil
}

func (s *Service) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	release, err := s.gate.Acquire(ctx, id.String())
	if err != nil {
		if errors.Is(err, gate.ErrTimeout) {
			return nil, reject(KindBusy, ReasonGateTimeout)
		}
		return nil, err
	}
	return release, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound()
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// View renders a for viewerID at the current server time
func (s *Service) View(a *models.Auction, viewerID string) *AuctionView {
	now := s.clock.Now()
	v := &AuctionView{
		ID:             a.ID,
		SellerID:       a.SellerID,
		Title:          a.Title,
		Category:       a.Category,
		Status:         a.EffectiveStatus(now),
		StartPrice:     a.StartPrice,
		MinIncrement:   a.MinIncrement,
		CurrentPrice:   a.CurrentPrice,
		MinimumNextBid: policy.MinimumNextBid(a),
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		BidCount:       a.BidCount,
		Extensions:     a.Extensions,
		Version:        a.Version,
		ServerTime:     now,
	}
	if viewerID != "" && viewerID == a.SellerID && a.ReservePrice != nil {
		r := *a.ReservePrice
		v.ReservePrice = &r
	}
	return v
}

// Ping checks the backing store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"auction_id": ev.AuctionID,
			"event":      ev.Type,
		}).Warn("failed to publish event")
	}
}
