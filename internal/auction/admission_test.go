package auction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/auction/internal/events"
	"github.com/xtrntr/auction/internal/models"
)

func bid(id uuid.UUID, bidder, amount string) BidRequest {
	return BidRequest{AuctionID: id, BidderID: bidder, Amount: dec(amount)}
}

func requireMinimum(t *testing.T, err error, kind Kind, want string) {
	t.Helper()
	rej, ok := AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, rej.Kind)
	require.NotNil(t, rej.MinimumRequired)
	assert.True(t, rej.MinimumRequired.Equal(dec(want)), "minimum %s, want %s", rej.MinimumRequired, want)
}

func TestSubmitBid_OpeningAndIncrement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	_, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "80"))
	assert.ErrorIs(t, err, &RejectionError{Kind: KindValidation, Reason: ReasonBelowMinimum})
	requireMinimum(t, err, KindValidation, "100")

	acc, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.Sequence)
	assert.True(t, acc.NewCurrentPrice.Equal(dec("100")))
	assert.True(t, acc.MinimumNextBid.Equal(dec("150")))
	assert.False(t, acc.Extended)
	assert.Equal(t, a.EndTime, acc.NewEndTime)

	_, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "140"))
	requireMinimum(t, err, KindValidation, "150")

	acc, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "150"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.Sequence)
	assert.True(t, acc.NewCurrentPrice.Equal(dec("150")))

	view, err := f.svc.GetAuction(ctx, a.ID, "carol")
	require.NoError(t, err)
	assert.True(t, view.CurrentPrice.Equal(dec("150")))
	assert.True(t, view.MinimumNextBid.Equal(dec("200")))
	assert.Equal(t, 2, view.BidCount)

	accepted := f.pub.ofType(events.BidAccepted)
	require.Len(t, accepted, 2)
	p := accepted[1].Payload.(events.BidAcceptedPayload)
	assert.Equal(t, "bob", p.BidderID)
	assert.Equal(t, int64(2), p.Sequence)
}

func TestSubmitBid_RoundsToMoneyPrecision(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	acc, err := f.svc.SubmitBid(context.Background(), bid(a.ID, "alice", "100.123456"))
	require.NoError(t, err)
	assert.Equal(t, "100.1235", acc.NewCurrentPrice.String())
}

func TestSubmitBid_EqualBidRejectedWithTinyIncrement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, func(in *CreateAuctionInput) { in.MinIncrement = dec("0.00005") })
	assert.True(t, a.MinIncrement.Equal(dec("0.0001")))

	_, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
	require.NoError(t, err)

	_, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "100"))
	require.ErrorIs(t, err, ErrValidation)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	require.NotNil(t, rej.MinimumRequired)
	assert.Equal(t, "100.0001", rej.MinimumRequired.String())

	// rounds up onto the minimum
	_, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "100.00005"))
	assert.NoError(t, err)
}

func TestSubmitBid_AntiSnipe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, func(in *CreateAuctionInput) { in.EndTime = t0.Add(2 * time.Minute) })

	acc, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
	require.NoError(t, err)
	assert.True(t, acc.Extended)
	assert.Equal(t, t0.Add(7*time.Minute), acc.NewEndTime)

	f.clock.Advance(6 * time.Minute)
	acc, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "150"))
	require.NoError(t, err)
	assert.True(t, acc.Extended)
	assert.Equal(t, t0.Add(12*time.Minute), acc.NewEndTime)

	view, err := f.svc.GetAuction(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(12*time.Minute), view.EndTime)
	assert.Equal(t, 2, view.Extensions)
	assert.Len(t, f.pub.ofType(events.AuctionExtended), 2)
}

func TestSubmitBid_OutsideWindowDoesNotExtend(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	acc, err := f.svc.SubmitBid(context.Background(), bid(a.ID, "alice", "100"))
	require.NoError(t, err)
	assert.False(t, acc.Extended)
	assert.Equal(t, a.EndTime, acc.NewEndTime)
	assert.Empty(t, f.pub.ofType(events.AuctionExtended))
}

func TestSubmitBid_ExtensionCap(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Extension.MaxExtensions = 1
	f := newFixture(t, cfg)
	a := f.create(t, func(in *CreateAuctionInput) { in.EndTime = t0.Add(time.Minute) })

	acc, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
	require.NoError(t, err)
	assert.True(t, acc.Extended)

	acc, err = f.svc.SubmitBid(ctx, bid(a.ID, "bob", "150"))
	require.NoError(t, err)
	assert.False(t, acc.Extended)
	assert.Equal(t, t0.Add(6*time.Minute), acc.NewEndTime)
}

func TestSubmitBid_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(f *fixture) BidRequest
		target error
	}{
		{
			name: "ExpiredBeforeSweep",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				f.clock.Advance(time.Hour)
				return bid(a.ID, "alice", "500")
			},
			target: ErrExpired,
		},
		{
			name: "NotStarted",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, func(in *CreateAuctionInput) { in.StartTime = t0.Add(time.Minute) })
				return bid(a.ID, "alice", "100")
			},
			target: &RejectionError{Kind: KindState, Reason: ReasonNotStarted},
		},
		{
			name: "SellerCannotBid",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				return bid(a.ID, "seller", "1000")
			},
			target: &RejectionError{Kind: KindAuthorization, Reason: ReasonSellerCannotBid},
		},
		{
			name: "UnknownAuction",
			setup: func(f *fixture) BidRequest {
				return bid(uuid.New(), "alice", "100")
			},
			target: ErrNotFound,
		},
		{
			name: "MissingBidder",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				return bid(a.ID, "", "100")
			},
			target: ErrValidation,
		},
		{
			name: "NonPositiveAmount",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				return bid(a.ID, "alice", "0")
			},
			target: ErrValidation,
		},
		{
			name: "AmountRoundsToZero",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				return bid(a.ID, "alice", "0.00004")
			},
			target: ErrValidation,
		},
		{
			name: "AmountTooLarge",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				return bid(a.ID, "alice", "10000000000000000")
			},
			target: ErrValidation,
		},
		{
			name: "StaleVersion",
			setup: func(f *fixture) BidRequest {
				a := f.create(t, nil)
				_, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
				require.NoError(t, err)
				req := bid(a.ID, "bob", "1000")
				v := int64(0)
				req.ExpectedVersion = &v
				return req
			},
			target: ErrConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			_, err := f.svc.SubmitBid(ctx, tt.setup(f))
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestSubmitBid_ClosedAfterSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	f.clock.Advance(time.Hour)
	_, err := NewSweeper(f.svc, SweeperConfig{}).Sweep(ctx)
	require.NoError(t, err)

	_, err = f.svc.SubmitBid(ctx, bid(a.ID, "alice", "100"))
	assert.ErrorIs(t, err, &RejectionError{Kind: KindState, Reason: ReasonClosed})
}

func TestSubmitBid_StaleVersionCarriesFreshMinimum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	_, err := f.svc.SubmitBid(ctx, bid(a.ID, "alice", "120"))
	require.NoError(t, err)

	req := bid(a.ID, "bob", "130")
	v := int64(0)
	req.ExpectedVersion = &v
	_, err = f.svc.SubmitBid(ctx, req)
	requireMinimum(t, err, KindConflict, "170")
	assert.True(t, IsRetryable(err))
}

func TestSubmitBid_GateBusy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GateTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	a := f.create(t, nil)

	release, err := f.svc.gate.Acquire(context.Background(), a.ID.String())
	require.NoError(t, err)
	defer release()

	_, err = f.svc.SubmitBid(context.Background(), bid(a.ID, "alice", "100"))
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, IsRetryable(err))
}

func TestSubmitBid_ConcurrentExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.create(t, nil)

	v := a.Version
	reqs := []BidRequest{bid(a.ID, "alice", "100"), bid(a.ID, "bob", "120")}
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range reqs {
		reqs[i].ExpectedVersion = &v
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.SubmitBid(ctx, reqs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	var accepted, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case IsRetryable(err):
			conflicts++
			rej, _ := AsRejection(err)
			require.NotNil(t, rej.MinimumRequired)
			assert.True(t, rej.MinimumRequired.GreaterThan(dec("100")))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, conflicts)

	bids, err := f.store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

// Many bidders retrying on conflict. Whatever interleaving happens, the
// ledger and snapshot must stay consistent with each other.
func TestSubmitBid_ConcurrentLedgerConsistency(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.GateTimeout = time.Second
	f := newFixture(t, cfg)
	a := f.create(t, func(in *CreateAuctionInput) {
		in.MinIncrement = dec("1")
		in.EndTime = t0.Add(3 * time.Minute)
	})

	const bidders = 8
	const rounds = 10
	var wg sync.WaitGroup
	for b := 0; b < bidders; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			bidder := fmt.Sprintf("bidder-%d", b)
			for r := 0; r < rounds; r++ {
				view, err := f.svc.GetAuction(ctx, a.ID, bidder)
				if err != nil {
					t.Error(err)
					return
				}
				req := BidRequest{
					AuctionID:       a.ID,
					BidderID:        bidder,
					Amount:          view.MinimumNextBid,
					ExpectedVersion: &view.Version,
				}
				if _, err := f.svc.SubmitBid(ctx, req); err != nil && !IsRetryable(err) {
					t.Error(err)
					return
				}
			}
		}(b)
	}
	wg.Wait()

	final, err := f.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	bids, err := f.store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	assert.Equal(t, final.BidCount, len(bids))

	for i, b := range bids {
		assert.Equal(t, int64(i+1), b.Sequence)
		if i > 0 {
			assert.True(t, b.Amount.GreaterThanOrEqual(bids[i-1].Amount.Add(final.MinIncrement)))
		}
	}
	assert.True(t, final.CurrentPrice.Equal(bids[len(bids)-1].Amount))
	assert.False(t, final.EndTime.Before(a.EndTime))
}

func TestCheckBiddable(t *testing.T) {
	a := &models.Auction{
		SellerID:  "seller",
		Status:    models.StatusActive,
		StartTime: t0.Add(-time.Hour),
		EndTime:   t0.Add(time.Hour),
	}
	assert.NoError(t, checkBiddable(a, "alice", t0))
	assert.ErrorIs(t, checkBiddable(a, "alice", t0.Add(time.Hour)), ErrExpired)

	// a stored scheduled auction whose start has passed is biddable
	s := a.Clone()
	s.Status = models.StatusScheduled
	assert.NoError(t, checkBiddable(s, "alice", t0))
}
