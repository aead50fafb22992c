package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/events"
	"github.com/xtrntr/auction/internal/metrics"
	"github.com/xtrntr/auction/internal/models"
	"golang.org/x/sync/errgroup"
)

// SweeperConfig tunes the lifecycle sweeper
type SweeperConfig struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
}

// SweepResult summarizes one pass
type SweepResult struct {
	Activated int
	Closed    int
	Skipped   int
	Failed    int
}

// Sweeper advances scheduled auctions to active and expired active auctions
// to closed. Each transition takes the same gate as admission, so a close
// never overtakes an in-flight bid.
type Sweeper struct {
	svc  *Service
	cfg  SweeperConfig
	log  logrus.FieldLogger
	cron *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper for svc
func NewSweeper(svc *Service, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		svc: svc,
		cfg: cfg,
		log: svc.log.WithField("component", "sweeper"),
	}
}

// Start schedules a pass every Interval. Passes never overlap.
func (sw *Sweeper) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(sw.log)),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", sw.cfg.Interval), func() {
		if _, err := sw.Sweep(ctx); err != nil && ctx.Err() == nil {
			sw.log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	c.Start()
	sw.cron = c
	sw.cancel = cancel
	sw.log.WithField("interval", sw.cfg.Interval).Info("sweeper started")
	return nil
}

// Stop cancels the running pass between auctions and waits for it
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	c, cancel := sw.cron, sw.cancel
	sw.cron, sw.cancel = nil, nil
	sw.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	sw.log.Info("sweeper stopped")
}

// Sweep runs one pass. Failures on single auctions are logged and counted;
// they are retried on the next pass. ctx is checked between auctions.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	due, err := sw.svc.store.ListDue(ctx, sw.svc.clock.Now(), sw.cfg.BatchSize)
	if err != nil {
		metrics.ObserveSweep(time.Since(start), 0)
		return res, fmt.Errorf("failed to list due auctions: %w", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(sw.cfg.Concurrency)
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		a := due[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			activated, closed, err := sw.advance(ctx, a.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if rej, ok := AsRejection(err); ok && rej.Kind == KindBusy {
					res.Skipped++
					return nil
				}
				res.Failed++
				sw.log.WithError(err).WithField("auction_id", a.ID).Warn("lifecycle transition failed")
			default:
				if activated {
					res.Activated++
				}
				if closed {
					res.Closed++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveSweep(time.Since(start), res.Failed)
	if res.Activated+res.Closed+res.Failed > 0 {
		sw.log.WithFields(logrus.Fields{
			"activated": res.Activated,
			"closed":    res.Closed,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
		}).Info("sweep finished")
	}
	return res, ctx.Err()
}

// advance applies whatever transitions are due for one auction. An auction
// whose gate is held is skipped until the next pass. Once the gate is held
// the work is detached from ctx so a started transition is never abandoned
// halfway.
func (sw *Sweeper) advance(ctx context.Context, uid uuid.UUID) (activated, closed bool, err error) {
	release, ok := sw.svc.gate.TryAcquire(uid.String())
	if !ok {
		return false, false, reject(KindBusy, ReasonGateTimeout)
	}
	defer release()
	wctx := context.WithoutCancel(ctx)

	cur, err := sw.svc.load(wctx, uid)
	if err != nil {
		return false, false, err
	}
	now := sw.svc.clock.Now()

	if cur.Status == models.StatusScheduled && !now.Before(cur.StartTime) {
		next := cur.Clone()
		next.Status = models.StatusActive
		if err := sw.svc.store.UpdateAuction(wctx, next, cur.Version); err != nil {
			return false, false, fmt.Errorf("failed to activate auction: %w", err)
		}
		activated = true
		metrics.RecordTransition(string(models.StatusActive))
		sw.svc.publish(wctx, events.Event{Type: events.AuctionActivated, AuctionID: uid, At: now})
		cur = next
	}

	if cur.Status == models.StatusActive && !now.Before(cur.EndTime) {
		if err := sw.close(wctx, cur, now); err != nil {
			return activated, false, err
		}
		closed = true
	}
	return activated, closed, nil
}

func (sw *Sweeper) close(ctx context.Context, cur *models.Auction, now time.Time) error {
	latest, err := sw.svc.store.LatestBid(ctx, cur.ID)
	if err != nil {
		return fmt.Errorf("failed to read winning bid: %w", err)
	}

	next := cur.Clone()
	next.Status = models.StatusClosed
	next.ClosedAt = &now
	if err := sw.svc.store.UpdateAuction(ctx, next, cur.Version); err != nil {
		return fmt.Errorf("failed to close auction: %w", err)
	}
	metrics.RecordTransition(string(models.StatusClosed))

	payload := events.AuctionClosedPayload{ReserveMet: next.ReserveMet()}
	if latest != nil && payload.ReserveMet {
		payload.WinningBid = &events.WinningBid{
			BidderID: latest.BidderID,
			Amount:   latest.Amount,
			Sequence: latest.Sequence,
		}
	}
	sw.log.WithFields(logrus.Fields{
		"auction_id":  cur.ID,
		"bid_count":   cur.BidCount,
		"final_price": cur.CurrentPrice.String(),
		"reserve_met": payload.ReserveMet,
	}).Info("auction closed")
	sw.svc.publish(ctx, events.Event{Type: events.AuctionClosed, AuctionID: cur.ID, At: now, Payload: payload})
	return nil
}
