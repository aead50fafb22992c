package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestBroker_FanOutAndFilter(t *testing.T) {
	b := NewBroker(4)
	a1, a2 := uuid.New(), uuid.New()

	all, cancelAll := b.Subscribe(nil)
	defer cancelAll()
	only1, cancel1 := b.Subscribe(ForAuction(a1))
	assert.Equal(t, 2, b.Subscribers())

	require.NoError(t, b.Publish(context.Background(), Event{Type: BidAccepted, AuctionID: a1}))
	require.NoError(t, b.Publish(context.Background(), Event{Type: BidAccepted, AuctionID: a2}))

	assert.Equal(t, a1, (<-all).AuctionID)
	assert.Equal(t, a2, (<-all).AuctionID)
	assert.Equal(t, a1, (<-only1).AuctionID)
	select {
	case ev := <-only1:
		t.Fatalf("unexpected event %v", ev)
	default:
	}

	cancel1()
	cancel1()
	_, open := <-only1
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = b.Publish(context.Background(), Event{Type: AuctionExtended})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestMulti(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	boom := errors.New("boom")
	err := Multi{failing{boom}, b, Nop{}}.Publish(context.Background(), Event{Type: AuctionClosed})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch, 1)
}

func TestEncode(t *testing.T) {
	id := uuid.New()
	ev := Event{
		Type:      BidAccepted,
		AuctionID: id,
		At:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   BidAcceptedPayload{BidderID: "b1", Amount: decimal.RequireFromString("150.5"), Sequence: 2},
	}
	data, err := Encode(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "bid_accepted", decoded["type"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "150.5", payload["amount"])
	assert.Equal(t, "auctions."+id.String(), Channel(ev))
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := NewRedisPublisher("not a url")
	assert.Error(t, err)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestAsync_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	a := NewAsync(rec, 16, log)

	id := uuid.New()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(context.Background(), Event{Type: BidAccepted, AuctionID: id, Payload: i}))
	}
	a.Close()
	a.Close()

	require.Len(t, rec.events, 10)
	for i, ev := range rec.events {
		assert.Equal(t, i, ev.Payload)
	}
	// publishing after close is ignored
	assert.NoError(t, a.Publish(context.Background(), Event{Type: BidAccepted}))
}
