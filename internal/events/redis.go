package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ChannelPrefix prefixes the per-auction Redis channel
const ChannelPrefix = "auctions."

// RedisPublisher publishes events as JSON on auctions.<auction_id>
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects using a redis:// URL
func NewRedisPublisher(url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts)}, nil
}

// Channel returns the channel an event is published on
func Channel(ev Event) string {
	return ChannelPrefix + ev.AuctionID.String()
}

// Encode renders the wire form of an event
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Publish sends the event
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(ev), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Ping checks the connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
