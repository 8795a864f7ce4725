package redis

import (
	"context"
	"time"
)

// Client is the Redis surface the delivery journal and health checks use.
type Client interface {
	// PushCapped pushes value to the head of a list, keeps the newest
	// maxLen entries and refreshes the TTL, in one round trip
	PushCapped(ctx context.Context, key string, value interface{}, maxLen int64, ttl time.Duration) error

	// LRange returns a range of elements from a list
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Ping checks the connection to Redis
	Ping(ctx context.Context) error

	Close() error
}
