package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseIfHolder deletes the key only while it still carries the holder's
// token and returns the number of keys removed.
const releaseIfHolder = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLeaseNotConfigured = errors.New("lease_store_not_configured")
	ErrInvalidLease       = errors.New("invalid_lease_request")
	// ErrLeaseLost means the lease expired or was taken over before release.
	ErrLeaseLost = errors.New("lease_lost")
)

// LeaseClient is the part of the redis client a Locker needs.
type LeaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Locker grants single-holder leases. The settlement sweeper takes one per
// run so two batches never share the gateway budget.
type Locker struct {
	client  LeaseClient
	release *redis.Script
}

func NewLocker(client LeaseClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseIfHolder),
	}
}

// TryLock returns the holder token and true when the lease was granted, or
// false when someone else holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLeaseNotConfigured
	}
	if key == "" || ttl <= 0 {
		return "", false, ErrInvalidLease
	}

	token := uuid.NewString()
	granted, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !granted {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	removed, err := l.release.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrLeaseLost
	}
	return nil
}
