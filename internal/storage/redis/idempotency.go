// Package redis holds the Redis-backed checkout idempotency store.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	keyPrefix = "storefront:checkout:"
	pending   = "\x00pending"

	// DefaultTTL is how long a completed key replays its order.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long a crashed checkout blocks its key.
	DefaultPendingTTL = time.Minute
)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore claims checkout keys with SET NX. A key holds a pending
// marker while the checkout runs and the order ID once it completed.
type IdempotencyStore struct {
	client     goredis.UniversalClient
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore returns a store keeping completed keys for ttl.
// Non-positive ttl selects DefaultTTL.
func NewIdempotencyStore(client goredis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: DefaultPendingTTL}
}

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// Begin claims key. It returns the order ID recorded under a completed key,
// "" when the claim succeeded, or order.ErrCheckoutInProgress.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (string, error) {
	k := keyPrefix + key
	// The key may expire between SETNX and GET; a second round settles it.
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pending, s.pendingTTL).Result()
		if err != nil {
			return "", errors.Wrap(err, "claim idempotency key")
		}
		if ok {
			return "", nil
		}

		v, err := s.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			return "", errors.Wrap(err, "read idempotency key")
		case v == pending:
			return "", order.ErrCheckoutInProgress
		default:
			return v, nil
		}
	}
	return "", order.ErrCheckoutInProgress
}

// Complete records orderID under key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, orderID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete idempotency key")
	}
	return nil
}

// Abort frees key so the client can retry.
func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "abort idempotency key")
	}
	return nil
}
