package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikeggyy/chat-app-all-sub002/pkg/cache"
)

// DefaultIdempotencyTTL is how long a successful result is replayed.
const DefaultIdempotencyTTL = 15 * time.Minute

// Idempotency replays the first successful result of a request id.
// Concurrent duplicates inside one process share a single execution; failed
// executions are not remembered.
type Idempotency struct {
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewIdempotency falls back to an in-memory cache when c is nil.
func NewIdempotency(c cache.Cache, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Idempotency{cache: c, ttl: ttl, logger: orNop(logger)}
}

func idempotencyKey(scope, userID, requestID string) string {
	return "idem:" + scope + ":" + userID + ":" + requestID
}

// Idempotent runs fn once per (scope, user, request id). The bool result is
// true when a stored result was replayed. An empty requestID or a nil
// Idempotency runs fn unconditionally.
func Idempotent[T any](ctx context.Context, idem *Idempotency, scope, userID, requestID string, fn func() (T, error)) (T, bool, error) {
	var zero T
	if idem == nil || requestID == "" {
		v, err := fn()
		return v, false, err
	}
	if len(requestID) > 128 {
		return zero, false, fmt.Errorf("%w: request id too long", ErrInvalidInput)
	}
	key := idempotencyKey(scope, userID, requestID)

	if v, ok := lookupResult[T](ctx, idem, key); ok {
		return v, true, nil
	}

	type outcome struct {
		value    T
		replayed bool
	}
	out, err, _ := idem.group.Do(key, func() (interface{}, error) {
		if v, ok := lookupResult[T](ctx, idem, key); ok {
			return outcome{value: v, replayed: true}, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		idem.store(ctx, key, v)
		return outcome{value: v}, nil
	})
	if err != nil {
		return zero, false, err
	}
	o := out.(outcome)
	return o.value, o.replayed, nil
}

func lookupResult[T any](ctx context.Context, i *Idempotency, key string) (T, bool) {
	var v T
	raw, ok, err := i.cache.Get(ctx, key)
	if err != nil {
		i.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		i.logger.Warn("idempotency entry unreadable", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

func (i *Idempotency) store(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		i.logger.Warn("idempotency result not cacheable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := i.cache.Set(ctx, key, string(raw), i.ttl); err != nil && !errors.Is(err, context.Canceled) {
		i.logger.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
	}
}
