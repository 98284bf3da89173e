package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Bounds optimistic-lock retries when concurrent writers touch the same session.
const maxTxRetries = 16

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger
}

func NewRepo(rc *redis.Client, expireDuration time.Duration, clock clockwork.Clock, logger *slog.Logger) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		clock:          clock,
		logger:         logger,
	}
}

func (r repo) getSessionKey(sessionId string) string {
	return "session:" + sessionId
}

func (r repo) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.rc.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.DebugContext(ctx, "transaction conflict, retrying", "key", key, "attempt", i+1)
	}

	return fmt.Errorf("too many transaction conflicts: %w", redis.TxFailedErr)
}
