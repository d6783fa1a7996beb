package shoplock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrNotAcquired is returned when the distributed lock stays taken until ctx ends.
var ErrNotAcquired = errors.New("shop lock not acquired")

// Redis extends Local across processes with a SET NX lock per shop. The
// local lock is taken first so a single process never polls Redis against
// itself. TTL bounds how long a crashed holder can block the shop.
type Redis struct {
	local  *Local
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a Redis-backed locker.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{
		local:  NewLocal(),
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		prefix: "vatease:shoplock:",
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, shopID uuid.UUID) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, shopID)
	if err != nil {
		return nil, err
	}

	key := r.prefix + shopID.String()
	token := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	err = backoff.Retry(func() error {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "redis setnx"))
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		unlockLocal()
		if ctx.Err() != nil {
			return nil, errors.Wrap(ErrNotAcquired, ctx.Err().Error())
		}
		return nil, err
	}

	return func() {
		// Release with a fresh context: the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.script.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Warn("Failed to release shop lock",
				zap.String("shop_id", shopID.String()),
				zap.Error(err),
			)
		}
		unlockLocal()
	}, nil
}
