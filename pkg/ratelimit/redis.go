package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "skillbox:ratelimit:"

// RedisLimiter stores each window as a sorted set scored by hit time in
// microseconds. A hit is added optimistically inside a MULTI block and
// removed again when the window turns out to be full.
type RedisLimiter struct {
	client   redis.UniversalClient
	settings Settings
}

// NewRedisLimiter creates a limiter over an existing client.
func NewRedisLimiter(client redis.UniversalClient, settings Settings) (*RedisLimiter, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, settings: settings}, nil
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.settings.clock().Now()
	k := redisKey(key)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-l.settings.Window).UnixMicro(), 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, l.settings.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, errors.Wrap(err, "failed to record hit in redis")
	}

	recorded := card.Val() <= int64(l.settings.Limit)
	if !recorded {
		if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
			return Decision{}, errors.Wrap(err, "failed to roll back rejected hit")
		}
	}

	hits, err := l.hits(ctx, k)
	if err != nil {
		return Decision{}, err
	}
	return decide(key, l.settings, now, hits, recorded), nil
}

// Status implements Limiter.
func (l *RedisLimiter) Status(ctx context.Context, key string) (Decision, error) {
	now := l.settings.clock().Now()
	k := redisKey(key)

	lower := "(" + strconv.FormatInt(now.Add(-l.settings.Window).UnixMicro(), 10)
	zs, err := l.client.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to read rate limit window")
	}
	return decide(key, l.settings, now, scoresToTimes(zs), false), nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "failed to reset rate limit for %s", key)
	}
	return nil
}

func (l *RedisLimiter) hits(ctx context.Context, k string) ([]time.Time, error) {
	zs, err := l.client.ZRangeWithScores(ctx, k, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rate limit window")
	}
	return scoresToTimes(zs), nil
}

func scoresToTimes(zs []redis.Z) []time.Time {
	out := make([]time.Time, len(zs))
	for i, z := range zs {
		out[i] = time.UnixMicro(int64(z.Score))
	}
	return out
}
