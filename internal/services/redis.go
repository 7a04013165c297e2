package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisService carries the three redis roles in one client: the withdrawal
// work queue, the deposit dedup fast path, and the event fan-out channel.
type RedisService struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisService(addr, password string, db int, log *logrus.Logger) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return &RedisService{client: client, log: log}, nil
}

func (r *RedisService) Close() error {
	return r.client.Close()
}

// PushWithdrawal enqueues an approved request ID. LPUSH plus BRPOP gives
// strict FIFO across however many workers are running.
func (r *RedisService) PushWithdrawal(ctx context.Context, requestID uint64) error {
	return r.client.LPush(ctx, keyWithdrawalQueue, strconv.FormatUint(requestID, 10)).Err()
}

// PopWithdrawal blocks up to timeout for the next request ID. ok is false
// when the wait timed out with an empty queue.
func (r *RedisService) PopWithdrawal(ctx context.Context, timeout time.Duration) (requestID uint64, ok bool, err error) {
	vals, err := r.client.BRPop(ctx, timeout, keyWithdrawalQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	// BRPOP returns [key, value].
	id, err := strconv.ParseUint(vals[1], 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "malformed queue entry %q", vals[1])
	}
	return id, true, nil
}

// QueueDepth reports how many approved withdrawals are waiting.
func (r *RedisService) QueueDepth(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, keyWithdrawalQueue).Result()
}

// SeenTransaction is the deposit dedup fast path. The database unique
// constraint is the real guard; this only saves round trips on hashes
// already settled in recent cycles.
func (r *RedisService) SeenTransaction(ctx context.Context, txHash string) bool {
	n, err := r.client.Exists(ctx, keySeenTx(txHash)).Result()
	if err != nil {
		// A cold or unreachable cache just means the database answers.
		return false
	}
	return n > 0
}

func (r *RedisService) MarkTransaction(ctx context.Context, txHash string, ttl time.Duration) {
	if err := r.client.Set(ctx, keySeenTx(txHash), "1", ttl).Err(); err != nil {
		r.log.WithError(err).WithField("tx_hash", txHash).Warn("failed to mark transaction in cache")
	}
}

// CheckRateLimit allows up to limit actions per window per user. Fails open
// when redis is down so gameplay never hinges on the cache.
func (r *RedisService) CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) bool {
	key := keyRateLimit(userID, action)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.log.WithError(err).Warn("rate limit check failed, allowing request")
		return true
	}
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count <= int64(limit)
}

// PublishEvent fans an event out to all API instances over pub/sub.
func (r *RedisService) PublishEvent(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.WithError(err).Error("failed to marshal event")
		return
	}
	if err := r.client.Publish(ctx, keyEventsChannel, payload).Err(); err != nil {
		r.log.WithError(err).WithField("type", event.Type).Warn("failed to publish event")
	}
}

// SubscribeEvents returns the pub/sub subscription the websocket hub drains.
func (r *RedisService) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, keyEventsChannel)
}
