package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "bootq:ready"
	delayedKey = "bootq:delayed"
	seenPrefix = "bootq:seen:"
	seenTTL    = 24 * time.Hour
)

// RedisQueue is the shared bootstrap queue.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func seenKey(job Job) string {
	return seenPrefix + job.TenantID.String() + ":" + job.Customer
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	ok, err := q.rdb.SetNX(ctx, seenKey(job), 1, seenTTL).Result()
	if err != nil || !ok {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, readyKey, raw).Err()
}

var promoteDelayed = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	for _, raw in ipairs(due) do
		redis.call("RPUSH", KEYS[2], raw)
		redis.call("ZREM", KEYS[1], raw)
	end
	return #due
`)

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	if err := promoteDelayed.Run(ctx, q.rdb,
		[]string{delayedKey, readyKey},
		time.Now().UnixMilli()).Err(); err != nil {
		return Job{}, false, err
	}

	res, err := q.rdb.BLPop(ctx, wait, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (q *RedisQueue) RequeueAfter(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: raw,
	}).Err()
}
