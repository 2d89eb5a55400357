package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "outq:ready"
	delayedKey = "outq:delayed"
	deadKey    = "outq:dead"
	seenPrefix = "outq:seen:"

	// seenTTL bounds the idempotency memory for request ids.
	seenTTL = 24 * time.Hour
)

// RedisQueue is the shared Queue used by every gateway instance. Jobs enter
// a FIFO list; delayed redeliveries park in a sorted set scored by their
// ready time and are promoted on Dequeue.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// enqueueOnce marks the request id seen and pushes the job in one script, so
// a crash cannot burn the id without the job ever reaching the list.
var enqueueOnce = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
	redis.call("RPUSH", KEYS[2], ARGV[1])
	return 1
`)

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	n, err := enqueueOnce.Run(ctx, q.rdb,
		[]string{seenPrefix + job.RequestID, readyKey},
		raw, seenTTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// promoteDelayed moves every due delayed job to the tail of the ready list.
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

func (q *RedisQueue) Bury(ctx context.Context, job Job, reason string) error {
	raw, err := json.Marshal(DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, deadKey, raw).Err()
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.rdb.LRange(ctx, deadKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	ready, err := q.rdb.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}
