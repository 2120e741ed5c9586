package timers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/phonginreallife/oncall/db"
)

const defaultDueBatch = 100

// claimDue pops up to ARGV[2] members scored at or below ARGV[1] from the
// due set and returns their payloads, atomically.
var claimDue = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local payload = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if payload then
		table.insert(out, payload)
	end
end
return out
`)

// addIfAbsent stores ARGV[3] under ARGV[1] and scores it ARGV[2] unless the
// alert already holds a timer. Returns 1 when it added the timer.
var addIfAbsent = redis.NewScript(`
local added = redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[3])
if added == 1 then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
end
return added
`)

// RedisQueue keeps timers in a sorted set scored by due time, with the
// timer payloads in a hash keyed by alert id. Several workers may poll the
// same queue.
type RedisQueue struct {
	client  *redis.Client
	dueKey  string
	dataKey string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "inres:escalation"
	}
	return &RedisQueue{
		client:  client,
		dueKey:  prefix + ":due",
		dataKey: prefix + ":timers",
	}
}

func (q *RedisQueue) Schedule(ctx context.Context, timer db.EscalationTimer) error {
	payload, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.dataKey, timer.AlertID, payload)
		pipe.ZAdd(ctx, q.dueKey, &redis.Z{Score: score(timer.DueAt), Member: timer.AlertID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timer: %w", err)
	}
	return nil
}

func (q *RedisQueue) ScheduleIfAbsent(ctx context.Context, timer db.EscalationTimer) (bool, error) {
	payload, err := json.Marshal(timer)
	if err != nil {
		return false, fmt.Errorf("failed to marshal timer: %w", err)
	}
	added, err := addIfAbsent.Run(ctx, q.client, []string{q.dueKey, q.dataKey},
		timer.AlertID, strconv.FormatFloat(score(timer.DueAt), 'f', 0, 64), payload).Int()
	if err != nil {
		return false, fmt.Errorf("failed to schedule timer: %w", err)
	}
	return added == 1, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, alertID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.dueKey, alertID)
		pipe.HDel(ctx, q.dataKey, alertID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel timer: %w", err)
	}
	return nil
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]db.EscalationTimer, error) {
	if limit <= 0 {
		limit = defaultDueBatch
	}
	res, err := claimDue.Run(ctx, q.client, []string{q.dueKey, q.dataKey},
		strconv.FormatFloat(score(now), 'f', 0, 64), limit).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim due timers: %w", err)
	}

	items, _ := res.([]interface{})
	timers := make([]db.EscalationTimer, 0, len(items))
	for _, item := range items {
		raw, ok := item.(string)
		if !ok {
			continue
		}
		var t db.EscalationTimer
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return timers, fmt.Errorf("failed to decode timer: %w", err)
		}
		timers = append(timers, t)
	}
	return timers, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
