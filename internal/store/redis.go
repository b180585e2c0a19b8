package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Removing the sorted-set member and its payload must be one step, otherwise
// a concurrent re-enqueue could lose its payload.
var queueRemoveScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 1 then
	redis.call("HDEL", KEYS[2], ARGV[1])
end
return removed
`)

// RedisStore keeps active matches in a hash, expiring records as plain
// strings with TTLs, counters in hashes and queues in sorted sets with a
// companion payload hash.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) payloadKey(queue string) string {
	return s.key(queue + ":payload")
}

func (s *RedisStore) HGet(ctx context.Context, table, field string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(table), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget %s: %w", table, err)
	}
	return v, nil
}

func (s *RedisStore) HSet(ctx context.Context, table, field, value string) error {
	if err := s.client.HSet(ctx, s.key(table), field, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", table, err)
	}
	return nil
}

func (s *RedisStore) HDel(ctx context.Context, table, field string) (bool, error) {
	n, err := s.client.HDel(ctx, s.key(table), field).Result()
	if err != nil {
		return false, fmt.Errorf("redis hdel %s: %w", table, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) SetXX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetXX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setxx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) IncrFields(ctx context.Context, key string, deltas map[string]float64) (map[string]float64, error) {
	cmds := make(map[string]*redis.FloatCmd, len(deltas))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, delta := range deltas {
			cmds[field] = pipe.HIncrByFloat(ctx, s.key(key), field, delta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis incr %s: %w", key, err)
	}

	out := make(map[string]float64, len(cmds))
	for field, cmd := range cmds {
		out[field] = cmd.Val()
	}
	return out, nil
}

func (s *RedisStore) GetFields(ctx context.Context, key string) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}

	out := make(map[string]float64, len(raw))
	for field, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("redis field %s.%s: %w", key, field, err)
		}
		out[field] = f
	}
	return out, nil
}

func (s *RedisStore) QueuePut(ctx context.Context, queue string, item QueueItem) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key(queue), redis.Z{Score: item.Score, Member: item.Member})
	pipe.HSet(ctx, s.payloadKey(queue), item.Member, item.Payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis queue put %s: %w", queue, err)
	}
	return nil
}

func (s *RedisStore) QueueRemove(ctx context.Context, queue, member string) (bool, error) {
	n, err := queueRemoveScript.Run(ctx, s.client, []string{s.key(queue), s.payloadKey(queue)}, member).Int64()
	if err != nil {
		return false, fmt.Errorf("redis queue remove %s: %w", queue, err)
	}
	return n == 1, nil
}

func (s *RedisStore) QueueScan(ctx context.Context, queue string, after *QueueCursor, limit int) ([]QueueItem, *QueueCursor, error) {
	zs, exhausted, err := s.queueRange(ctx, queue, after, limit)
	if err != nil {
		return nil, nil, err
	}

	var next *QueueCursor
	if !exhausted && len(zs) > 0 {
		last := zs[len(zs)-1]
		next = &QueueCursor{Score: last.Score, Member: fmt.Sprint(last.Member)}
	}
	if len(zs) == 0 {
		return nil, next, nil
	}

	members := make([]string, len(zs))
	for i, z := range zs {
		members[i] = fmt.Sprint(z.Member)
	}
	payloads, err := s.client.HMGet(ctx, s.payloadKey(queue), members...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis queue payloads %s: %w", queue, err)
	}

	items := make([]QueueItem, 0, len(zs))
	for i, z := range zs {
		payload, ok := payloads[i].(string)
		if !ok {
			// removed between the range and the payload read
			continue
		}
		items = append(items, QueueItem{Member: members[i], Score: z.Score, Payload: payload})
	}
	return items, next, nil
}

// queueRange reads the sorted-set members after the cursor. Ranging by score
// is inclusive, so members sharing the cursor score that were already read
// are dropped, paging on while a full page held nothing new.
func (s *RedisStore) queueRange(ctx context.Context, queue string, after *QueueCursor, limit int) ([]redis.Z, bool, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if after != nil {
		by.Min = strconv.FormatFloat(after.Score, 'f', -1, 64)
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	for {
		page, err := s.client.ZRangeByScoreWithScores(ctx, s.key(queue), by).Result()
		if err != nil {
			return nil, false, fmt.Errorf("redis queue scan %s: %w", queue, err)
		}

		fresh := make([]redis.Z, 0, len(page))
		for _, z := range page {
			if after.precedes(z.Score, fmt.Sprint(z.Member)) {
				fresh = append(fresh, z)
			}
		}

		if limit <= 0 || len(page) < limit {
			return fresh, true, nil
		}
		if len(fresh) > 0 {
			return fresh, false, nil
		}
		by.Offset += int64(len(page))
	}
}

func (s *RedisStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue len %s: %w", queue, err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
