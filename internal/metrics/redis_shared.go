package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"tripplan-go/pkg/log"
)

// RedisCounters is an optional cross-process counter layer on top of the
// in-memory Registry: every Record call also fires an HINCRBY against a
// shared hash, so multiple server replicas converge on the same totals.
// On connection failure it logs and silently degrades to in-memory-only
// counting, matching the POI cache's degrade posture (spec §4.B/§4.D).
type RedisCounters struct {
	rdb *redis.Client
	key string
}

// NewRedisCounters wraps rdb; key is the shared hash key (e.g.
// "tripplan:metrics:counters").
func NewRedisCounters(rdb *redis.Client, key string) *RedisCounters {
	return &RedisCounters{rdb: rdb, key: key}
}

// Incr increments the shared counter for category:outcome. Errors are
// logged, never propagated — metrics must never fail a request.
func (c *RedisCounters) Incr(ctx context.Context, category string, success bool) {
	if c == nil || c.rdb == nil {
		return
	}
	field := category + ":calls"
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := c.rdb.HIncrBy(ctx2, c.key, field, 1).Err(); err != nil {
		log.Error("metrics: redis hincrby failed", err)
		return
	}
	if !success {
		c.rdb.HIncrBy(ctx2, c.key, category+":failures", 1)
	}
}

// Snapshot reads the shared hash back as a flat map of "category:field"
// -> count.
func (c *RedisCounters) Snapshot(ctx context.Context) (map[string]int64, error) {
	if c == nil || c.rdb == nil {
		return nil, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.rdb.HGetAll(ctx2, c.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[k] = n
	}
	return out, nil
}
