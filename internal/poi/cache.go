package poi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/go-redis/redis/v8"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// Cache is the POI result cache, keyed by a quantized (lat,lng,type,radius,
// limit) tuple (spec §4.D/§9: "Cache{get,set,incr}"). Implementations must
// never return an error for a miss; ok=false signals a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]model.PoiResult, bool)
	Set(ctx context.Context, key string, value []model.PoiResult, ttl time.Duration)
}

// BuildCacheKey quantizes coordinates to cfg.CoordPrecision so nearby
// requests for the same area share a cache entry.
func BuildCacheKey(cfg config.PoiConfig, lat, lng float64, poiType string, radiusM, limit int) string {
	latQ := roundTo(lat, cfg.CoordPrecision)
	lngQ := roundTo(lng, cfg.CoordPrecision)
	typeQ := poiType
	if typeQ == "" {
		typeQ = "all"
	}
	return fmt.Sprintf("poi:around:%.*f:%.*f:%s:%d:%d", cfg.CoordPrecision, latQ, cfg.CoordPrecision, lngQ, typeQ, radiusM, limit)
}

func roundTo(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	mult := math.Pow(10, float64(precision))
	return math.Round(v*mult) / mult
}

// memoryCache is the single-process default, backed by patrickmn/go-cache.
type memoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache builds the in-memory default Cache implementation.
func NewMemoryCache() Cache {
	return &memoryCache{c: gocache.New(5*time.Minute, 10*time.Minute)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]model.PoiResult, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	results, ok := v.([]model.PoiResult)
	return results, ok
}

func (m *memoryCache) Set(_ context.Context, key string, value []model.PoiResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
}

// redisCache is the shared, multi-process implementation. It degrades to
// always-miss on connection failure rather than propagating an error, so a
// Redis outage never blocks POI lookups (spec §4.D degrade semantics).
type redisCache struct {
	rdb *redis.Client
}

// NewRedisCache builds the shared Cache implementation.
func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]model.PoiResult, bool) {
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := r.rdb.Get(ctx2, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Error("poi cache: redis get failed", err)
		}
		return nil, false
	}
	var results []model.PoiResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		log.Error("poi cache: redis value unmarshal failed", err)
		return nil, false
	}
	return results, true
}

func (r *redisCache) Set(ctx context.Context, key string, value []model.PoiResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	payload, err := json.Marshal(value)
	if err != nil {
		log.Error("poi cache: redis value marshal failed", err)
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.rdb.Set(ctx2, key, payload, ttl).Err(); err != nil {
		log.Error("poi cache: redis set failed", err)
	}
}
