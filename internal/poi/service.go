// Package poi implements the cache -> local spatial index -> external
// provider waterfall that resolves "what's nearby" queries (spec §4.D).
package poi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// Service resolves POIs around a point, transparently falling back to an
// external provider when the local index is too sparse.
type Service interface {
	Around(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.PoiResult, model.PoiMeta, error)
}

type service struct {
	cfg      config.PoiConfig
	cache    Cache
	index    SearchIndex
	repo     Repository
	provider Provider
	metrics  *metrics.Registry
}

// NewService wires the waterfall's collaborators.
func NewService(cfg config.PoiConfig, cache Cache, index SearchIndex, repo Repository, provider Provider, metricsRegistry *metrics.Registry) Service {
	return &service{cfg: cfg, cache: cache, index: index, repo: repo, provider: provider, metrics: metricsRegistry}
}

// poiOutcome carries the cache/index/provider path a single Around call
// took, so record can populate the "poi" category's four named counters
// (spec §4.B) alongside the generic call/latency/failure aggregates.
type poiOutcome struct {
	cacheHit   bool
	cacheMiss  bool
	apiCall    bool
	apiFailure bool
}

func (s *service) record(start time.Time, success bool, errMsg string, outcome poiOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(metrics.CallEntry{
		Category:   "poi",
		LatencyMs:  float64(time.Since(start).Microseconds()) / 1000.0,
		Success:    success,
		Error:      errMsg,
		CacheHit:   outcome.cacheHit,
		CacheMiss:  outcome.cacheMiss,
		APICall:    outcome.apiCall,
		APIFailure: outcome.apiFailure,
	})
}

// Around validates inputs, then walks cache -> search index -> provider,
// upserting and re-indexing any freshly fetched POIs before returning.
func (s *service) Around(ctx context.Context, lat, lng float64, poiType string, radiusM, limit int) ([]model.PoiResult, model.PoiMeta, error) {
	start := time.Now()
	lat, lng, radiusM, poiType, limit, err := s.validateInputs(lat, lng, radiusM, poiType, limit)
	if err != nil {
		s.record(start, false, err.Error(), poiOutcome{})
		return nil, model.PoiMeta{}, err
	}

	cacheKey := BuildCacheKey(s.cfg, lat, lng, poiType, radiusM, limit)
	if s.cfg.CacheEnabled {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			s.record(start, true, "", poiOutcome{cacheHit: true})
			return cached, model.PoiMeta{Source: "cache"}, nil
		}
	}
	outcome := poiOutcome{cacheMiss: s.cfg.CacheEnabled}

	results, err := s.index.Search(ctx, lat, lng, poiType, radiusM, limit)
	if err != nil {
		log.Error("poi: search index query failed, degrading to provider-only", err)
		results = nil
	}
	source := "db"
	degraded := false

	if len(results) < s.cfg.MinResults {
		outcome.apiCall = true
		fetched, ferr := s.provider.Search(ctx, lat, lng, poiType, radiusM, limit)
		if ferr != nil {
			log.Error("poi: provider fetch failed", ferr)
			degraded = true
			outcome.apiFailure = true
		} else if len(fetched) > 0 {
			if err := s.repo.Upsert(ctx, fetched); err != nil {
				log.Error("poi: canonical upsert failed", err)
			}
			for i := range fetched {
				if err := s.index.Index(ctx, fetched[i]); err != nil {
					log.Error("poi: index write failed", err)
				}
			}
			results = mergeResults(results, fetched, lat, lng)
			source = "api"
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	if s.cfg.CacheEnabled {
		s.cache.Set(ctx, cacheKey, results, time.Duration(s.cfg.CacheTTLSeconds)*time.Second)
	}

	s.record(start, true, "", outcome)
	return results, model.PoiMeta{Source: source, Degraded: degraded}, nil
}

func (s *service) validateInputs(lat, lng float64, radiusM int, poiType string, limit int) (float64, float64, int, string, int, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, 0, "", 0, apierr.New(apierr.KindInvalidParams, "坐标超出范围").WithPath("lat/lng")
	}
	maxRadius := s.cfg.MaxRadiusM
	if maxRadius <= 0 {
		maxRadius = 1
	}
	resolvedRadius := radiusM
	if resolvedRadius <= 0 {
		resolvedRadius = s.cfg.DefaultRadiusM
		if resolvedRadius > maxRadius {
			resolvedRadius = maxRadius
		}
	}
	if resolvedRadius <= 0 || resolvedRadius > maxRadius {
		return 0, 0, 0, "", 0, apierr.New(apierr.KindInvalidParams, fmt.Sprintf("半径需在 1~%d 米之间", maxRadius)).WithPath("radius")
	}
	if limit <= 0 {
		limit = 20
	}
	return lat, lng, resolvedRadius, strings.TrimSpace(poiType), limit, nil
}

// mergeResults appends api results not already present (by provider key)
// in the index results, preserving index-first ordering.
func mergeResults(indexResults []model.PoiResult, apiResults []model.Poi, lat, lng float64) []model.PoiResult {
	seen := make(map[string]struct{}, len(indexResults))
	for _, r := range indexResults {
		seen[r.Provider+":"+r.ProviderID] = struct{}{}
	}
	merged := append([]model.PoiResult(nil), indexResults...)
	for _, p := range apiResults {
		key := p.Provider + ":" + p.ProviderID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, model.PoiResult{
			Provider:   p.Provider,
			ProviderID: p.ProviderID,
			Name:       p.Name,
			Category:   p.Category,
			Addr:       p.Addr,
			Rating:     p.Rating,
			Lat:        p.Lat,
			Lng:        p.Lng,
			DistanceM:  haversineMeters(lat, lng, p.Lat, p.Lng),
			Source:     "api",
		})
	}
	return merged
}
