package poi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
)

type stubIndex struct {
	results []model.PoiResult
	calls   int
}

func (s *stubIndex) Search(context.Context, float64, float64, string, int, int) ([]model.PoiResult, error) {
	s.calls++
	return s.results, nil
}
func (s *stubIndex) Index(context.Context, model.Poi) error { return nil }

type stubProvider struct {
	results []model.Poi
	calls   int
	err     error
}

func (s *stubProvider) Search(context.Context, float64, float64, string, int, int) ([]model.Poi, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubRepo struct{ upserts int }

func (r *stubRepo) Upsert(context.Context, []model.Poi) error          { r.upserts++; return nil }
func (r *stubRepo) FindByID(context.Context, uint) (*model.Poi, error) { return nil, nil }
func (r *stubRepo) FindByDestination(context.Context, string, int) ([]model.Poi, error) {
	return nil, nil
}

func testConfig() config.PoiConfig {
	return config.PoiConfig{
		DefaultRadiusM:  1000,
		MaxRadiusM:      5000,
		CacheTTLSeconds: 60,
		CoordPrecision:  4,
		CacheEnabled:    true,
		MinResults:      1,
	}
}

// TestService_Around_CacheAside covers spec §8 scenario S4: an empty
// index/cache falls through to the provider on first call, then serves
// from cache on the immediate repeat with unchanged provider call count.
func TestService_Around_CacheAside(t *testing.T) {
	idx := &stubIndex{}
	prov := &stubProvider{results: []model.Poi{
		{Provider: "mock", ProviderID: "1", Name: "Noodle House", Category: "food", Lat: 23.129, Lng: 113.264},
	}}
	repo := &stubRepo{}
	svc := NewService(testConfig(), NewMemoryCache(), idx, repo, prov, nil)

	items1, meta1, err := svc.Around(context.Background(), 23.129, 113.264, "food", 800, 20)
	require.NoError(t, err)
	require.Len(t, items1, 1)
	assert.Equal(t, "api", meta1.Source)
	assert.Equal(t, 1, prov.calls)
	assert.Equal(t, 1, repo.upserts)

	items2, meta2, err := svc.Around(context.Background(), 23.129, 113.264, "food", 800, 20)
	require.NoError(t, err)
	assert.Equal(t, items1, items2)
	assert.Equal(t, "cache", meta2.Source)
	assert.Equal(t, 1, prov.calls, "provider must not be called again on cache hit")
}

func TestService_Around_InvalidCoordinates(t *testing.T) {
	svc := NewService(testConfig(), NewMemoryCache(), &stubIndex{}, &stubRepo{}, &stubProvider{}, nil)
	_, _, err := svc.Around(context.Background(), 999, 0, "food", 800, 20)
	require.Error(t, err)
}

func TestService_Around_RadiusBoundaries(t *testing.T) {
	svc := NewService(testConfig(), NewMemoryCache(), &stubIndex{}, &stubRepo{}, &stubProvider{}, nil)

	_, _, err := svc.Around(context.Background(), 23.1, 113.2, "food", 5000, 20)
	assert.NoError(t, err, "radius equal to max must succeed")

	_, _, err = svc.Around(context.Background(), 23.1, 113.2, "food", 5001, 20)
	assert.Error(t, err, "radius beyond max must fail")
}

// TestService_Around_ProviderFailureDegrades covers the provider-failure
// degrade path: no error is raised, whatever index results exist (here
// none) are returned with meta.degraded=true.
func TestService_Around_ProviderFailureDegrades(t *testing.T) {
	prov := &stubProvider{err: assertError("boom")}
	svc := NewService(testConfig(), NewMemoryCache(), &stubIndex{}, &stubRepo{}, prov, nil)

	items, meta, err := svc.Around(context.Background(), 23.1, 113.2, "food", 800, 20)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.True(t, meta.Degraded)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestBuildCacheKey_QuantizesCoordinates(t *testing.T) {
	cfg := config.PoiConfig{CoordPrecision: 2}
	k1 := BuildCacheKey(cfg, 23.12901, 113.26399, "food", 800, 20)
	k2 := BuildCacheKey(cfg, 23.12899, 113.26401, "food", 800, 20)
	assert.Equal(t, k1, k2, "coordinates rounding to the same precision must share a cache key")
}

func TestMemoryCache_SetGetWithinTTL(t *testing.T) {
	c := NewMemoryCache()
	value := []model.PoiResult{{Provider: "mock", ProviderID: "1", Name: "Old Town"}}
	c.Set(context.Background(), "k", value, 50*time.Millisecond)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, value, got)
}
