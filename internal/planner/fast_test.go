package planner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/geocode"
)

// stubPoiService returns a fixed, deterministically-ordered candidate set
// regardless of the query, standing in for the cache/db/api waterfall.
type stubPoiService struct {
	results []model.PoiResult
}

func (s *stubPoiService) Around(_ context.Context, _, _ float64, poiType string, _, limit int) ([]model.PoiResult, model.PoiMeta, error) {
	out := make([]model.PoiResult, 0, len(s.results))
	for _, r := range s.results {
		if r.Category != poiType {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, model.PoiMeta{Source: "db"}, nil
}

type stubPoiRepo struct{}

func (stubPoiRepo) Upsert(context.Context, []model.Poi) error          { return nil }
func (stubPoiRepo) FindByID(context.Context, uint) (*model.Poi, error) { return nil, nil }
func (stubPoiRepo) FindByDestination(context.Context, string, int) ([]model.Poi, error) {
	return nil, nil
}

type stubGeocoder struct{ result geocode.Result }

func (s stubGeocoder) ResolveCityCenter(context.Context, string) (geocode.Result, error) {
	return s.result, nil
}

func fixtureCandidates() []model.PoiResult {
	return []model.PoiResult{
		{Provider: "mock", ProviderID: "1", Name: "Old Town", Category: "sight", Rating: 4.8, Lat: 23.1, Lng: 113.2},
		{Provider: "mock", ProviderID: "2", Name: "Riverside Park", Category: "sight", Rating: 4.5, Lat: 23.11, Lng: 113.21},
		{Provider: "mock", ProviderID: "3", Name: "Noodle House", Category: "food", Rating: 4.6, Lat: 23.12, Lng: 113.22},
		{Provider: "mock", ProviderID: "4", Name: "Dim Sum Corner", Category: "food", Rating: 4.4, Lat: 23.13, Lng: 113.23},
	}
}

func newTestFastPlanner() *FastPlanner {
	cfg := config.PlannerConfig{
		DefaultDayStart:    "09:00",
		DefaultDayEnd:      "21:00",
		DefaultSlotMinutes: 90,
		MaxDays:            14,
		FastRandomSeed:     42,
		FastPoiLimitPerDay: 6,
		FastTransportMode:  "walk",
	}
	poiCfg := config.PoiConfig{DefaultRadiusM: 1000}
	return NewFastPlanner(cfg, poiCfg, &stubPoiService{results: fixtureCandidates()}, stubPoiRepo{},
		stubGeocoder{result: geocode.Result{Lat: 23.13, Lng: 113.26, Source: "deterministic"}}, nil)
}

func sampleRequest() model.PlanRequest {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	seed := int64(42)
	return model.PlanRequest{
		UserID:      1,
		Destination: "Guangzhou",
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 1),
		Mode:        model.ModeFast,
		Preferences: model.Preferences{Interests: []string{"food", "sight"}, Pace: "normal"},
		Seed:        &seed,
	}
}

// TestFastPlanner_Deterministic covers spec §8 property 1: same request +
// same seed + same POI snapshot yields byte-identical plans (ignoring
// trace_id/timing, neither of which the fast planner emits).
func TestFastPlanner_Deterministic(t *testing.T) {
	p := newTestFastPlanner()
	req := sampleRequest()

	plan1, _, err := p.Plan(context.Background(), req)
	require.NoError(t, err)
	plan2, _, err := p.Plan(context.Background(), req)
	require.NoError(t, err)

	b1, err := json.Marshal(plan1)
	require.NoError(t, err)
	b2, err := json.Marshal(plan2)
	require.NoError(t, err)
	assert.JSONEq(t, string(b1), string(b2))
}

func TestFastPlanner_DayCountMatchesRange(t *testing.T) {
	p := newTestFastPlanner()
	req := sampleRequest()
	req.EndDate = req.StartDate.AddDate(0, 0, 2) // 3 days

	plan, _, err := p.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, plan.DayCards, 3)
	assert.Equal(t, 3, plan.DayCount)
	for i, dc := range plan.DayCards {
		assert.Equal(t, i, dc.DayIndex)
		assert.Equal(t, req.StartDate.AddDate(0, 0, i).Format("2006-01-02"), dc.Date.Format("2006-01-02"))
	}
}

func TestFastPlanner_DenseOrderIndex(t *testing.T) {
	p := newTestFastPlanner()
	plan, _, err := p.Plan(context.Background(), sampleRequest())
	require.NoError(t, err)
	for _, dc := range plan.DayCards {
		for i, sub := range dc.SubTrips {
			assert.Equal(t, i, sub.OrderIndex)
		}
	}
}

func TestFastPlanner_RangeExceeded(t *testing.T) {
	p := newTestFastPlanner()
	req := sampleRequest()
	req.EndDate = req.StartDate.AddDate(0, 0, 20) // 21 days > max_days=14

	_, _, err := p.Plan(context.Background(), req)
	require.Error(t, err)
}

// TestFastPlanner_EmptyCandidates_FreeExploration covers the boundary
// behavior: an empty candidate pool degrades every slot to free
// exploration rather than failing (spec §8).
func TestFastPlanner_EmptyCandidates_FreeExploration(t *testing.T) {
	cfg := config.PlannerConfig{
		DefaultDayStart:    "09:00",
		DefaultDayEnd:      "21:00",
		DefaultSlotMinutes: 90,
		MaxDays:            14,
		FastRandomSeed:     1,
		FastTransportMode:  "walk",
	}
	poiCfg := config.PoiConfig{DefaultRadiusM: 1000}
	p := NewFastPlanner(cfg, poiCfg, &stubPoiService{}, stubPoiRepo{},
		stubGeocoder{result: geocode.Result{Lat: 0, Lng: 0}}, nil)

	plan, _, err := p.Plan(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NotEmpty(t, plan.DayCards)
	for _, dc := range plan.DayCards {
		for _, sub := range dc.SubTrips {
			assert.Equal(t, "自由探索", sub.Activity)
		}
	}
}
